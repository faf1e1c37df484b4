package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
	"consentledger/pkg/requestcontext"
)

// ErrorResponse is the JSON body of every error answer.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	Retryable        bool   `json:"retryable,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Errors after WriteHeader cannot change the status code, so we ignore encoding errors.
	_ = json.NewEncoder(w).Encode(response)
}

// WriteError centralizes domain error translation to HTTP responses.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		resp := ErrorResponse{
			Error:     DomainCodeToHTTPCode(domainErr.Code),
			Retryable: dErrors.IsRetryable(err),
		}
		// Internal failures never leak their message.
		if domainErr.Code != dErrors.CodeInternal {
			resp.ErrorDescription = domainErr.Message
		}
		WriteJSON(w, DomainCodeToHTTPStatus(domainErr.Code), resp)
		return
	}

	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error: DomainCodeToHTTPCode(dErrors.CodeInternal),
	})
}

// DomainCodeToHTTPStatus translates domain error codes to HTTP status codes.
func DomainCodeToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidIntent, dErrors.CodeInvariantViolation:
		return http.StatusBadRequest
	case dErrors.CodeConflict, dErrors.CodeIllegalTransition:
		return http.StatusConflict
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden, dErrors.CodeAuthorizationDenied:
		return http.StatusForbidden
	case dErrors.CodeSubmissionRejected:
		return http.StatusUnprocessableEntity
	case dErrors.CodeTransactionFailed:
		return http.StatusBadGateway
	case dErrors.CodeSubmissionError, dErrors.CodeTransientQuery:
		return http.StatusServiceUnavailable
	case dErrors.CodeTimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// DomainCodeToHTTPCode translates domain error codes to the error string of the JSON body.
func DomainCodeToHTTPCode(code dErrors.Code) string {
	switch code {
	case dErrors.CodeNotFound:
		return "not_found"
	case dErrors.CodeBadRequest:
		return "bad_request"
	case dErrors.CodeValidation, dErrors.CodeInvariantViolation, dErrors.CodeInvalidIntent:
		return "validation_error"
	case dErrors.CodeConflict:
		return "conflict"
	case dErrors.CodeIllegalTransition:
		return "illegal_transition"
	case dErrors.CodeUnauthorized:
		return "unauthorized"
	case dErrors.CodeForbidden, dErrors.CodeAuthorizationDenied:
		return "forbidden"
	case dErrors.CodeSubmissionRejected:
		return "submission_rejected"
	case dErrors.CodeSubmissionError:
		return "submission_error"
	case dErrors.CodeTransientQuery:
		return "ledger_unavailable"
	case dErrors.CodeTransactionFailed:
		return "transaction_failed"
	case dErrors.CodeTimedOut:
		return "confirmation_timeout"
	default:
		return "internal_error"
	}
}

// RequireIdentity extracts the authenticated address from context.
// Returns a domain error suitable for HTTP response on failure.
func RequireIdentity(ctx context.Context, logger *slog.Logger) (id.Address, error) {
	identity, ok := requestcontext.Identity(ctx)
	if !ok || identity.IsZero() {
		if logger != nil {
			logger.ErrorContext(ctx, "identity missing from context despite auth middleware",
				"request_id", requestcontext.RequestID(ctx))
		}
		return "", dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return identity, nil
}
