package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "consentledger/pkg/domain-errors"
	"consentledger/pkg/requestcontext"
)

// Body hooks run in this order after decoding. Request types implement the
// ones they need.
type (
	Sanitizer  interface{ Sanitize() }
	Normalizer interface{ Normalize() }
	Validator  interface{ Validate() error }
)

// Prepare runs the Sanitize, Normalize and Validate hooks req implements.
// Validation failures that are not domain errors become CodeValidation.
func Prepare(req any) error {
	if s, ok := req.(Sanitizer); ok {
		s.Sanitize()
	}
	if n, ok := req.(Normalizer); ok {
		n.Normalize()
	}
	v, ok := req.(Validator)
	if !ok {
		return nil
	}
	err := v.Validate()
	if err == nil {
		return nil
	}
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	return dErrors.New(dErrors.CodeValidation, err.Error())
}

// DecodeBody reads exactly one JSON object from the request body into T and
// prepares it. On failure the error response is already written and ok is
// false.
func DecodeBody[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (req *T, ok bool) {
	ctx := r.Context()
	req = new(T)

	dec := json.NewDecoder(r.Body)
	err := dec.Decode(req)
	if err == nil && dec.More() {
		err = errors.New("trailing data after JSON object")
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:            "request_too_large",
				ErrorDescription: "request body exceeds the size limit",
			})
			return nil, false
		}
		logger.WarnContext(ctx, "failed to decode request body",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		msg := "invalid request body"
		if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, msg))
		return nil, false
	}

	if err := Prepare(req); err != nil {
		logger.WarnContext(ctx, "invalid request",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		WriteError(w, err)
		return nil, false
	}
	return req, true
}
