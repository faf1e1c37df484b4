package domainerrors

import "errors"

// Code represents a domain error category independent of transport layer.
// These codes describe what went wrong in consent or ledger terms, not HTTP terms.
type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_failed"
	CodeInternal           Code = "internal_error"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeInvariantViolation Code = "invariant_violation"

	// Consent lifecycle and ledger protocol codes.
	CodeInvalidIntent       Code = "invalid_intent"       // Local shape validation failed before any I/O
	CodeIllegalTransition   Code = "illegal_transition"   // State machine rejected the transition
	CodeAuthorizationDenied Code = "authorization_denied" // Signer refused or identity not allowed
	CodeSubmissionRejected  Code = "submission_rejected"  // Ledger rejected the signed payload
	CodeSubmissionError     Code = "submission_error"     // Submission parameters could not be fetched
	CodeTransientQuery      Code = "transient_query"      // Ledger query failed, safe to retry
	CodeTransactionFailed   Code = "transaction_failed"   // Ledger reported a pool error for the transaction
	CodeTimedOut            Code = "timed_out"            // Polling ceiling reached without a terminal result
	CodeDecryptionFailed    Code = "decryption_failed"    // Authenticated decryption failed closed
)

// retryable lists the codes a caller may retry without rebuilding the intent.
var retryable = map[Code]bool{
	CodeSubmissionError: true,
	CodeTransientQuery:  true,
	CodeTimedOut:        true,
}

// Error wraps domain or infrastructure failures with a stable code.
// It is transport-agnostic and can be used across service, store, and ledger layers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code is preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost domain error, or CodeInternal for
// anything that is not a domain error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the failure is transient. Terminal failures
// (invalid intent, illegal transition, rejection, denial) return false.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return retryable[CodeOf(err)]
}
