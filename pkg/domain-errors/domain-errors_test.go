package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DomainErrorsSuite tests the domain error primitives.
//
// These primitives classify every failure crossing the ledger and store
// boundaries, so "wrap preserves code" and "retryable vs terminal" must hold.
type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeIllegalTransition, Message: "cannot grant a revoked consent"}
		s.Equal("cannot grant a revoked consent", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodeTimedOut}
		s.Equal("timed_out", err.Error())
	})
}

func (s *DomainErrorsSuite) TestIsMatching() {
	s.Run("matches by code only", func() {
		err1 := &Error{Code: CodeSubmissionRejected, Message: "fee too low"}
		err2 := &Error{Code: CodeSubmissionRejected, Message: "malformed"}
		s.True(err1.Is(err2))
	})

	s.Run("does not match different codes", func() {
		s.False((&Error{Code: CodeTimedOut}).Is(&Error{Code: CodeInternal}))
	})

	s.Run("works with errors.Is through chain", func() {
		inner := &Error{Code: CodeNotFound, Message: "original"}
		wrapped := fmt.Errorf("store: %w", inner)
		s.True(errors.Is(wrapped, &Error{Code: CodeNotFound}))
	})
}

func (s *DomainErrorsSuite) TestWrap() {
	s.Run("preserves original domain code when wrapping domain error", func() {
		original := New(CodeAuthorizationDenied, "signer refused")
		wrapped := Wrap(original, CodeInternal, "submit failed")

		var domainErr *Error
		s.Require().True(errors.As(wrapped, &domainErr))
		s.Equal(CodeAuthorizationDenied, domainErr.Code)
		s.Equal("submit failed", domainErr.Message)
	})

	s.Run("uses provided code when wrapping non-domain error", func() {
		original := errors.New("connection reset")
		wrapped := Wrap(original, CodeTransientQuery, "status query failed")
		s.True(HasCode(wrapped, CodeTransientQuery))
		s.True(errors.Is(wrapped, original))
	})
}

func (s *DomainErrorsSuite) TestCodeOf() {
	s.Equal(CodeIllegalTransition, CodeOf(New(CodeIllegalTransition, "x")))
	s.Equal(CodeInternal, CodeOf(errors.New("plain")))
}

func (s *DomainErrorsSuite) TestIsRetryable() {
	cases := []struct {
		code      Code
		retryable bool
	}{
		{CodeTransientQuery, true},
		{CodeSubmissionError, true},
		{CodeTimedOut, true},
		{CodeInvalidIntent, false},
		{CodeIllegalTransition, false},
		{CodeAuthorizationDenied, false},
		{CodeSubmissionRejected, false},
		{CodeDecryptionFailed, false},
	}
	for _, tc := range cases {
		s.Run(string(tc.code), func() {
			s.Equal(tc.retryable, IsRetryable(New(tc.code, "x")))
		})
	}
	s.False(IsRetryable(nil))
	s.False(IsRetryable(errors.New("plain")))
}
