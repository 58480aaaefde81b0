// Package errors defines the typed error vocabulary raised by the core.
//
// Every component raises one of these kinds rather than an ad-hoc string, so
// callers can branch on Kind with errors.As instead of matching substrings.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies which component-level error category an Error belongs to.
type Kind string

const (
	Transport   Kind = "transport"
	Protocol    Kind = "protocol"
	Crypto      Kind = "crypto"
	Timeout     Kind = "timeout"
	Validation  Kind = "validation"
	Persistence Kind = "persistence"
)

// Error is the single wrapped-error type used across the core. Component
// code should construct one with New and let errors.As/errors.Is inspect it.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func New(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrUnknownRecipientKey) etc. work through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Detail == t.Detail
}

// Sentinel detail strings used by callers that need to branch on the precise
// failure, not just the Kind.
const (
	DetailUnknownRecipientKey = "unknown_recipient_key"
	DetailDecryptionFailed    = "decryption_failed"
	DetailVerificationFailed  = "verification_failed"
)

var (
	ErrUnknownRecipientKey = &Error{Kind: Crypto, Detail: DetailUnknownRecipientKey}
	ErrDecryptionFailed    = &Error{Kind: Crypto, Detail: DetailDecryptionFailed}
	ErrVerificationFailed  = &Error{Kind: Crypto, Detail: DetailVerificationFailed}
)

// As is a thin convenience wrapper over the standard library so call sites
// don't need to import both packages under different names.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}

func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
