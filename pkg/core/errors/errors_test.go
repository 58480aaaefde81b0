package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesOnKindAndDetail(t *testing.T) {
	err := New(Crypto, DetailUnknownRecipientKey, nil)
	require.True(t, errors.Is(err, ErrUnknownRecipientKey))
	require.False(t, errors.Is(err, ErrDecryptionFailed))
}

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	cause := errors.New("boom")
	base := New(Crypto, DetailDecryptionFailed, cause)
	wrapped := fmt.Errorf("decrypt failed: %w", base)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	require.Equal(t, Crypto, kind)
}

func TestAsExtractsConcreteError(t *testing.T) {
	wrapped := fmt.Errorf("wrapping: %w", New(Transport, "dial failed", nil))

	var e *Error
	require.True(t, As(wrapped, &e))
	require.Equal(t, Transport, e.Kind)
}
