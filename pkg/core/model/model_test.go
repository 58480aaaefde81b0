package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidAlias(t *testing.T) {
	require.True(t, ValidAlias("bob_42"))
	require.False(t, ValidAlias(""))
	require.False(t, ValidAlias("has space"))
	require.False(t, ValidAlias(strings.Repeat("a", 31)))
}

func TestValidChannelName(t *testing.T) {
	require.True(t, ValidChannelName("news.daily"))
	require.False(t, ValidChannelName("bad/name"))
}

func TestSanitizeStripsAnsiAndControlBytes(t *testing.T) {
	in := "\x1b[31mred\x1b[0m\x00text\x01"
	out := Sanitize(in)
	require.Equal(t, "redtext", out)
}

func TestValidateStoryEnforcesLengthLimits(t *testing.T) {
	ok := Story{Name: "n", Header: "h", Body: "b", Channel: "news"}
	require.True(t, ValidateStory(ok))

	tooLong := Story{Name: strings.Repeat("x", MaxStoryName+1), Channel: "news"}
	require.False(t, ValidateStory(tooLong))
}

func TestRelayEnvelopeSignedFieldsIncludesHopCount(t *testing.T) {
	e1 := RelayEnvelope{Sender: "a", Target: "b", Ciphertext: []byte("c"), Nonce: []byte("n"), Timestamp: 100, HopCount: 0}
	e2 := e1
	e2.HopCount = 1

	require.NotEqual(t, e1.SignedFields(), e2.SignedFields())
}
