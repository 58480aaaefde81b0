package identity

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "gostoryd-identity-")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, os.RemoveAll(dir)) })
	return dir
}

func TestLoadGeneratesAndPersists(t *testing.T) {
	dir := newTestDir(t)

	id1, err := Load(dir)
	require.NoError(t, err)
	require.NotEmpty(t, id1.PeerID.String())

	id2, err := Load(dir)
	require.NoError(t, err)

	require.Equal(t, id1.PeerID, id2.PeerID)
	require.Equal(t, id1.Priv, id2.Priv)
}

func TestLoadLeavesNoTempFiles(t *testing.T) {
	dir := newTestDir(t)
	_, err := Load(dir)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, identityFileName, entries[0].Name())
}
