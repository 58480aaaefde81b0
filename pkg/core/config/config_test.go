package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultPassesValidation(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestValidateCollectsEveryOffendingField(t *testing.T) {
	c := Default()
	c.Network.ConnectionMaintenanceIntervalSeconds = 5
	c.Relay.MaxHops = 9
	c.Network.MaxConnectionsPerPeer = 0

	err := Validate(c)
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	require.Len(t, ve.Fields, 3)
}

func TestLoadAppliesDefaultsForMissingFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"relay": {"max_hops": 2}}`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint8(2), c.Relay.MaxHops)
	require.Equal(t, uint32(30), c.Network.ConnectionMaintenanceIntervalSeconds)
}

func TestLoadIgnoresUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw, err := json.Marshal(map[string]any{
		"relay":         map[string]any{"max_hops": 1},
		"future_field":  "ignored",
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint8(1), c.Relay.MaxHops)
}

func TestValidateRejectsMalformedBootstrapPeer(t *testing.T) {
	c := Default()
	c.Bootstrap.BootstrapPeers = []string{"not-a-multiaddr"}

	err := Validate(c)
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	require.Len(t, ve.Fields, 1)
	require.Contains(t, ve.Fields[0].Field, "bootstrap_peers[0]")
}

func TestValidateAcceptsWellFormedBootstrapPeer(t *testing.T) {
	c := Default()
	c.Bootstrap.BootstrapPeers = []string{"/dnsaddr/bootstrap.libp2p.io/p2p/QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN"}

	require.NoError(t, Validate(c))
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"relay": {"max_hops": 9}}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
