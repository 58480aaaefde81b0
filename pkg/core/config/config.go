// Package config defines the unified configuration document of §6 and
// validates it. Parsing the document itself is a two-line os.ReadFile +
// json.Unmarshal (Load, below); authoring it and wiring it to a CLI flag set
// is the excluded host's job (§1).
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/multiformats/go-multiaddr"
)

type Bootstrap struct {
	BootstrapPeers     []string `json:"bootstrap_peers"`
	RetryIntervalMs    uint32   `json:"retry_interval_ms"`
	MaxRetryAttempts   uint32   `json:"max_retry_attempts"`
	BootstrapTimeoutMs uint32   `json:"bootstrap_timeout_ms"`
}

type Network struct {
	ConnectionMaintenanceIntervalSeconds uint32 `json:"connection_maintenance_interval_seconds"`
	RequestTimeoutSeconds                uint32 `json:"request_timeout_seconds"`
	MaxConcurrentStreams                 uint32 `json:"max_concurrent_streams"`
	MaxConnectionsPerPeer                uint32 `json:"max_connections_per_peer"`
	MaxPendingIncoming                   uint32 `json:"max_pending_incoming"`
	MaxPendingOutgoing                   uint32 `json:"max_pending_outgoing"`
	MaxEstablishedTotal                  uint32 `json:"max_established_total"`
	ConnectionEstablishmentTimeoutSeconds uint32 `json:"connection_establishment_timeout_seconds"`
}

type Ping struct {
	IntervalSecs uint32 `json:"interval_secs"`
	TimeoutSecs  uint32 `json:"timeout_secs"`
}

type DirectMessage struct {
	MaxRetryAttempts       uint32 `json:"max_retry_attempts"`
	RetryIntervalSeconds   uint32 `json:"retry_interval_seconds"`
	EnableConnectionRetries bool  `json:"enable_connection_retries"`
	EnableTimedRetries     bool   `json:"enable_timed_retries"`
}

type Relay struct {
	EnableRelay      bool   `json:"enable_relay"`
	EnableForwarding bool   `json:"enable_forwarding"`
	MaxHops          uint8  `json:"max_hops"`
	PreferDirect     bool   `json:"prefer_direct"`
	RateLimitPerPeer uint32 `json:"rate_limit_per_peer"`
}

// Config is the single unified document of §6.
type Config struct {
	Bootstrap     Bootstrap     `json:"bootstrap"`
	Network       Network       `json:"network"`
	Ping          Ping          `json:"ping"`
	DirectMessage DirectMessage `json:"direct_message"`
	Relay         Relay         `json:"relay"`
}

// Default returns the configuration with every §4/§6 default applied.
func Default() Config {
	return Config{
		Bootstrap: Bootstrap{
			RetryIntervalMs:    5000,
			MaxRetryAttempts:   5,
			BootstrapTimeoutMs: 30000,
		},
		Network: Network{
			ConnectionMaintenanceIntervalSeconds:  30,
			RequestTimeoutSeconds:                 60,
			MaxConcurrentStreams:                  512,
			MaxConnectionsPerPeer:                 1,
			MaxPendingIncoming:                    10,
			MaxPendingOutgoing:                    10,
			MaxEstablishedTotal:                   100,
			ConnectionEstablishmentTimeoutSeconds:  30,
		},
		Ping: Ping{IntervalSecs: 30, TimeoutSecs: 10},
		DirectMessage: DirectMessage{
			MaxRetryAttempts:        3,
			RetryIntervalSeconds:    30,
			EnableConnectionRetries: true,
			EnableTimedRetries:      true,
		},
		Relay: Relay{
			EnableRelay:      true,
			EnableForwarding: true,
			MaxHops:          3,
			PreferDirect:     true,
			RateLimitPerPeer: 10,
		},
	}
}

// FieldError describes one offending field found during validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) String() string { return fmt.Sprintf("%s: %s", e.Field, e.Reason) }

// ValidationError lists every offending field; Error() renders all of them
// so a host can surface a single structured failure, per §6.
type ValidationError struct {
	Fields []FieldError
}

func (v *ValidationError) Error() string {
	s := "invalid configuration:"
	for _, f := range v.Fields {
		s += " [" + f.String() + "]"
	}
	return s
}

// Validate checks the document against the constraints named in §6 and
// fails fast with every offending field, not just the first.
func Validate(c Config) error {
	var fields []FieldError
	if c.Network.ConnectionMaintenanceIntervalSeconds < 30 {
		fields = append(fields, FieldError{"network.connection_maintenance_interval_seconds", "must be >= 30"})
	}
	if c.Relay.MaxHops > 3 {
		fields = append(fields, FieldError{"relay.max_hops", "must be <= 3"})
	}
	if c.Network.MaxConnectionsPerPeer == 0 {
		fields = append(fields, FieldError{"network.max_connections_per_peer", "must be >= 1"})
	}
	if c.Network.MaxPendingIncoming == 0 {
		fields = append(fields, FieldError{"network.max_pending_incoming", "must be >= 1"})
	}
	if c.Network.MaxPendingOutgoing == 0 {
		fields = append(fields, FieldError{"network.max_pending_outgoing", "must be >= 1"})
	}
	if c.Bootstrap.MaxRetryAttempts == 0 {
		fields = append(fields, FieldError{"bootstrap.max_retry_attempts", "must be >= 1"})
	}
	for i, addr := range c.Bootstrap.BootstrapPeers {
		if addr == "" {
			fields = append(fields, FieldError{fmt.Sprintf("bootstrap.bootstrap_peers[%d]", i), "must not be empty"})
			continue
		}
		if _, err := multiaddr.NewMultiaddr(addr); err != nil {
			fields = append(fields, FieldError{fmt.Sprintf("bootstrap.bootstrap_peers[%d]", i), "not a valid multiaddr: " + err.Error()})
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Load reads and validates the unified configuration document from path.
// Missing optional fields take the §6 defaults; unknown fields are ignored
// (json.Unmarshal's default behavior already satisfies both rules).
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	if err := Validate(c); err != nil {
		return Config{}, err
	}
	return c, nil
}
