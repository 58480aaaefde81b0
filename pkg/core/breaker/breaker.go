// Package breaker implements §4.9's per-peer CircuitBreaker: closed / open
// / half-open state tracking for dial failures, handshake failures, and
// request-response timeouts/resets. The teacher has no circuit breaker at
// all (a flapping peer is retried forever by its ad-hoc tickers); this
// component is new, grounded on the state-machine shape the teacher already
// uses for bootstrap-like status (a small enum mutated only by its owner,
// read everywhere else) and on the corpus's general failure-threshold idiom
// seen in quailyquaily-aqua's rate-limited ingress gating.
package breaker

import (
	"sync"
	"time"

	"github.com/baderanaas/gostoryd/pkg/core/clock"
)

// State is the circuit breaker's per-peer state.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config holds the thresholds referenced in §3/§4.9. They are not fields of
// §6's unified configuration document: they are implementation constants,
// and pkg/node builds its breaker from DefaultConfig().
type Config struct {
	FailureThreshold int
	OpenTimeout      time.Duration
	MaxOpenTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		OpenTimeout:      30 * time.Second,
		MaxOpenTimeout:   10 * time.Minute,
	}
}

type peerState struct {
	state       State
	failures    int
	openUntil   time.Time
	openTimeout time.Duration
	lastFailure time.Time
}

// Breaker tracks circuit state for every peer the node has dialed, attempted
// to handshake, or exchanged requests with. Its map is guarded by a mutex:
// pkg/node calls it directly from the event loop and also from the discovery
// and per-connection sync goroutines.
type Breaker struct {
	mu    sync.Mutex
	cfg   Config
	clk   clock.Clock
	peers map[string]*peerState
}

func New(cfg Config, clk clock.Clock) *Breaker {
	return &Breaker{cfg: cfg, clk: clk, peers: make(map[string]*peerState)}
}

func (b *Breaker) get(peerID string) *peerState {
	ps, ok := b.peers[peerID]
	if !ok {
		ps = &peerState{state: Closed, openTimeout: b.cfg.OpenTimeout}
		b.peers[peerID] = ps
	}
	return ps
}

// Allow reports whether an operation against peerID may proceed. A peer in
// `open` is rejected without touching the network (§8 property 13) until
// its timeout elapses, at which point it transitions to `half_open` and a
// single probe is allowed through.
func (b *Breaker) Allow(peerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.get(peerID)
	switch ps.state {
	case Closed:
		return true
	case Open:
		if b.clk.Now().After(ps.openUntil) {
			ps.state = HalfOpen
			return true
		}
		return false
	case HalfOpen:
		// The single probe was let through by the open -> half_open
		// transition above; further calls are rejected until RecordSuccess
		// or RecordFailure resolves that probe.
		return false
	}
	return true
}

// RecordSuccess marks any completed handshake or request-response cycle
// against peerID, per §4.9/§9's decision to treat success uniformly across
// call sites. closed resets the failure counter; half-open recovers to
// closed.
func (b *Breaker) RecordSuccess(peerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.get(peerID)
	ps.state = Closed
	ps.failures = 0
	ps.openTimeout = b.cfg.OpenTimeout
}

// RecordFailure debits a dial failure, handshake failure, or request
// timeout/reset against peerID. In `closed`, failures accumulate until the
// threshold trips `open`. In `half_open`, a single failed probe reopens the
// circuit with a doubled (capped) timeout. It reports opened=true exactly
// when this call is the one that transitioned the circuit into `open`, so
// callers can surface a NetworkErrorOccurred event per §7's TransportError
// threshold rule without duplicating the threshold logic at the call site.
func (b *Breaker) RecordFailure(peerID string) (opened bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.get(peerID)
	ps.lastFailure = b.clk.Now()

	switch ps.state {
	case HalfOpen:
		ps.openTimeout *= 2
		if ps.openTimeout > b.cfg.MaxOpenTimeout {
			ps.openTimeout = b.cfg.MaxOpenTimeout
		}
		ps.state = Open
		ps.openUntil = ps.lastFailure.Add(ps.openTimeout)
		return true
	case Closed:
		ps.failures++
		if ps.failures >= b.cfg.FailureThreshold {
			ps.state = Open
			ps.openUntil = ps.lastFailure.Add(ps.openTimeout)
			return true
		}
	case Open:
		// Already open; extend nothing, the existing deadline stands.
	}
	return false
}

// StateOf returns the current state for peerID, defaulting to Closed for a
// peer that has never recorded a failure.
func (b *Breaker) StateOf(peerID string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	ps, ok := b.peers[peerID]
	if !ok {
		return Closed
	}
	return ps.state
}
