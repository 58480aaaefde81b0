// Package bootstrap implements §4.4's pure Bootstrap state machine:
// not_started/in_progress/connected/failed driven by exponential backoff,
// generalizing the teacher's flat publicDHT slice iteration in
// pkg/libp2p/node.go's Bootstrap() into a configurable, persisted peer list
// with a testable retry schedule instead of a single best-effort pass.
package bootstrap

import (
	"time"

	"github.com/baderanaas/gostoryd/pkg/core/clock"
)

type Status string

const (
	NotStarted Status = "not_started"
	InProgress Status = "in_progress"
	Connected  Status = "connected"
	Failed     Status = "failed"
)

const (
	backoffMultiplier = 2
	backoffCap        = 80 * time.Second
)

// Config carries §6's bootstrap policy knobs.
type Config struct {
	Peers            []string
	RetryInterval    time.Duration
	MaxRetryAttempts int
	Timeout          time.Duration
}

func DefaultConfig(peers []string) Config {
	return Config{
		Peers:            peers,
		RetryInterval:    5 * time.Second,
		MaxRetryAttempts: 5,
		Timeout:          30 * time.Second,
	}
}

// Machine is the passive bootstrap state, advanced by the event loop on its
// bootstrap timer; it never dials peers itself.
type Machine struct {
	cfg          Config
	clk          clock.Clock
	status       Status
	attempts     int
	nextAttempt  time.Time
	currentDelay time.Duration
	failReason   string
}

func New(cfg Config, clk clock.Clock) *Machine {
	return &Machine{cfg: cfg, clk: clk, status: NotStarted, currentDelay: cfg.RetryInterval}
}

func (m *Machine) Status() Status { return m.status }

func (m *Machine) FailReason() string { return m.failReason }

func (m *Machine) Attempts() int { return m.attempts }

// Peers returns the configured bootstrap peer multiaddresses, in order.
func (m *Machine) Peers() []string { return m.cfg.Peers }

// Start transitions out of not_started and makes the first attempt due
// immediately.
func (m *Machine) Start() {
	if m.status != NotStarted {
		return
	}
	m.status = InProgress
	m.nextAttempt = m.clk.Now()
}

// Due reports whether an attempt should be made now. It also drives the
// failed --timer elapsed--> in_progress transition: once a failed machine's
// backed-off restart timer elapses, Due resumes bootstrapping and reports
// true for the same call, mirroring the state-mutating-query idiom
// breaker.Allow already uses for open --timeout--> half_open.
func (m *Machine) Due() bool {
	switch m.status {
	case InProgress:
		return !m.clk.Now().Before(m.nextAttempt)
	case Failed:
		if m.clk.Now().Before(m.nextAttempt) {
			return false
		}
		m.status = InProgress
		m.attempts = 0
		m.currentDelay = m.cfg.RetryInterval
		m.failReason = ""
		return true
	default:
		return false
	}
}

// RecordSuccess transitions to connected; any one successful connection
// ends the retry schedule.
func (m *Machine) RecordSuccess() {
	m.status = Connected
	m.failReason = ""
}

// RecordFailure debits an attempt and either schedules the next backed-off
// retry or, once MaxRetryAttempts is exhausted, transitions to failed.
func (m *Machine) RecordFailure(reason string) {
	m.attempts++
	if m.attempts >= m.cfg.MaxRetryAttempts {
		m.status = Failed
		m.failReason = reason
		m.nextAttempt = m.clk.Now().Add(backoffCap)
		return
	}

	m.nextAttempt = m.clk.Now().Add(m.currentDelay)
	m.currentDelay *= backoffMultiplier
	if m.currentDelay > backoffCap {
		m.currentDelay = backoffCap
	}
}

// Resume drives the connected --all connections lost--> in_progress
// transition: called once the swarm has zero remaining connections while the
// machine still believes it is connected, it restarts the retry schedule
// with the first attempt due immediately.
func (m *Machine) Resume() {
	if m.status != Connected {
		return
	}
	m.status = InProgress
	m.attempts = 0
	m.currentDelay = m.cfg.RetryInterval
	m.nextAttempt = m.clk.Now()
	m.failReason = ""
}

// Reset returns the machine to not_started, e.g. after ReloadConfig changes
// the bootstrap peer list.
func (m *Machine) Reset(cfg Config) {
	m.cfg = cfg
	m.status = NotStarted
	m.attempts = 0
	m.currentDelay = cfg.RetryInterval
	m.failReason = ""
}
