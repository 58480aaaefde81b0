// Package dmretry implements §4.8's DMRetry component: an in-memory queue of
// outbound direct messages that failed immediate delivery, advanced by a
// connection trigger and a timer trigger. The teacher has no retry queue at
// all — SendPrivateMessage (pkg/libp2p/messaging.go) either succeeds or
// returns an error to the caller with no further attempt — so this is new,
// grounded on the same owned-map-plus-mutex shape the teacher uses for
// peers/joinedTopics/messageHistory throughout pkg/libp2p/node.go.
package dmretry

import (
	"sync"
	"time"

	"github.com/baderanaas/gostoryd/pkg/core/clock"
)

// Pending is one outbound direct message awaiting retry.
type Pending struct {
	ID             string
	ToName         string
	Body           string
	Attempts       int
	NextAttemptAt  time.Time
	FirstEnqueued  time.Time
}

// Config carries the §4.8/§6 direct_message policy knobs.
type Config struct {
	MaxAttempts            int
	RetryInterval          time.Duration
	EnableConnectionRetries bool
	EnableTimedRetries     bool
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:             3,
		RetryInterval:           30 * time.Second,
		EnableConnectionRetries: true,
		EnableTimedRetries:      true,
	}
}

// Queue is the DMRetry component's passive state. It is consulted from the
// event-loop goroutine (tickDMRetryTimer) and also from goroutines the event
// loop spawns per connection (drainPendingForPeer), so pending is guarded by
// a mutex exactly as breaker.Breaker guards its per-peer map.
type Queue struct {
	mu      sync.Mutex
	cfg     Config
	clk     clock.Clock
	pending map[string]*Pending // keyed by message ID
}

func New(cfg Config, clk clock.Clock) *Queue {
	return &Queue{cfg: cfg, clk: clk, pending: make(map[string]*Pending)}
}

// SetConfig applies a new policy without discarding already-pending
// messages, for the §6 ReloadConfig command.
func (q *Queue) SetConfig(cfg Config) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cfg = cfg
}

// Enqueue adds a new pending direct message, scheduled for its first retry
// one interval from now (the immediate attempt already happened via the
// §4.7 fallback chain before enqueueing).
func (q *Queue) Enqueue(id, toName, body string) *Pending {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clk.Now()
	p := &Pending{
		ID:            id,
		ToName:        toName,
		Body:          body,
		Attempts:      0,
		NextAttemptAt: now.Add(q.cfg.RetryInterval),
		FirstEnqueued: now,
	}
	q.pending[id] = p
	return p
}

// Remove drops a pending message, called on successful delivery or final
// failure so exactly one terminal event is ever emitted for it.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, id)
}

// Get returns the pending entry for id, if still queued.
func (q *Queue) Get(id string) (*Pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.pending[id]
	return p, ok
}

// DueForConnection returns every pending message addressed to toName, for
// the connection-triggered retry path: a new authenticated connection whose
// alias matches a pending target should attempt delivery immediately
// regardless of NextAttemptAt.
func (q *Queue) DueForConnection(toName string) []*Pending {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.cfg.EnableConnectionRetries {
		return nil
	}
	var due []*Pending
	for _, p := range q.pending {
		if p.ToName == toName {
			due = append(due, p)
		}
	}
	return due
}

// DueForTimer returns every pending message whose NextAttemptAt has
// elapsed, for the 30s timer-triggered retry path.
func (q *Queue) DueForTimer() []*Pending {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.cfg.EnableTimedRetries {
		return nil
	}
	now := q.clk.Now()
	var due []*Pending
	for _, p := range q.pending {
		if !now.Before(p.NextAttemptAt) {
			due = append(due, p)
		}
	}
	return due
}

// RecordAttempt increments the attempt counter and reschedules the next
// retry. It returns true if the message has now exhausted its retry budget
// (MaxAttempts reached) and should be removed with a failure event.
func (q *Queue) RecordAttempt(id string) (exhausted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.pending[id]
	if !ok {
		return true
	}
	p.Attempts++
	if p.Attempts >= q.cfg.MaxAttempts {
		return true
	}
	p.NextAttemptAt = q.clk.Now().Add(q.cfg.RetryInterval)
	return false
}

// Len reports the number of messages currently pending retry.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
