package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/baderanaas/gostoryd/pkg/core/clock"
)

func newBreaker() (*Breaker, *clock.Fake) {
	fake := clock.NewFake(time.Unix(0, 0))
	cfg := Config{FailureThreshold: 3, OpenTimeout: 30 * time.Second, MaxOpenTimeout: 10 * time.Minute}
	return New(cfg, fake), fake
}

func TestClosedUntilThreshold(t *testing.T) {
	b, _ := newBreaker()
	require.True(t, b.Allow("p1"))
	b.RecordFailure("p1")
	b.RecordFailure("p1")
	require.Equal(t, Closed, b.StateOf("p1"))
	require.True(t, b.Allow("p1"))

	b.RecordFailure("p1")
	require.Equal(t, Open, b.StateOf("p1"))
}

func TestOpenRejectsUntilTimeoutElapses(t *testing.T) {
	b, fake := newBreaker()
	b.RecordFailure("p1")
	b.RecordFailure("p1")
	b.RecordFailure("p1")
	require.Equal(t, Open, b.StateOf("p1"))
	require.False(t, b.Allow("p1"))

	fake.Advance(31 * time.Second)
	require.True(t, b.Allow("p1"))
	require.Equal(t, HalfOpen, b.StateOf("p1"))
}

func TestHalfOpenSuccessClosesAndResetsTimeout(t *testing.T) {
	b, fake := newBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure("p1")
	}
	fake.Advance(31 * time.Second)
	require.True(t, b.Allow("p1"))
	require.Equal(t, HalfOpen, b.StateOf("p1"))

	b.RecordSuccess("p1")
	require.Equal(t, Closed, b.StateOf("p1"))
	require.True(t, b.Allow("p1"))
}

func TestHalfOpenFailureDoublesTimeout(t *testing.T) {
	b, fake := newBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure("p1")
	}
	fake.Advance(31 * time.Second)
	require.True(t, b.Allow("p1")) // -> half-open

	b.RecordFailure("p1")
	require.Equal(t, Open, b.StateOf("p1"))

	// doubled timeout (60s) means 31s later it should still be rejected
	fake.Advance(31 * time.Second)
	require.False(t, b.Allow("p1"))

	fake.Advance(30 * time.Second)
	require.True(t, b.Allow("p1"))
}

func TestRecordFailureReportsOpenedOnlyOnTransition(t *testing.T) {
	b, _ := newBreaker()
	require.False(t, b.RecordFailure("p1"))
	require.False(t, b.RecordFailure("p1"))
	require.True(t, b.RecordFailure("p1"))
	require.False(t, b.RecordFailure("p1"))
}

func TestUnseenPeerDefaultsClosed(t *testing.T) {
	b, _ := newBreaker()
	require.Equal(t, Closed, b.StateOf("never-seen"))
	require.True(t, b.Allow("never-seen"))
}
