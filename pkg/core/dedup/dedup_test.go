package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/baderanaas/gostoryd/pkg/core/clock"
)

func TestSeenOrAddFirstTimeReturnsFalse(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	s := New(10, time.Minute, fake)
	require.False(t, s.SeenOrAdd("a"))
	require.True(t, s.SeenOrAdd("a"))
	require.Equal(t, 1, s.Len())
}

func TestSeenOrAddExpiresAfterTTL(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	s := New(10, time.Minute, fake)
	require.False(t, s.SeenOrAdd("a"))

	fake.Advance(61 * time.Second)
	require.False(t, s.SeenOrAdd("a"))
}

func TestSeenOrAddEvictsOldestBeyondCapacity(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	s := New(2, time.Minute, fake)
	require.False(t, s.SeenOrAdd("a"))
	require.False(t, s.SeenOrAdd("b"))
	require.False(t, s.SeenOrAdd("c"))
	require.LessOrEqual(t, s.Len(), 2)
}
