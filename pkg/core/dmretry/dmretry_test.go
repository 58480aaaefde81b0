package dmretry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/baderanaas/gostoryd/pkg/core/clock"
)

func newQueue() (*Queue, *clock.Fake) {
	fake := clock.NewFake(time.Unix(0, 0))
	return New(DefaultConfig(), fake), fake
}

func TestEnqueueNotDueImmediately(t *testing.T) {
	q, _ := newQueue()
	q.Enqueue("m1", "alice", "hi")
	require.Empty(t, q.DueForTimer())
	require.Equal(t, 1, q.Len())
}

func TestDueForTimerAfterInterval(t *testing.T) {
	q, fake := newQueue()
	q.Enqueue("m1", "alice", "hi")
	fake.Advance(31 * time.Second)
	due := q.DueForTimer()
	require.Len(t, due, 1)
	require.Equal(t, "m1", due[0].ID)
}

func TestDueForConnectionMatchesByName(t *testing.T) {
	q, _ := newQueue()
	q.Enqueue("m1", "alice", "hi")
	q.Enqueue("m2", "bob", "hey")
	due := q.DueForConnection("alice")
	require.Len(t, due, 1)
	require.Equal(t, "m1", due[0].ID)
}

func TestRecordAttemptExhaustsAfterMax(t *testing.T) {
	q, fake := newQueue()
	q.Enqueue("m1", "alice", "hi")

	require.False(t, q.RecordAttempt("m1")) // attempt 1
	fake.Advance(31 * time.Second)
	require.False(t, q.RecordAttempt("m1")) // attempt 2
	fake.Advance(31 * time.Second)
	require.True(t, q.RecordAttempt("m1")) // attempt 3 == MaxAttempts -> exhausted
}

func TestRemoveDropsEntry(t *testing.T) {
	q, _ := newQueue()
	q.Enqueue("m1", "alice", "hi")
	q.Remove("m1")
	_, ok := q.Get("m1")
	require.False(t, ok)
	require.Equal(t, 0, q.Len())
}

func TestDueForConnectionDisabledByConfig(t *testing.T) {
	q, _ := newQueue()
	q.SetConfig(Config{MaxAttempts: 3, RetryInterval: 30 * time.Second, EnableConnectionRetries: false, EnableTimedRetries: true})
	q.Enqueue("m1", "alice", "hi")

	require.Empty(t, q.DueForConnection("alice"))
}

func TestDueForTimerDisabledByConfig(t *testing.T) {
	q, fake := newQueue()
	q.SetConfig(Config{MaxAttempts: 3, RetryInterval: 30 * time.Second, EnableConnectionRetries: true, EnableTimedRetries: false})
	q.Enqueue("m1", "alice", "hi")
	fake.Advance(31 * time.Second)

	require.Empty(t, q.DueForTimer())
}

// TestConcurrentAccessDoesNotRace exercises the mutex added so that
// tickDMRetryTimer (running on the event-loop goroutine) and
// drainPendingForPeer (spawned with go from handleSwarmEvent) can safely
// touch the same queue at once: one goroutine enqueues/records attempts
// while another concurrently scans DueForTimer/DueForConnection, mirroring
// the two real call sites in pkg/node.
func TestConcurrentAccessDoesNotRace(t *testing.T) {
	q, fake := newQueue()

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			id := "m" + string(rune('a'+i%26))
			q.Enqueue(id, "alice", "hi")
			q.RecordAttempt(id)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = q.DueForTimer()
			_ = q.DueForConnection("alice")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			fake.Advance(time.Second)
			_ = q.Len()
		}
	}()

	wg.Wait()
}

func TestSetConfigPreservesPendingMessages(t *testing.T) {
	q, _ := newQueue()
	q.Enqueue("m1", "alice", "hi")

	q.SetConfig(Config{MaxAttempts: 1, RetryInterval: time.Second, EnableConnectionRetries: false, EnableTimedRetries: true})

	require.Equal(t, 1, q.Len())
	_, ok := q.Get("m1")
	require.True(t, ok)
}
