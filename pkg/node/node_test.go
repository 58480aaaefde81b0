package node

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/baderanaas/gostoryd/pkg/core/config"
	"github.com/baderanaas/gostoryd/pkg/core/events"
)

// newTestDir mirrors the teacher's pkg/libp2p newTestDir helper: a scratch
// identity directory cleaned up at the end of the test.
func newTestDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "gostoryd-test-")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, os.RemoveAll(dir)) })
	return dir
}

func newTestNode(t *testing.T, ctx context.Context) *Node {
	n, err := New(ctx, 0, newTestDir(t), config.Default(), Deps{})
	require.NoError(t, err)
	go n.Run()
	t.Cleanup(func() { require.NoError(t, n.Close()) })
	return n
}

func TestNewBuildsLiveHost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := newTestNode(t, ctx)
	require.NotNil(t, n.host)
	require.NotNil(t, n.dht)
	require.NotNil(t, n.pubsub)
}

func TestDialConnectsTwoNodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n1 := newTestNode(t, ctx)
	n2 := newTestNode(t, ctx)

	addr, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: n2.host.ID(), Addrs: n2.host.Addrs()})
	require.NoError(t, err)

	require.NoError(t, n1.Dial(addr[0].String()))

	require.Eventually(t, func() bool {
		for _, p := range n1.host.Network().Peers() {
			if p == n2.host.ID() {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)
}

// TestPublishAndSubscribeChannelRoundTrip asserts that bytes passed to the
// public Publish command arrive at a subscribed peer exactly as given and
// decode into the expected wire struct — not merely that Publish itself
// returns no error, which publishJSON's earlier base64-wrapping bug would
// also have passed.
func TestPublishAndSubscribeChannelRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n1, err := New(ctx, 0, newTestDir(t), config.Default(), Deps{})
	require.NoError(t, err)
	go n1.Run()
	t.Cleanup(func() { require.NoError(t, n1.Close()) })

	recorder := &events.Recorder{}
	n2, err := New(ctx, 0, newTestDir(t), config.Default(), Deps{Sink: recorder})
	require.NoError(t, err)
	go n2.Run()
	t.Cleanup(func() { require.NoError(t, n2.Close()) })

	addr, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: n2.host.ID(), Addrs: n2.host.Addrs()})
	require.NoError(t, err)
	require.NoError(t, n1.Dial(addr[0].String()))

	require.NoError(t, n1.SubscribeChannel("general"))
	require.NoError(t, n2.SubscribeChannel("general"))

	time.Sleep(500 * time.Millisecond)

	payload := []byte(`{"story":{"id":1,"origin_peer_id":"p1","name":"n","channel":"general"},"publisher":"p1"}`)
	require.NoError(t, n1.Publish(StoriesTopic, payload))

	require.Eventually(t, func() bool {
		for _, e := range recorder.Events {
			if e.Kind == events.StoryReceived && e.Story.ID == 1 {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)
}

func TestShutdownStopsEventLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := newTestDir(t)
	n, err := New(ctx, 0, dir, config.Default(), Deps{})
	require.NoError(t, err)
	go n.Run()

	require.NoError(t, n.Shutdown())

	select {
	case <-n.done:
	case <-time.After(5 * time.Second):
		t.Fatal("event loop did not stop after Shutdown")
	}
	require.NoError(t, n.host.Close())
}

func TestAliasAnnouncementPropagatesToPeerRecord(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n1 := newTestNode(t, ctx)
	n2 := newTestNode(t, ctx)

	addr, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: n2.host.ID(), Addrs: n2.host.Addrs()})
	require.NoError(t, err)
	require.NoError(t, n1.Dial(addr[0].String()))

	time.Sleep(500 * time.Millisecond)
	require.NoError(t, n2.SetAlias("bob"))

	require.Eventually(t, func() bool {
		id, ok := n1.peerByAlias("bob")
		return ok && id == n2.host.ID()
	}, 5*time.Second, 50*time.Millisecond)
}

// TestCommandNotStarvedBySwarmEventFlood covers §4.10's priority order: the
// UI command channel must not be starved by a burst of network events. It
// floods n.swarmEvents continuously while a command is outstanding and
// asserts the command still completes promptly, which would not hold under
// a flat multi-way select where Go picks a ready case pseudo-randomly.
func TestCommandNotStarvedBySwarmEventFlood(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := newTestNode(t, ctx)

	floodPeer, err := peer.Decode("QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N")
	require.NoError(t, err)

	stopFlood := make(chan struct{})
	defer close(stopFlood)
	go func() {
		for {
			select {
			case <-stopFlood:
				return
			case n.swarmEvents <- swarmEvent{connected: false, peerID: floodPeer}:
			}
		}
	}()

	done := make(chan error, 1)
	go func() { done <- n.SetAlias("alice") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("command starved by swarm event flood")
	}
}

func TestSendDirectToUnknownAliasQueuesForRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := newTestNode(t, ctx)
	require.NoError(t, n.SetAlias("alice"))
	require.NoError(t, n.SendDirect("bob", "hello bob"))

	require.Eventually(t, func() bool {
		return n.dmretry.Len() == 1
	}, time.Second, 10*time.Millisecond)
}
