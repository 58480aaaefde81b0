// Package node: discovery.go generalizes the teacher's
// pkg/libp2p/discovery.go (startGlobalDiscovery/processPeerDiscovery, a
// single flat global namespace) into §4.3's two discovery mechanisms —
// local mDNS and Kademlia DHT advertise/FindPeers — run as worker tasks
// that only ever call host.Connect; any resulting connection surfaces back
// into the event loop through the swarm notifiee wired in eventloop.go, so
// discovery never touches n.peers or other loop-owned state directly.
package node

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	discovery "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/libp2p/go-libp2p/p2p/discovery/util"
	"go.uber.org/zap"

	"github.com/baderanaas/gostoryd/pkg/core/events"
)

const globalDiscoveryInterval = 30 * time.Second

// mdnsNotifee relays mDNS-discovered peers to the same host.Connect path
// the DHT discovery loop uses.
type mdnsNotifee struct {
	n *Node
}

func (m *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	m.n.connectDiscovered(pi, "mdns")
}

// startDiscovery launches the local mDNS service and the global DHT
// advertise/FindPeers loop. It is started once from Run, outside the main
// select loop, exactly as the teacher starts startGlobalDiscovery as its
// own goroutine rather than folding it into Bootstrap's call stack.
func (n *Node) startDiscovery() {
	svc := mdns.NewMdnsService(n.host, GlobalNamespace, &mdnsNotifee{n: n})
	if err := svc.Start(); err != nil {
		n.log.Warn("mdns discovery unavailable", zapErr(err))
	}

	if n.dht == nil {
		return
	}
	go n.runGlobalDHTDiscovery()
}

func (n *Node) runGlobalDHTDiscovery() {
	routingDiscovery := discovery.NewRoutingDiscovery(n.dht)
	util.Advertise(n.ctx, routingDiscovery, GlobalNamespace)

	ticker := time.NewTicker(globalDiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			peerChan, err := routingDiscovery.FindPeers(n.ctx, GlobalNamespace)
			if err != nil {
				continue
			}
			for p := range peerChan {
				n.connectDiscovered(p, "dht")
			}
		}
	}
}

func (n *Node) connectDiscovered(pi peer.AddrInfo, source string) {
	if pi.ID == n.host.ID() || len(pi.Addrs) == 0 {
		return
	}

	if !n.discoveredDedup.SeenOrAdd(pi.ID.String()) {
		addrs := make([]string, 0, len(pi.Addrs))
		for _, a := range pi.Addrs {
			addrs = append(addrs, a.String())
		}
		n.emit(events.Event{Kind: events.PeerDiscovered, PeerID: pi.ID.String(), Addrs: addrs, Reason: source})
	}

	if !n.breaker.Allow(pi.ID.String()) {
		return
	}

	ctx, cancel := context.WithTimeout(n.ctx, 15*time.Second)
	defer cancel()

	if err := n.host.Connect(ctx, pi); err != nil {
		if n.breaker.RecordFailure(pi.ID.String()) {
			n.emit(events.Event{Kind: events.NetworkErrorOccurred, PeerID: pi.ID.String(), ErrKind: "transport", ErrDetail: err.Error()})
		}
		return
	}
	n.breaker.RecordSuccess(pi.ID.String())
	n.log.Debug("connected via discovery", zap.String("source", source), zap.String("peer", pi.ID.String()))
}
