// Package node: relay_wiring.go implements the §4.7 fallback chain for
// SendDirect and the §4.8 DMRetry connection/timer triggers, wiring the
// pure pkg/core/relay and pkg/core/dmretry components to the actual
// transport calls the teacher's SendPrivateMessage makes directly
// (pkg/libp2p/messaging.go) with no fallback at all.
package node

import (
	"encoding/json"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/baderanaas/gostoryd/pkg/core/events"
	"github.com/baderanaas/gostoryd/pkg/core/model"
)

// sendDirect is the §4.7 fallback chain entry point, invoked from the event
// loop for the SendDirect command.
func (n *Node) sendDirect(toAlias, body string) error {
	myAlias, _ := n.storage.Alias()
	id := newMessageID()

	if target, ok := n.peerByAlias(toAlias); ok && n.cfg.Relay.PreferDirect &&
		n.host.Network().Connectedness(target) == network.Connected {
		if ok, err := n.sendDirectMessageRequest(target, toAlias, body); ok && err == nil {
			n.emit(events.Event{Kind: events.DirectMessageDelivered, MsgID: id})
			return nil
		}
	}

	dm := model.DirectMessage{
		FromPeerID: n.host.ID().String(),
		FromName:   myAlias,
		ToName:     toAlias,
		Message:    body,
		Timestamp:  n.clk.Now().Unix(),
	}
	plaintext, err := json.Marshal(dm)
	if err != nil {
		return err
	}

	targetPeerID, known := n.relayTargetFor(toAlias)
	if known {
		env, err := n.relay.Build(targetPeerID, plaintext)
		if err == nil {
			if pubErr := n.publishJSON(RelayTopic, env); pubErr == nil {
				// Relay publish is a terminal outcome (§4.7 step 2
				// succeeding) — no DMRetry enqueue.
				return nil
			}
		}
	}

	// Else: the target's public key is unknown (or relay publish itself
	// failed), so this is the only remaining terminal outcome — queue for
	// retry.
	n.dmretry.Enqueue(id, toAlias, body)
	n.emit(events.Event{Kind: events.DirectMessageQueued, MsgID: id, Reason: "recipient offline; queued for retry"})
	return nil
}

// peerByAlias scans the peer address book for a peer currently known under
// alias, generalizing the flat linear search the teacher does over
// n.peers in exchangePeersWithNetwork (pkg/libp2p/discovery.go) into an
// alias-keyed lookup.
func (n *Node) peerByAlias(alias string) (peer.ID, bool) {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()
	for id, rec := range n.peers {
		if rec.Alias == alias {
			return id, true
		}
	}
	return peer.ID(""), false
}

// rememberPeerAlias records alias against peerIDStr in the address book,
// creating the entry if this is the first time the peer has been heard of
// (its AliasAnnouncement can arrive before any connection notification
// does). peerByAlias's linear scan only ever finds aliases written here.
func (n *Node) rememberPeerAlias(peerIDStr, alias string) {
	id, err := peer.Decode(peerIDStr)
	if err != nil {
		return
	}
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	rec, ok := n.peers[id]
	if !ok {
		rec = &model.PeerRecord{PeerID: peerIDStr}
		n.peers[id] = rec
	}
	rec.Alias = alias
}

// relayTargetFor resolves an alias to the peer ID string the crypto cache
// keys its public keys by, returning ok=false if we have never cached that
// peer's public key (the §4.7 "unknown recipient key" case).
func (n *Node) relayTargetFor(alias string) (string, bool) {
	id, ok := n.peerByAlias(alias)
	if !ok {
		return "", false
	}
	if _, known := n.crypto.PeerKey(id.String()); !known {
		return "", false
	}
	return id.String(), true
}

func (n *Node) doRequestStories(peerID string) error {
	if peerID != "" {
		p, err := peer.Decode(peerID)
		if err != nil {
			return err
		}
		_, err = n.requestStorySync(p, 0)
		return err
	}

	for _, c := range n.host.Network().Conns() {
		go n.requestStorySync(c.RemotePeer(), 0)
	}
	return nil
}

func (n *Node) doRequestDescription(peerID string) error {
	p, err := peer.Decode(peerID)
	if err != nil {
		return err
	}
	desc, err := n.requestNodeDescription(p)
	if err != nil {
		return err
	}
	n.log.Info("received node description", zap.String("peer_id", peerID), zap.Bool("set", desc.Set))
	return nil
}

// tickDMRetryTimer advances every pending direct message whose retry
// interval has elapsed, per §4.8's timer trigger.
func (n *Node) tickDMRetryTimer() {
	for _, p := range n.dmretry.DueForTimer() {
		n.retryPending(p.ID, p.ToName, p.Body)
	}
}

// drainPendingForPeer is the §4.8 connection trigger: a freshly connected
// peer whose alias matches a queued message gets an immediate retry.
func (n *Node) drainPendingForPeer(connected peer.ID) {
	n.peersMu.RLock()
	rec, ok := n.peers[connected]
	n.peersMu.RUnlock()
	if !ok || rec.Alias == "" {
		return
	}
	for _, p := range n.dmretry.DueForConnection(rec.Alias) {
		n.retryPending(p.ID, p.ToName, p.Body)
	}
}

func (n *Node) retryPending(id, toAlias, body string) {
	target, ok := n.peerByAlias(toAlias)
	if !ok || n.host.Network().Connectedness(target) != network.Connected {
		if exhausted := n.dmretry.RecordAttempt(id); exhausted {
			n.dmretry.Remove(id)
			n.emit(events.Event{Kind: events.DirectMessageFailed, MsgID: id, Reason: "max retry attempts exhausted"})
		}
		return
	}

	delivered, err := n.sendDirectMessageRequest(target, toAlias, body)
	if err == nil && delivered {
		n.dmretry.Remove(id)
		n.emit(events.Event{Kind: events.DirectMessageDelivered, MsgID: id})
		return
	}

	if exhausted := n.dmretry.RecordAttempt(id); exhausted {
		n.dmretry.Remove(id)
		n.emit(events.Event{Kind: events.DirectMessageFailed, MsgID: id, Reason: "max retry attempts exhausted"})
	}
}
