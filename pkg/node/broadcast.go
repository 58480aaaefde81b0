// Package node: broadcast.go generalizes the teacher's single ChatMessage
// topic (pkg/libp2p/messaging.go JoinTopic/SendMessage/handlePubSubMessages)
// into four topics — the three §4.5 topics (stories, channels, relay) plus an
// alias-announcement topic — each with its own wire type, joined once when Run
// starts rather than on demand. Stories and channels each have a dedup set;
// relay envelopes go through the relay's replay set; alias announcements are
// not deduplicated.
package node

import (
	"encoding/json"
	"strconv"

	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/baderanaas/gostoryd/pkg/core/events"
	"github.com/baderanaas/gostoryd/pkg/core/model"
	"github.com/baderanaas/gostoryd/pkg/core/relay"
)

func (n *Node) joinBroadcastTopics() error {
	for _, name := range []string{StoriesTopic, ChannelsTopic, RelayTopic, AliasTopic} {
		t, err := n.pubsub.Join(name)
		if err != nil {
			return err
		}
		sub, err := t.Subscribe()
		if err != nil {
			return err
		}

		n.topicsMu.Lock()
		n.topics[name] = t
		n.topicsMu.Unlock()

		switch name {
		case StoriesTopic:
			go n.handleStoryMessages(sub)
		case ChannelsTopic:
			go n.handleChannelMessages(sub)
		case RelayTopic:
			go n.handleRelayMessages(sub)
		case AliasTopic:
			go n.handleAliasMessages(sub)
		}
	}
	return nil
}

func (n *Node) publishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return n.publishRaw(topic, data)
}

// publishRaw broadcasts data on topic unmodified. It is the only path the
// public Publish command (§6) should ever go through: data is already the
// wire-format bytes a host wants on the network, and running it back through
// json.Marshal (as publishJSON does for our own typed values) would
// base64-wrap it into a quoted JSON string no receiver's json.Unmarshal into
// a struct would ever decode.
func (n *Node) publishRaw(topic string, data []byte) error {
	n.topicsMu.RLock()
	t, ok := n.topics[topic]
	n.topicsMu.RUnlock()
	if !ok {
		return errNotJoined(topic)
	}
	return t.Publish(n.ctx, data)
}

func (n *Node) handleStoryMessages(sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return
		}
		if msg.GetFrom() == n.host.ID() {
			continue
		}

		var ps model.PublishedStory
		if err := json.Unmarshal(msg.GetData(), &ps); err != nil {
			continue
		}
		dedupKey := storyDedupKey(ps.Story)
		if n.storyDedup.SeenOrAdd(dedupKey) {
			continue
		}
		if !model.ValidateStory(ps.Story) {
			continue
		}

		if err := n.storage.SaveStory(ps.Story); err != nil {
			n.log.Warn("failed to persist received story", zapErr(err))
		}

		n.subsMu.RLock()
		_, subscribed := n.subscriptions[ps.Story.Channel]
		n.subsMu.RUnlock()
		if !subscribed {
			continue
		}

		n.emit(events.Event{Kind: events.StoryReceived, Story: ps.Story, PeerID: ps.Publisher})
	}
}

func (n *Node) handleChannelMessages(sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return
		}
		if msg.GetFrom() == n.host.ID() {
			continue
		}

		var pc model.PublishedChannel
		if err := json.Unmarshal(msg.GetData(), &pc); err != nil {
			continue
		}
		dedupKey := pc.Channel.Name + "|" + pc.Publisher
		if n.channelDedup.SeenOrAdd(dedupKey) {
			continue
		}
		if !model.ValidChannelName(pc.Channel.Name) {
			continue
		}

		if err := n.storage.SaveChannel(pc.Channel); err != nil {
			n.log.Warn("failed to persist received channel", zapErr(err))
		}
		n.emit(events.Event{Kind: events.ChannelReceived, Channel: pc.Channel, PeerID: pc.Publisher})
	}
}

func (n *Node) handleRelayMessages(sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return
		}
		if msg.GetFrom() == n.host.ID() {
			continue
		}

		var env model.RelayEnvelope
		if err := json.Unmarshal(msg.GetData(), &env); err != nil {
			continue
		}

		outcome, plaintext, forwarded, err := n.relay.Receive(env)
		if err != nil {
			n.log.Warn("relay envelope processing failed", zapErr(err))
			continue
		}

		switch outcome {
		case relay.OutcomeDeliveredLocally:
			var dm model.DirectMessage
			if err := json.Unmarshal(plaintext, &dm); err != nil {
				continue
			}
			n.emit(events.Event{Kind: events.DirectMessageReceived, DM: dm})
		case relay.OutcomeForwarded:
			if err := n.publishJSON(RelayTopic, forwarded); err != nil {
				n.log.Warn("failed to re-broadcast relay envelope", zapErr(err))
			}
		}
	}
}

// handleAliasMessages learns the alias a remote peer has announced for
// itself, writing it into the peer's address book entry so peerByAlias
// (relay_wiring.go) can resolve it for direct delivery and relay targeting.
func (n *Node) handleAliasMessages(sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return
		}
		if msg.GetFrom() == n.host.ID() {
			continue
		}

		var ann model.AliasAnnouncement
		if err := json.Unmarshal(msg.GetData(), &ann); err != nil {
			continue
		}
		if !model.ValidAlias(ann.Alias) {
			continue
		}
		n.rememberPeerAlias(ann.PeerID, ann.Alias)
	}
}

// storyDedupKey mirrors §3's uniqueness invariant on a story: (origin_peer_id,
// id), not name — two stories from the same origin in the same channel can
// legitimately share a Name.
func storyDedupKey(s model.Story) string {
	return s.OriginPeerID + "|" + strconv.FormatUint(s.ID, 10)
}
