// Package events defines the host-facing event vocabulary (§6 "Core → Host
// events") and the UIEventSink capability interface a host implements to
// receive them.
package events

import "github.com/baderanaas/gostoryd/pkg/core/model"

// Kind discriminates the event payload carried by an Event.
type Kind string

const (
	PeerDiscovered          Kind = "peer_discovered"
	PeerConnected           Kind = "peer_connected"
	PeerDisconnected        Kind = "peer_disconnected"
	StoryReceived           Kind = "story_received"
	ChannelReceived         Kind = "channel_received"
	DirectMessageReceived   Kind = "direct_message_received"
	DirectMessageDelivered  Kind = "direct_message_delivered"
	DirectMessageFailed     Kind = "direct_message_failed"
	DirectMessageQueued     Kind = "direct_message_queued"
	BootstrapStatusChanged  Kind = "bootstrap_status"
	NetworkErrorOccurred    Kind = "network_error"
)

// Event is the single tagged-union type emitted to the host. Only the fields
// relevant to Kind are populated (PeerDiscovered, for example, sets PeerID,
// Addrs and Reason); this mirrors the "fixed enum of network
// events drained by one loop" replacement for dynamic dispatch called for in
// §9.
type Event struct {
	Kind Kind

	PeerID   string
	Addrs    []string
	Story    model.Story
	Channel  model.Channel
	DM       model.DirectMessage
	MsgID    string
	Reason   string
	Status   string
	ErrKind  string
	ErrDetail string
}

// UIEventSink is the boundary capability interface a host implementation
// (terminal UI, log sink, test recorder) supplies to receive Events.
type UIEventSink interface {
	Emit(Event)
}

// NopSink discards every event; useful as a default/test double.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// Recorder is a UIEventSink that stores every event it receives, used by
// tests to assert on emitted events without standing up a real host.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Emit(e Event) { r.Events = append(r.Events, e) }
