// Package model defines the wire and domain types shared across the core,
// generalizing the teacher's pkg/libp2p/models.go (PeerInfo, DiscoveryMessage,
// ChatMessage) into the full story/channel/relay data model of §3.
package model

import (
	"regexp"
	"time"
)

// ConnState is a PeerRecord's connection state.
type ConnState string

const (
	Disconnected ConnState = "disconnected"
	Dialing      ConnState = "dialing"
	Connected    ConnState = "connected"
)

// PeerRecord is keyed by PeerId in the node's address book.
type PeerRecord struct {
	PeerID            string    `json:"peer_id"`
	Addrs             []string  `json:"addrs"`
	Alias             string    `json:"alias,omitempty"`
	LastSeen          time.Time `json:"last_seen"`
	State             ConnState `json:"state"`
	PublicKey         []byte    `json:"public_key,omitempty"`
	LastSuccessConnect time.Time `json:"last_success_connect,omitempty"`
}

// Story is an immutable piece of user-authored content bound to a channel.
type Story struct {
	ID           uint64 `json:"id"`
	OriginPeerID string `json:"origin_peer_id"`
	Name         string `json:"name"`
	Header       string `json:"header"`
	Body         string `json:"body"`
	Public       bool   `json:"public"`
	Channel      string `json:"channel"`
	CreatedAt    int64  `json:"created_at"`
}

// PublishedStory is the wire form broadcast and sent in sync responses.
type PublishedStory struct {
	Story     Story  `json:"story"`
	Publisher string `json:"publisher"`
}

// Channel is a named topical grouping of stories.
type Channel struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Creator     string `json:"creator"`
	CreatedAt   int64  `json:"created_at"`
}

// PublishedChannel is the wire form for channel broadcast.
type PublishedChannel struct {
	Channel   Channel `json:"channel"`
	Publisher string  `json:"publisher"`
}

// AliasAnnouncement is broadcast whenever a node sets or changes its alias,
// so every peer currently listening can resolve that PeerID to an alias
// without a dedicated handshake round trip.
type AliasAnnouncement struct {
	PeerID    string `json:"peer_id"`
	Alias     string `json:"alias"`
	Timestamp int64  `json:"timestamp"`
}

// Subscription records that a local peer is subscribed to a channel.
type Subscription struct {
	Channel      string    `json:"channel"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

// DirectMessage is delivered point-to-point, never through broadcast.
type DirectMessage struct {
	FromPeerID string `json:"from_peer_id"`
	FromName   string `json:"from_name"`
	ToName     string `json:"to_name"`
	Message    string `json:"message"`
	Timestamp  int64  `json:"timestamp"`
}

// RelayEnvelope is an encrypted, signed carrier for a DirectMessage forwarded
// through intermediaries. MaxHops and the replay window are enforced by the
// relay component, not by this type.
type RelayEnvelope struct {
	MessageID  string `json:"message_id"`
	Sender     string `json:"sender"`
	Target     string `json:"target"`
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	Signature  []byte `json:"signature"`
	Timestamp  int64  `json:"timestamp"`
	HopCount   uint8  `json:"hop_count"`
}

// SignedFields returns the byte sequence the envelope's signature covers:
// sender||target||ciphertext||nonce||timestamp||hop_count. hop_count is
// included here only because it is present at signing time (hop 0); it is
// treated as unauthenticated metadata thereafter since forwarders increment
// it without re-signing (see §4.7 / DESIGN.md).
func (e RelayEnvelope) SignedFields() []byte {
	buf := make([]byte, 0, len(e.Sender)+len(e.Target)+len(e.Ciphertext)+len(e.Nonce)+9)
	buf = append(buf, []byte(e.Sender)...)
	buf = append(buf, []byte(e.Target)...)
	buf = append(buf, e.Ciphertext...)
	buf = append(buf, e.Nonce...)
	buf = appendInt64(buf, e.Timestamp)
	buf = append(buf, e.HopCount)
	return buf
}

func appendInt64(buf []byte, v int64) []byte {
	for i := 7; i >= 0; i-- {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

// NodeDescription is the optional free-text description a node publishes
// about itself (§3.1).
type NodeDescription struct {
	Text string `json:"text"`
	Set  bool   `json:"set"`
}

const (
	MaxStoryName    = 100
	MaxStoryHeader  = 200
	MaxStoryBody    = 10000
	MaxChannelName  = 50
	MaxAliasLen     = 30
	MaxDirectMsgLen = 1000
	MaxDescription  = 1024
	MaxHops         = 3
)

var (
	aliasPattern   = regexp.MustCompile(`^[A-Za-z0-9._-]{1,30}$`)
	channelPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,50}$`)
	ansiPattern    = regexp.MustCompile("\x1b\\[[0-9;]*[a-zA-Z]")
)

// ValidAlias reports whether alias matches the §6 boundary charset/length.
func ValidAlias(alias string) bool { return aliasPattern.MatchString(alias) }

// ValidChannelName reports whether name matches the §6 boundary charset/length.
func ValidChannelName(name string) bool { return channelPattern.MatchString(name) }

// Sanitize strips ANSI escape sequences and binary/null bytes from
// user-supplied text before it is stored, per §6's boundary rules.
func Sanitize(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b == 0 {
			continue
		}
		if b < 0x09 || (b > 0x0d && b < 0x20) {
			continue
		}
		out = append(out, b)
	}
	return string(out)
}

// ValidateStory checks the §3/§8 length invariants for an accepted story.
func ValidateStory(s Story) bool {
	return len(s.Name) <= MaxStoryName &&
		len(s.Header) <= MaxStoryHeader &&
		len(s.Body) <= MaxStoryBody &&
		len(s.Channel) <= MaxChannelName &&
		ValidChannelName(s.Channel)
}
