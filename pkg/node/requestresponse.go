// Package node: requestresponse.go implements §4.6's three request/response
// protocols, each its own stream protocol ID registered via
// h.SetStreamHandler exactly as the teacher registers DiscoveryProtocol,
// ExchangeProtocol, and PrivateChatProtocol in pkg/libp2p/node.go, and each
// decoded/encoded with encoding/json the way the teacher's
// handlePrivateChatStream and exchangeDiscoveryInfo do.
package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/baderanaas/gostoryd/pkg/core/events"
	"github.com/baderanaas/gostoryd/pkg/core/model"
)

const (
	storySyncResponseCap = 500

	// maxInflightRequestsPerPeer bounds how many of the three request/
	// response protocols may be outstanding against one peer at once, per
	// §4.6's "max concurrent inflight count per peer".
	maxInflightRequestsPerPeer = 8
)

// inflightGate is a small per-peer counting semaphore shared by the three
// outbound request functions below, generalizing the teacher's owned-map-
// plus-mutex shape (pkg/libp2p/node.go's peers/joinedTopics maps) to a
// bounded counter instead of an unbounded set.
type inflightGate struct {
	mu    sync.Mutex
	count map[peer.ID]int
}

func newInflightGate() *inflightGate {
	return &inflightGate{count: make(map[peer.ID]int)}
}

func (g *inflightGate) acquire(p peer.ID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count[p] >= maxInflightRequestsPerPeer {
		return false
	}
	g.count[p]++
	return true
}

func (g *inflightGate) release(p peer.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count[p] <= 1 {
		delete(g.count, p)
		return
	}
	g.count[p]--
}

type errTooManyInflightT string

func (e errTooManyInflightT) Error() string {
	return "too many inflight requests to peer " + string(e)
}

func errTooManyInflight(peerID string) error { return errTooManyInflightT(peerID) }

// requestTimeout is the §4.6/§6 per-request deadline, sourced from
// network.request_timeout_seconds (default 60s).
func (n *Node) requestTimeout() time.Duration {
	return time.Duration(n.cfg.Network.RequestTimeoutSeconds) * time.Second
}

// reportStreamTimeout resets s and records a breaker failure against target
// when err is a deadline expiry, per §5: "on timeout the substream is reset
// and the failure is reported to CircuitBreaker".
func (n *Node) reportStreamTimeout(s network.Stream, target peer.ID, err error) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.Reset()
		n.breaker.RecordFailure(target.String())
	}
}

// DirectMessageRequest / Response wire types (§4.6).
type directMessageRequest struct {
	SenderPeerID    string `json:"sender_peer_id"`
	SenderAlias     string `json:"sender_alias"`
	RecipientAlias  string `json:"recipient_alias"`
	Body            string `json:"body"`
	Timestamp       int64  `json:"timestamp"`
}

type directMessageResponse struct {
	Delivered bool   `json:"delivered"`
	Reason    string `json:"reason,omitempty"`
}

// nodeDescriptionRequest / Response wire types.
type nodeDescriptionRequest struct{}

type nodeDescriptionResponse struct {
	Description string `json:"description,omitempty"`
	Set         bool   `json:"set"`
}

// storySyncRequest / Response wire types.
type storySyncRequest struct {
	Channels          []string `json:"channels"`
	LastSyncTimestamp int64    `json:"last_sync_timestamp"`
}

type storySyncResponse struct {
	Stories []model.PublishedStory `json:"stories"`
}

func (n *Node) handleDirectMessageStream(s network.Stream) {
	defer s.Close()

	var req directMessageRequest
	if err := json.NewDecoder(s).Decode(&req); err != nil {
		return
	}

	// The recipient MUST verify the claimed sender matches the
	// authenticated stream peer, per §4.6.
	remote := s.Conn().RemotePeer()
	if req.SenderPeerID != remote.String() {
		json.NewEncoder(s).Encode(directMessageResponse{Delivered: false, Reason: "sender mismatch"})
		return
	}

	myAlias, _ := n.storage.Alias()
	if req.RecipientAlias != myAlias {
		json.NewEncoder(s).Encode(directMessageResponse{Delivered: false, Reason: "unknown recipient"})
		return
	}

	if req.SenderAlias != "" {
		n.rememberPeerAlias(req.SenderPeerID, req.SenderAlias)
	}

	n.emit(events.Event{Kind: events.DirectMessageReceived, DM: model.DirectMessage{
		FromPeerID: req.SenderPeerID,
		FromName:   req.SenderAlias,
		ToName:     req.RecipientAlias,
		Message:    req.Body,
		Timestamp:  req.Timestamp,
	}})

	json.NewEncoder(s).Encode(directMessageResponse{Delivered: true})
}

// sendDirectMessageRequest opens a stream to target and attempts direct
// delivery, returning whether it succeeded.
func (n *Node) sendDirectMessageRequest(target peer.ID, recipientAlias, body string) (bool, error) {
	if !n.inflight.acquire(target) {
		return false, errTooManyInflight(target.String())
	}
	defer n.inflight.release(target)

	s, err := n.host.NewStream(n.ctx, target, DirectMessageProtocol)
	if err != nil {
		return false, err
	}
	defer s.Close()
	if err := s.SetDeadline(time.Now().Add(n.requestTimeout())); err != nil {
		return false, err
	}

	myAlias, _ := n.storage.Alias()
	req := directMessageRequest{
		SenderPeerID:   n.host.ID().String(),
		SenderAlias:    myAlias,
		RecipientAlias: recipientAlias,
		Body:           body,
		Timestamp:      n.clk.Now().Unix(),
	}
	if err := json.NewEncoder(s).Encode(req); err != nil {
		n.reportStreamTimeout(s, target, err)
		return false, err
	}

	var resp directMessageResponse
	if err := json.NewDecoder(s).Decode(&resp); err != nil {
		n.reportStreamTimeout(s, target, err)
		return false, err
	}
	if !resp.Delivered {
		return false, fmt.Errorf("rejected: %s", resp.Reason)
	}
	n.breaker.RecordSuccess(target.String())
	return true, nil
}

func (n *Node) handleNodeDescriptionStream(s network.Stream) {
	defer s.Close()

	var req nodeDescriptionRequest
	if err := json.NewDecoder(s).Decode(&req); err != nil {
		return
	}

	desc, err := n.storage.Description()
	if err != nil {
		json.NewEncoder(s).Encode(nodeDescriptionResponse{Set: false})
		return
	}
	json.NewEncoder(s).Encode(nodeDescriptionResponse{Description: desc.Text, Set: desc.Set})
}

func (n *Node) requestNodeDescription(target peer.ID) (model.NodeDescription, error) {
	if !n.inflight.acquire(target) {
		return model.NodeDescription{}, errTooManyInflight(target.String())
	}
	defer n.inflight.release(target)

	s, err := n.host.NewStream(n.ctx, target, NodeDescriptionProtocol)
	if err != nil {
		return model.NodeDescription{}, err
	}
	defer s.Close()
	if err := s.SetDeadline(time.Now().Add(n.requestTimeout())); err != nil {
		return model.NodeDescription{}, err
	}

	if err := json.NewEncoder(s).Encode(nodeDescriptionRequest{}); err != nil {
		n.reportStreamTimeout(s, target, err)
		return model.NodeDescription{}, err
	}

	var resp nodeDescriptionResponse
	if err := json.NewDecoder(s).Decode(&resp); err != nil {
		n.reportStreamTimeout(s, target, err)
		return model.NodeDescription{}, err
	}
	n.breaker.RecordSuccess(target.String())
	return model.NodeDescription{Text: resp.Description, Set: resp.Set}, nil
}

func (n *Node) handleStorySyncStream(s network.Stream) {
	defer s.Close()

	var req storySyncRequest
	if err := json.NewDecoder(s).Decode(&req); err != nil {
		return
	}

	stories, err := n.storage.StoriesSince(req.Channels, req.LastSyncTimestamp)
	if err != nil {
		json.NewEncoder(s).Encode(storySyncResponse{})
		return
	}
	if len(stories) > storySyncResponseCap {
		stories = stories[:storySyncResponseCap]
	}

	// Publisher is the stable PeerId (§3), not the mutable, possibly-empty
	// human alias.
	publisher := n.host.ID().String()
	published := make([]model.PublishedStory, 0, len(stories))
	for _, st := range stories {
		published = append(published, model.PublishedStory{Story: st, Publisher: publisher})
	}
	json.NewEncoder(s).Encode(storySyncResponse{Stories: published})
}

func (n *Node) requestStorySync(target peer.ID, lastSync int64) ([]model.PublishedStory, error) {
	if !n.inflight.acquire(target) {
		return nil, errTooManyInflight(target.String())
	}
	defer n.inflight.release(target)

	s, err := n.host.NewStream(n.ctx, target, StorySyncProtocol)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	if err := s.SetDeadline(time.Now().Add(n.requestTimeout())); err != nil {
		return nil, err
	}

	n.subsMu.RLock()
	channels := make([]string, 0, len(n.subscriptions))
	for c := range n.subscriptions {
		channels = append(channels, c)
	}
	n.subsMu.RUnlock()

	req := storySyncRequest{Channels: channels, LastSyncTimestamp: lastSync}
	if err := json.NewEncoder(s).Encode(req); err != nil {
		n.reportStreamTimeout(s, target, err)
		return nil, err
	}

	var resp storySyncResponse
	if err := json.NewDecoder(s).Decode(&resp); err != nil {
		n.reportStreamTimeout(s, target, err)
		return nil, err
	}
	n.breaker.RecordSuccess(target.String())
	return resp.Stories, nil
}
