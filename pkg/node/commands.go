package node

import (
	"fmt"

	"github.com/baderanaas/gostoryd/pkg/core/events"
	"github.com/baderanaas/gostoryd/pkg/core/model"
)

// kind enumerates the §6 Core -> Host command surface.
type kind int

const (
	cmdPublish kind = iota
	cmdSendDirect
	cmdRequestStories
	cmdRequestDescription
	cmdDial
	cmdSetAlias
	cmdSubscribeChannel
	cmdUnsubscribeChannel
	cmdReloadConfig
	cmdShutdown
)

// command is the tagged-union request type the event loop drains from its
// highest-priority channel, generalizing the teacher's direct method calls
// (JoinTopic, SendMessage, SendPrivateMessage...) into a single queued
// surface a host can submit to from any goroutine.
type command struct {
	kind kind

	topic   string
	payload []byte

	toAlias string
	body    string

	peer string

	multiaddr string

	alias string

	channel string

	result chan error
}

// Publish broadcasts payload on topic (§4.5).
func (n *Node) Publish(topic string, payload []byte) error {
	return n.submit(command{kind: cmdPublish, topic: topic, payload: payload})
}

// SendDirect delivers body to toAlias via the §4.7 fallback chain.
func (n *Node) SendDirect(toAlias, body string) error {
	if len(body) > model.MaxDirectMsgLen {
		return fmt.Errorf("direct message exceeds %d characters", model.MaxDirectMsgLen)
	}
	return n.submit(command{kind: cmdSendDirect, toAlias: toAlias, body: body})
}

// RequestStories issues a StorySyncRequest to peerID, or to every connected
// peer if peerID is empty.
func (n *Node) RequestStories(peerID string) error {
	return n.submit(command{kind: cmdRequestStories, peer: peerID})
}

// RequestDescription issues a NodeDescriptionRequest to peerID.
func (n *Node) RequestDescription(peerID string) error {
	return n.submit(command{kind: cmdRequestDescription, peer: peerID})
}

// Dial attempts a connection to the given multiaddress.
func (n *Node) Dial(multiaddr string) error {
	return n.submit(command{kind: cmdDial, multiaddr: multiaddr})
}

// SetAlias broadcasts a new alias for this node, after validating it against
// the §6 boundary charset/length.
func (n *Node) SetAlias(alias string) error {
	if !model.ValidAlias(alias) {
		return fmt.Errorf("invalid alias %q", alias)
	}
	return n.submit(command{kind: cmdSetAlias, alias: alias})
}

// SubscribeChannel/UnsubscribeChannel update local subscription state.
func (n *Node) SubscribeChannel(name string) error {
	if !model.ValidChannelName(name) {
		return fmt.Errorf("invalid channel name %q", name)
	}
	return n.submit(command{kind: cmdSubscribeChannel, channel: name})
}

func (n *Node) UnsubscribeChannel(name string) error {
	return n.submit(command{kind: cmdUnsubscribeChannel, channel: name})
}

// ReloadConfig re-reads the network configuration file.
func (n *Node) ReloadConfig(path string) error {
	return n.submit(command{kind: cmdReloadConfig, multiaddr: path})
}

// Shutdown gracefully stops the event loop; Close then tears down the host.
func (n *Node) Shutdown() error {
	return n.submit(command{kind: cmdShutdown})
}

func (n *Node) submit(c command) error {
	c.result = make(chan error, 1)
	select {
	case n.commands <- c:
	case <-n.ctx.Done():
		return n.ctx.Err()
	}
	select {
	case err := <-c.result:
		return err
	case <-n.ctx.Done():
		return n.ctx.Err()
	}
}

func (n *Node) emit(e events.Event) {
	n.sink.Emit(e)
}
