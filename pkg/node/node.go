// Package node wires the pure core components (crypto, relay, dmretry,
// breaker, bootstrap, storage, dedup) into a running libp2p host. The
// transport construction — listen addresses, identity, connection manager,
// auto-relay, hole punching, NAT traversal, and DHT routing — is adapted
// directly from the teacher's pkg/libp2p/node.go NewDecentralizedNode, with
// connection limits and timeouts generalized from constants into the
// configurable network.* document fields §6 names.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"go.uber.org/zap"

	corebootstrap "github.com/baderanaas/gostoryd/pkg/core/bootstrap"
	"github.com/baderanaas/gostoryd/pkg/core/breaker"
	"github.com/baderanaas/gostoryd/pkg/core/clock"
	"github.com/baderanaas/gostoryd/pkg/core/config"
	"github.com/baderanaas/gostoryd/pkg/core/dedup"
	"github.com/baderanaas/gostoryd/pkg/core/dmretry"
	"github.com/baderanaas/gostoryd/pkg/core/events"
	"github.com/baderanaas/gostoryd/pkg/core/model"
	"github.com/baderanaas/gostoryd/pkg/core/relay"
	"github.com/baderanaas/gostoryd/pkg/crypto"
	"github.com/baderanaas/gostoryd/pkg/identity"
	"github.com/baderanaas/gostoryd/pkg/storage"
)

const (
	dedupCapacity = 10000
	dedupTTL      = 60 * time.Second

	// discoveredDedupTTL is longer than dedupTTL: a PeerDiscovered event
	// should mark a genuinely new sighting, not re-fire on every 30s DHT
	// rediscovery tick of a peer the host already knows about.
	discoveredDedupTTL = 10 * time.Minute

	// yamuxIdleTimeout is the §4.2 idle-connection timeout. go-yamux has no
	// literal "idle timeout" field; ConnectionWriteTimeout is the closest
	// real knob (a write that cannot complete within it kills the session),
	// so that is what carries this value.
	yamuxIdleTimeout = 60 * time.Second
)

// yamuxTransportFrom builds a yamux muxer transport configured from the
// network.max_concurrent_streams document field (§6), starting from
// go-yamux's own defaults rather than constructing a config from scratch.
func yamuxTransportFrom(maxConcurrentStreams int) *yamux.Transport {
	t := *yamux.DefaultTransport
	t.AcceptBacklog = maxConcurrentStreams
	t.ConnectionWriteTimeout = yamuxIdleTimeout
	return &t
}

// Node is the running P2P core. The event loop (Run, in eventloop.go) handles
// host commands, swarm notifications and timers; pubsub handlers, stream
// handlers, discovery and per-connection sync run in their own goroutines and
// share the peers/topics/subscriptions maps (each under its own mutex) and the
// breaker, dedup sets, crypto key cache and storage, which lock internally.
type Node struct {
	host   host.Host
	ctx    context.Context
	cancel context.CancelFunc
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub
	log    *zap.Logger

	cfg     config.Config
	id      *identity.Identity
	crypto  *crypto.Crypto
	storage storage.Storage
	sink    events.UIEventSink
	clk     clock.Clock

	breaker   *breaker.Breaker
	relay     *relay.Relay
	dmretry   *dmretry.Queue
	bootstrap *corebootstrap.Machine

	storyDedup      *dedup.Set
	channelDedup    *dedup.Set
	discoveredDedup *dedup.Set

	inflight *inflightGate

	peersMu sync.RWMutex
	peers   map[peer.ID]*model.PeerRecord

	topicsMu sync.RWMutex
	topics   map[string]*pubsub.Topic

	subsMu        sync.RWMutex
	subscriptions map[string]model.Subscription

	commands    chan command
	swarmEvents chan swarmEvent
	done        chan struct{}
}

// Deps carries the capability interfaces a host injects at construction,
// generalizing the teacher's direct dependence on os/log into the
// trait-like interfaces §4.11/§9 require for testability.
type Deps struct {
	Storage storage.Storage
	Sink    events.UIEventSink
	Clock   clock.Clock
	Logger  *zap.Logger
}

// New creates a node bound to port, persisting/loading its identity under
// dir, exactly as the teacher's NewDecentralizedNode loads LoadIdentity
// from hushDir before constructing the libp2p host.
func New(ctx context.Context, port int, dir string, cfg config.Config, deps Deps) (*Node, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	id, err := identity.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := deps.Sink
	if sink == nil {
		sink = events.NopSink{}
	}
	st := deps.Storage
	if st == nil {
		mem, err := storage.NewMemoryAt(dir)
		if err != nil {
			return nil, fmt.Errorf("loading persisted alias/description: %w", err)
		}
		st = mem
	}

	nodeCtx, cancel := context.WithCancel(ctx)

	cm, err := connmgr.NewConnManager(
		int(cfg.Network.MaxPendingIncoming),
		int(cfg.Network.MaxEstablishedTotal),
		connmgr.WithGracePeriod(time.Minute),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating connection manager: %w", err)
	}

	var staticRelays []peer.AddrInfo
	for _, addr := range dht.DefaultBootstrapPeers {
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			continue
		}
		staticRelays = append(staticRelays, *pi)
	}

	var idht *dht.IpfsDHT
	libp2pPriv, _, err := libp2pcrypto.KeyPairFromStdKey(&id.Priv)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("converting identity key for transport: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(
			fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", port),
			fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic", port+1),
		),
		libp2p.Identity(libp2pPriv),
		// Noise is the sole, explicit security transport (§4.2); no
		// plaintext or legacy-secio fallback is registered.
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamuxTransportFrom(int(cfg.Network.MaxConcurrentStreams))),
		// go-libp2p's TCP transport has no constructor-level knobs for
		// listen backlog, TTL, or port-reuse beyond what go-reuseport
		// already applies per platform; registering it explicitly (instead
		// of relying on libp2p.New's default transport set) is what §4.2's
		// "explicit TCP socket options" can actually mean against this
		// transport's real API.
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.ConnectionManager(cm),
		libp2p.EnableAutoRelayWithStaticRelays(staticRelays),
		libp2p.EnableHolePunching(),
		libp2p.NATPortMap(),
		libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			var err error
			idht, err = dht.New(nodeCtx, h, dht.Mode(dht.ModeServer))
			return idht, err
		}),
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(nodeCtx, h)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating pubsub: %w", err)
	}

	cryp := crypto.New(id.Priv)
	brk := breaker.New(breaker.DefaultConfig(), clk)
	rel := relay.New(relayConfigFrom(cfg.Relay), clk, cryp, cryp, id.PeerID.String())
	dm := dmretry.New(dmretryConfigFrom(cfg.DirectMessage), clk)
	bootstrapCfg := corebootstrap.Config{
		Peers:            cfg.Bootstrap.BootstrapPeers,
		RetryInterval:    time.Duration(cfg.Bootstrap.RetryIntervalMs) * time.Millisecond,
		MaxRetryAttempts: int(cfg.Bootstrap.MaxRetryAttempts),
		Timeout:          time.Duration(cfg.Bootstrap.BootstrapTimeoutMs) * time.Millisecond,
	}
	bs := corebootstrap.New(bootstrapCfg, clk)

	n := &Node{
		host:          h,
		ctx:           nodeCtx,
		cancel:        cancel,
		dht:           idht,
		pubsub:        ps,
		log:           logger,
		cfg:           cfg,
		id:            id,
		crypto:        cryp,
		storage:       st,
		sink:          sink,
		clk:           clk,
		breaker:       brk,
		relay:         rel,
		dmretry:       dm,
		bootstrap:     bs,
		storyDedup:      dedup.New(dedupCapacity, dedupTTL, clk),
		channelDedup:    dedup.New(dedupCapacity, dedupTTL, clk),
		discoveredDedup: dedup.New(dedupCapacity, discoveredDedupTTL, clk),
		inflight:        newInflightGate(),
		peers:         make(map[peer.ID]*model.PeerRecord),
		topics:        make(map[string]*pubsub.Topic),
		subscriptions: make(map[string]model.Subscription),
		commands:      make(chan command, 64),
		swarmEvents:   make(chan swarmEvent, 64),
		done:          make(chan struct{}),
	}

	h.SetStreamHandler(DirectMessageProtocol, n.handleDirectMessageStream)
	h.SetStreamHandler(NodeDescriptionProtocol, n.handleNodeDescriptionStream)
	h.SetStreamHandler(StorySyncProtocol, n.handleStorySyncStream)

	logger.Info("node started", zap.String("peer_id", h.ID().String()))
	return n, nil
}

func relayConfigFrom(c config.Relay) relay.Config {
	return relay.Config{
		EnableRelay:      c.EnableRelay,
		EnableForwarding: c.EnableForwarding,
		MaxHops:          c.MaxHops,
		PreferDirect:     c.PreferDirect,
		RateLimitPerPeer: int(c.RateLimitPerPeer),
	}
}

func dmretryConfigFrom(c config.DirectMessage) dmretry.Config {
	return dmretry.Config{
		MaxAttempts:             int(c.MaxRetryAttempts),
		RetryInterval:           time.Duration(c.RetryIntervalSeconds) * time.Second,
		EnableConnectionRetries: c.EnableConnectionRetries,
		EnableTimedRetries:      c.EnableTimedRetries,
	}
}

// Close cancels the event loop and shuts down the host, mirroring the
// teacher's Close (pkg/libp2p/node.go).
func (n *Node) Close() error {
	n.cancel()
	<-n.done
	return n.host.Close()
}
