// Package relay implements §4.7's Relay component: the pure logic around
// building, verifying, rate-limiting, and forwarding RelayEnvelopes. It has
// no teacher analogue — GoHush's SendPrivateMessage (pkg/libp2p/messaging.go)
// is a bare point-to-point stream with no store-and-forward fallback — so
// this is grounded on quailyquaily-aqua's per-minute sliding rate-limit
// shape (DataPushPerMinute) combined with the teacher's own envelope/struct
// idioms (pkg/libp2p/models.go) and the dedup LRU already built for §4.5.
package relay

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/baderanaas/gostoryd/pkg/core/clock"
	"github.com/baderanaas/gostoryd/pkg/core/dedup"
	coreerrors "github.com/baderanaas/gostoryd/pkg/core/errors"
	"github.com/baderanaas/gostoryd/pkg/core/model"
)

const (
	ReplayWindow       = 5 * time.Minute
	FutureSkew         = 30 * time.Second
	ReplaySetCapacity  = 10000
	DefaultRatePerPeer = 10
	rateWindow         = time.Minute
)

// Config carries §6's relay policy knobs.
type Config struct {
	EnableRelay      bool
	EnableForwarding bool
	MaxHops          uint8
	PreferDirect     bool
	RateLimitPerPeer int
}

func DefaultConfig() Config {
	return Config{
		EnableRelay:      true,
		EnableForwarding: true,
		MaxHops:          model.MaxHops,
		PreferDirect:     true,
		RateLimitPerPeer: DefaultRatePerPeer,
	}
}

// Signer produces and verifies Ed25519 signatures over envelope fields.
type Signer interface {
	Sign(message []byte) []byte
	Verify(message, signature []byte, peerID string) bool
}

// Encrypter produces and consumes the ciphertext carried by an envelope.
type Encrypter interface {
	Encrypt(plaintext []byte, selfPeerID, recipientPeerID string) (ciphertext, nonce []byte, err error)
	Decrypt(ciphertext, nonce []byte, selfPeerID, senderPeerID string) ([]byte, error)
}

// Relay holds the replay-protection set and rate limiter shared by every
// envelope this node handles, plus the crypto dependencies needed to build
// and open envelopes.
type Relay struct {
	cfg     Config
	clk     clock.Clock
	seen    *dedup.Set
	limiter *rateLimiter
	signer  Signer
	crypto  Encrypter
	selfID  string
}

func New(cfg Config, clk clock.Clock, signer Signer, crypto Encrypter, selfID string) *Relay {
	return &Relay{
		cfg:     cfg,
		clk:     clk,
		seen:    dedup.New(ReplaySetCapacity, ReplayWindow, clk),
		limiter: newRateLimiter(cfg.RateLimitPerPeer, clk),
		signer:  signer,
		crypto:  crypto,
		selfID:  selfID,
	}
}

// SetConfig applies a new policy in place, preserving the replay window and
// rate-limiter history, for the §6 ReloadConfig command.
func (r *Relay) SetConfig(cfg Config) {
	r.cfg = cfg
	r.limiter.limit = cfg.RateLimitPerPeer
}

// Build constructs and signs a fresh hop-0 envelope carrying plaintext for
// target.
func (r *Relay) Build(target string, plaintext []byte) (model.RelayEnvelope, error) {
	ciphertext, nonce, err := r.crypto.Encrypt(plaintext, r.selfID, target)
	if err != nil {
		return model.RelayEnvelope{}, err
	}

	env := model.RelayEnvelope{
		MessageID: uuid.NewString(),
		Sender:    r.selfID,
		Target:    target,
		Ciphertext: ciphertext,
		Nonce:     nonce,
		Timestamp: r.clk.Now().Unix(),
		HopCount:  0,
	}
	env.Signature = r.signer.Sign(env.SignedFields())
	return env, nil
}

// Outcome describes what happened to an envelope handed to Receive.
type Outcome string

const (
	OutcomeDeliveredLocally Outcome = "delivered_locally"
	OutcomeForwarded        Outcome = "forwarded"
	OutcomeDropped          Outcome = "dropped"
)

// Receive processes an incoming envelope per §4.7's ordered checks,
// returning the outcome and, when OutcomeDeliveredLocally, the decrypted
// plaintext; when OutcomeForwarded, the envelope to re-broadcast with its
// hop_count incremented.
func (r *Relay) Receive(env model.RelayEnvelope) (Outcome, []byte, model.RelayEnvelope, error) {
	if !r.signer.Verify(env.SignedFields(), env.Signature, env.Sender) {
		return OutcomeDropped, nil, model.RelayEnvelope{}, nil
	}

	now := r.clk.Now()
	ts := time.Unix(env.Timestamp, 0)
	if ts.Before(now.Add(-ReplayWindow)) || ts.After(now.Add(FutureSkew)) {
		return OutcomeDropped, nil, model.RelayEnvelope{}, nil
	}

	if r.seen.SeenOrAdd(env.MessageID) {
		return OutcomeDropped, nil, model.RelayEnvelope{}, nil
	}

	if env.Target == r.selfID {
		plaintext, err := r.crypto.Decrypt(env.Ciphertext, env.Nonce, r.selfID, env.Sender)
		if err != nil {
			if errors.Is(err, coreerrors.ErrDecryptionFailed) {
				return OutcomeDropped, nil, model.RelayEnvelope{}, nil
			}
			return OutcomeDropped, nil, model.RelayEnvelope{}, err
		}
		return OutcomeDeliveredLocally, plaintext, model.RelayEnvelope{}, nil
	}

	if env.HopCount < r.cfg.MaxHops && r.cfg.EnableForwarding && r.limiter.Allow(env.Sender) {
		forwarded := env
		forwarded.HopCount++
		return OutcomeForwarded, nil, forwarded, nil
	}

	return OutcomeDropped, nil, model.RelayEnvelope{}, nil
}

// rateLimiter is a per-sender sliding window: it keeps the timestamps of the
// last minute of accepted envelopes for each peer, and each call drops that
// peer's timestamps older than the window. A peer that is never checked again
// keeps its entry; the map has no bound on the number of peers.
type rateLimiter struct {
	limit  int
	clk    clock.Clock
	events map[string][]time.Time
}

func newRateLimiter(limit int, clk clock.Clock) *rateLimiter {
	return &rateLimiter{limit: limit, clk: clk, events: make(map[string][]time.Time)}
}

func (l *rateLimiter) Allow(peerID string) bool {
	now := l.clk.Now()
	cutoff := now.Add(-rateWindow)

	events := l.events[peerID]
	fresh := events[:0]
	for _, ts := range events {
		if ts.After(cutoff) {
			fresh = append(fresh, ts)
		}
	}

	if len(fresh) >= l.limit {
		l.events[peerID] = fresh
		return false
	}

	fresh = append(fresh, now)
	l.events[peerID] = fresh
	return true
}
