package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/baderanaas/gostoryd/pkg/core/clock"
	"github.com/baderanaas/gostoryd/pkg/core/model"
)

// fakeCrypto is a minimal stand-in for pkg/crypto.Crypto: it "encrypts" by
// tagging plaintext with the recipient so Decrypt can check the tag matches,
// without pulling the real X25519/ChaCha20 machinery into this pure-logic
// test.
type fakeCrypto struct {
	knownRecipients map[string]bool
}

func (f *fakeCrypto) Encrypt(plaintext []byte, selfPeerID, recipientPeerID string) ([]byte, []byte, error) {
	if !f.knownRecipients[recipientPeerID] {
		return nil, nil, errUnknownRecipient
	}
	return append([]byte(recipientPeerID+"|"), plaintext...), []byte("nonce"), nil
}

func (f *fakeCrypto) Decrypt(ciphertext, nonce []byte, selfPeerID, senderPeerID string) ([]byte, error) {
	prefix := []byte(selfPeerID + "|")
	if len(ciphertext) < len(prefix) {
		return nil, errBadCiphertext
	}
	return ciphertext[len(prefix):], nil
}

type fakeError string

func (e fakeError) Error() string { return string(e) }

const (
	errUnknownRecipient = fakeError("unknown recipient")
	errBadCiphertext    = fakeError("bad ciphertext")
)

// fakeSigner signs/verifies by prefixing a per-peer secret, good enough to
// exercise accept/reject branches without real Ed25519.
type fakeSigner struct {
	selfID string
}

func (s *fakeSigner) Sign(message []byte) []byte {
	return append([]byte(s.selfID+":"), message...)
}

func (s *fakeSigner) Verify(message, signature []byte, peerID string) bool {
	want := append([]byte(peerID+":"), message...)
	if len(want) != len(signature) {
		return false
	}
	for i := range want {
		if want[i] != signature[i] {
			return false
		}
	}
	return true
}

func newRelay(selfID string, crypto *fakeCrypto, clk clock.Clock) *Relay {
	return New(DefaultConfig(), clk, &fakeSigner{selfID: selfID}, crypto, selfID)
}

func TestBuildAndReceiveLocalDelivery(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	crypto := &fakeCrypto{knownRecipients: map[string]bool{"bob": true}}
	sender := newRelay("alice", crypto, fake)

	env, err := sender.Build("bob", []byte("hello bob"))
	require.NoError(t, err)
	require.Equal(t, uint8(0), env.HopCount)

	receiver := newRelay("bob", crypto, fake)
	outcome, plaintext, _, err := receiver.Receive(env)
	require.NoError(t, err)
	require.Equal(t, OutcomeDeliveredLocally, outcome)
	require.Equal(t, "hello bob", string(plaintext))
}

func TestReceiveDropsOnBadSignature(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	crypto := &fakeCrypto{knownRecipients: map[string]bool{"bob": true}}
	sender := newRelay("alice", crypto, fake)

	env, err := sender.Build("bob", []byte("hello"))
	require.NoError(t, err)
	env.Signature[0] ^= 0xFF

	receiver := newRelay("bob", crypto, fake)
	outcome, _, _, err := receiver.Receive(env)
	require.NoError(t, err)
	require.Equal(t, OutcomeDropped, outcome)
}

func TestReceiveDropsOnStaleTimestamp(t *testing.T) {
	fake := clock.NewFake(time.Unix(10000, 0))
	crypto := &fakeCrypto{knownRecipients: map[string]bool{"bob": true}}
	sender := newRelay("alice", crypto, fake)

	env, err := sender.Build("bob", []byte("hello"))
	require.NoError(t, err)

	fake.Advance(ReplayWindow + time.Second)
	receiver := newRelay("bob", crypto, fake)
	outcome, _, _, err := receiver.Receive(env)
	require.NoError(t, err)
	require.Equal(t, OutcomeDropped, outcome)
}

func TestReceiveDropsDuplicateMessageID(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	crypto := &fakeCrypto{knownRecipients: map[string]bool{"bob": true}}
	sender := newRelay("alice", crypto, fake)

	env, err := sender.Build("bob", []byte("hello"))
	require.NoError(t, err)

	receiver := newRelay("bob", crypto, fake)
	outcome1, _, _, err := receiver.Receive(env)
	require.NoError(t, err)
	require.Equal(t, OutcomeDeliveredLocally, outcome1)

	outcome2, _, _, err := receiver.Receive(env)
	require.NoError(t, err)
	require.Equal(t, OutcomeDropped, outcome2)
}

func TestReceiveForwardsWhenNotTarget(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	crypto := &fakeCrypto{knownRecipients: map[string]bool{"carol": true}}
	sender := newRelay("alice", crypto, fake)

	env, err := sender.Build("carol", []byte("hello"))
	require.NoError(t, err)

	relayNode := newRelay("bob", crypto, fake)
	outcome, _, forwarded, err := relayNode.Receive(env)
	require.NoError(t, err)
	require.Equal(t, OutcomeForwarded, outcome)
	require.Equal(t, uint8(1), forwarded.HopCount)
	require.Equal(t, env.MessageID, forwarded.MessageID)
}

func TestReceiveDropsWhenMaxHopsReached(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	crypto := &fakeCrypto{knownRecipients: map[string]bool{"carol": true}}
	sender := newRelay("alice", crypto, fake)

	env, err := sender.Build("carol", []byte("hello"))
	require.NoError(t, err)
	env.HopCount = model.MaxHops

	relayNode := newRelay("bob", crypto, fake)
	outcome, _, _, err := relayNode.Receive(env)
	require.NoError(t, err)
	require.Equal(t, OutcomeDropped, outcome)
}

func TestSetConfigUpdatesRateLimit(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	crypto := &fakeCrypto{knownRecipients: map[string]bool{"carol": true}}
	r := newRelay("bob", crypto, fake)

	r.SetConfig(Config{EnableRelay: true, EnableForwarding: true, MaxHops: 3, RateLimitPerPeer: 1})
	require.True(t, r.limiter.Allow("alice"))
	require.False(t, r.limiter.Allow("alice"))
}

func TestRateLimiterCapsPerMinute(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	limiter := newRateLimiter(3, fake)
	require.True(t, limiter.Allow("alice"))
	require.True(t, limiter.Allow("alice"))
	require.True(t, limiter.Allow("alice"))
	require.False(t, limiter.Allow("alice"))

	fake.Advance(61 * time.Second)
	require.True(t, limiter.Allow("alice"))
}
