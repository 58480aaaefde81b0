// Package identity implements §4.1's Identity component: a persistent
// Ed25519 keypair loaded from disk on first run, or generated and written
// atomically if absent. It generalizes the teacher's
// pkg/libp2p/storage.go LoadIdentity/SaveIdentity pair (which wrote the key
// directly with os.WriteFile) into a write-temp-then-rename sequence, since
// identity loss is unrecoverable and a crash mid-write must never leave a
// corrupt key file.
package identity

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

const identityFileName = "identity.key"

// Identity is the node's immutable, persistent keypair and derived PeerID.
type Identity struct {
	Priv   ed25519.PrivateKey
	Pub    ed25519.PublicKey
	PeerID peer.ID
}

// Load reads the keypair from dir/identity.key, generating and persisting a
// fresh one if it does not yet exist.
func Load(dir string) (*Identity, error) {
	path := filepath.Join(dir, identityFileName)

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading identity file: %w", err)
		}
		return generateAndSave(dir, path)
	}

	libp2pPriv, err := libp2pcrypto.UnmarshalPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling identity key: %w", err)
	}
	return fromLibp2pKey(libp2pPriv)
}

func generateAndSave(dir, path string) (*Identity, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating identity directory: %w", err)
	}

	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 key: %w", err)
	}

	libp2pPriv, _, err := libp2pcrypto.KeyPairFromStdKey(&priv)
	if err != nil {
		return nil, fmt.Errorf("converting key to libp2p form: %w", err)
	}

	raw, err := libp2pcrypto.MarshalPrivateKey(libp2pPriv)
	if err != nil {
		return nil, fmt.Errorf("marshaling identity key: %w", err)
	}

	if err := AtomicWrite(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("persisting identity key: %w", err)
	}

	return fromLibp2pKey(libp2pPriv)
}

func fromLibp2pKey(k libp2pcrypto.PrivKey) (*Identity, error) {
	raw, err := k.Raw()
	if err != nil {
		return nil, fmt.Errorf("extracting raw key bytes: %w", err)
	}
	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)

	id, err := peer.IDFromPrivateKey(k)
	if err != nil {
		return nil, fmt.Errorf("deriving peer id: %w", err)
	}
	return &Identity{Priv: priv, Pub: pub, PeerID: id}, nil
}

// AtomicWrite writes data to path by first writing to a temp file in the
// same directory, then renaming it into place, so a crash mid-write never
// leaves a truncated or corrupt file. Shared with pkg/storage, which applies
// the same discipline to alias.txt/description.txt.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".identity-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
