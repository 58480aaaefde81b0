// Package storage implements §4.11's Storage capability interface and ships
// an in-memory reference implementation, generalizing the teacher's
// pkg/libp2p/storage.go (which only persisted the identity key) into the
// full story/channel/alias/description persistence surface the spec needs.
// Stories and channels stay process-memory only; a host that wants a full
// durable backing store (e.g. SQLite-backed) supplies its own implementation
// per §1's non-goal. Alias and description are explicitly in scope for
// small-file persistence alongside identity (§3.1), so Memory writes
// alias.txt/description.txt under its identity directory using the same
// atomic-write discipline as pkg/identity.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	coreerrors "github.com/baderanaas/gostoryd/pkg/core/errors"
	"github.com/baderanaas/gostoryd/pkg/core/model"
	"github.com/baderanaas/gostoryd/pkg/identity"
)

const (
	aliasFileName       = "alias.txt"
	descriptionFileName = "description.txt"
)

// Storage is the persistence boundary. pkg/node calls it from its pubsub and
// stream-handler goroutines and also from the event loop itself (SetAlias for
// the SetAlias command, Alias on the SendDirect path).
type Storage interface {
	SaveStory(s model.Story) error
	StoriesSince(channels []string, ts int64) ([]model.Story, error)
	SaveChannel(c model.Channel) error
	Channels() ([]model.Channel, error)
	Alias() (string, bool)
	SetAlias(alias string) error
	Description() (model.NodeDescription, error)
	SetDescription(desc model.NodeDescription) error
}

// Memory is an in-process Storage backed by maps, safe for concurrent use by
// worker tasks. When dir is non-empty, alias and description additionally
// survive a restart via alias.txt/description.txt under dir.
type Memory struct {
	mu          sync.RWMutex
	dir         string
	stories     []model.Story
	channels    map[string]model.Channel
	alias       string
	aliasSet    bool
	description model.NodeDescription
}

// NewMemory returns a Memory with no backing directory: alias and
// description live in process memory only, for tests and hosts that don't
// need them to survive a restart.
func NewMemory() *Memory {
	return &Memory{channels: make(map[string]model.Channel)}
}

// NewMemoryAt returns a Memory that persists alias/description under dir,
// loading whatever alias.txt/description.txt it finds there (per §3.1, the
// same small-file treatment identity.key already gets).
func NewMemoryAt(dir string) (*Memory, error) {
	m := &Memory{dir: dir, channels: make(map[string]model.Channel)}

	alias, err := readFileIfExists(filepath.Join(dir, aliasFileName))
	if err != nil {
		return nil, err
	}
	if alias != nil {
		m.alias = string(alias)
		m.aliasSet = true
	}

	raw, err := readFileIfExists(filepath.Join(dir, descriptionFileName))
	if err != nil {
		return nil, err
	}
	if raw != nil {
		var desc model.NodeDescription
		if err := json.Unmarshal(raw, &desc); err != nil {
			return nil, err
		}
		m.description = desc
	}

	return m, nil
}

func readFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (m *Memory) SaveStory(s model.Story) error {
	if !model.ValidateStory(s) {
		return coreerrors.New(coreerrors.Validation, "story exceeds length limits", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stories = append(m.stories, s)
	return nil
}

// StoriesSince returns every stored story on one of the given channels with
// CreatedAt strictly after ts, ordered by CreatedAt ascending. An empty
// channels list matches every channel.
func (m *Memory) StoriesSince(channels []string, ts int64) ([]model.Story, error) {
	wanted := make(map[string]bool, len(channels))
	for _, c := range channels {
		wanted[c] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Story
	for _, s := range m.stories {
		if s.CreatedAt <= ts {
			continue
		}
		if len(wanted) > 0 && !wanted[s.Channel] {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

// SaveChannel stores c, unless a channel with the same name already exists:
// per §3, channel names are unique per node and a conflict on reception keeps
// the local definition rather than overwriting it.
func (m *Memory) SaveChannel(c model.Channel) error {
	if !model.ValidChannelName(c.Name) {
		return coreerrors.New(coreerrors.Validation, "invalid channel name", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[c.Name]; exists {
		return nil
	}
	m.channels[c.Name] = c
	return nil
}

func (m *Memory) Channels() ([]model.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Channel, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Alias() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.alias, m.aliasSet
}

func (m *Memory) SetAlias(alias string) error {
	if !model.ValidAlias(alias) {
		return coreerrors.New(coreerrors.Validation, "invalid alias", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dir != "" {
		if err := identity.AtomicWrite(filepath.Join(m.dir, aliasFileName), []byte(alias), 0o600); err != nil {
			return coreerrors.New(coreerrors.Persistence, "persisting alias", err)
		}
	}
	m.alias = alias
	m.aliasSet = true
	return nil
}

func (m *Memory) Description() (model.NodeDescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.description, nil
}

func (m *Memory) SetDescription(desc model.NodeDescription) error {
	if len(desc.Text) > model.MaxDescription {
		return coreerrors.New(coreerrors.Validation, "description exceeds length limit", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	desc.Set = true
	if m.dir != "" {
		raw, err := json.Marshal(desc)
		if err != nil {
			return coreerrors.New(coreerrors.Persistence, "encoding description", err)
		}
		if err := identity.AtomicWrite(filepath.Join(m.dir, descriptionFileName), raw, 0o600); err != nil {
			return coreerrors.New(coreerrors.Persistence, "persisting description", err)
		}
	}
	m.description = desc
	return nil
}
