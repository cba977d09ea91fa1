package client

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/coopsweeper/go/internal/models"
)

const (
	playerIDPrefix   = "player_"
	playerIDLength   = 7
	playerIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

type identityFile struct {
	Players map[string]models.PlayerID `yaml:"players"`
}

// IdentityStore remembers the local player id per game in a YAML file, so a
// player keeps their id (and score) across restarts.
type IdentityStore struct {
	path string
	mu   sync.Mutex
	rand *rand.Rand
}

type IdentityOption func(*IdentityStore)

// WithIdentityRand makes generated ids deterministic.
func WithIdentityRand(r *rand.Rand) IdentityOption {
	return func(s *IdentityStore) { s.rand = r }
}

func NewIdentityStore(path string, opts ...IdentityOption) *IdentityStore {
	s := &IdentityStore{path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultIdentityPath is identity.yaml under the user's config directory.
func DefaultIdentityPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config dir: %w", err)
	}
	return filepath.Join(dir, "coopsweeper", "identity.yaml"), nil
}

// GetOrCreatePlayerID returns the stored id for gameID, generating and
// persisting a new one on first use.
func (s *IdentityStore) GetOrCreatePlayerID(gameID string) (models.PlayerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return "", err
	}
	if id, ok := f.Players[gameID]; ok && id != "" {
		return id, nil
	}

	id := s.newPlayerID()
	f.Players[gameID] = id
	if err := s.write(f); err != nil {
		return "", err
	}
	return id, nil
}

func (s *IdentityStore) newPlayerID() models.PlayerID {
	b := make([]byte, playerIDLength)
	for i := range b {
		var n int
		if s.rand != nil {
			n = s.rand.IntN(len(playerIDAlphabet))
		} else {
			n = rand.IntN(len(playerIDAlphabet))
		}
		b[i] = playerIDAlphabet[n]
	}
	return models.PlayerID(playerIDPrefix + string(b))
}

func (s *IdentityStore) read() (*identityFile, error) {
	f := &identityFile{}
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	default:
		if err := yaml.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("failed to parse identity file: %w", err)
		}
	}
	if f.Players == nil {
		f.Players = make(map[string]models.PlayerID)
	}
	return f, nil
}

func (s *IdentityStore) write(f *identityFile) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode identity file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create identity dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace identity file: %w", err)
	}
	return nil
}
