// Package credentials persists the vulnerability-management session token
// and obtains credentials from the operator.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/dastctl/internal/domain/artifact"
)

var _ artifact.TokenStore = (*FileStore)(nil)

type tokenFile struct {
	Token     string    `yaml:"token"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// FileStore keeps the token in a YAML file readable only by its owner.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileStore creates a FileStore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// LoadToken returns the stored token, or "" when none has been saved.
func (s *FileStore) LoadToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}

	var tf tokenFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return "", fmt.Errorf("failed to parse token file %s: %w", s.path, err)
	}
	return tf.Token, nil
}

// SaveToken replaces the stored token.
func (s *FileStore) SaveToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(tokenFile{Token: token, UpdatedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// ClearToken removes the stored token. Clearing an empty store is not an error.
func (s *FileStore) ClearToken(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}
