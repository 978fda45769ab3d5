// Package agentinfo records build facts in a JSON file shared with the build
// agent that invoked dastctl.
package agentinfo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ahrav/dastctl/internal/domain/artifact"
)

var _ artifact.AgentInfoWriter = (*File)(nil)

// File is a flat JSON object on disk. Writing a key keeps every other key.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a File at path.
func NewFile(path string) *File { return &File{path: path} }

// WriteAgentInfo sets key to value.
func (f *File) WriteAgentInfo(key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	values[key] = value

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode agent info: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create agent info dir: %w", err)
		}
	}
	if err := os.WriteFile(f.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write agent info: %w", err)
	}
	return nil
}

// Values returns the current contents.
func (f *File) Values() (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *File) read() (map[string]any, error) {
	values := make(map[string]any)
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read agent info: %w", err)
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse agent info %s: %w", f.path, err)
	}
	return values, nil
}
