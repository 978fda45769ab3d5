// Package issues persists annotated scan issues as newline-delimited JSON,
// one append-only file per scan.
package issues

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ahrav/dastctl/internal/domain/scanning"
)

// FileExt is appended to the scan name to form the output file name.
const FileExt = ".issues"

var errClosed = errors.New("issue writer is closed")

var _ scanning.IssueSink = (*Sink)(nil)

// Sink opens <dir>/<scan_name>.issues for each scan.
type Sink struct{ dir string }

// NewSink creates a Sink rooted at dir.
func NewSink(dir string) *Sink { return &Sink{dir: dir} }

// Path returns the file the issues of scanName are written to.
func (s *Sink) Path(scanName string) string {
	return filepath.Join(s.dir, filepath.Base(scanName)+FileExt)
}

// Open opens the scan's file for appending, creating it and its directory
// when needed.
func (s *Sink) Open(scanName string) (scanning.IssueWriter, error) {
	path := s.Path(scanName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create issue dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &Writer{f: f}, nil
}

// Writer appends one JSON object per line. Each record is written with a
// single call so concurrent writers never interleave within a line.
type Writer struct {
	mu sync.Mutex
	f  *os.File
}

// Write appends record as one line.
func (w *Writer) Write(record map[string]any) error {
	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode issue: %w", err)
	}
	b = append(b, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return errClosed
	}
	_, err = w.f.Write(b)
	return err
}

// Close closes the file. Closing twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
