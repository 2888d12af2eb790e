package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONStore writes each transcript to <dir>/<branch-id>.json.
type JSONStore struct {
	dir string
	mu  sync.Mutex
}

// NewJSONStore creates the directory if needed.
func NewJSONStore(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	return &JSONStore{dir: dir}, nil
}

// Dir returns the store directory.
func (s *JSONStore) Dir() string { return s.dir }

func (s *JSONStore) path(branchID string) string {
	return filepath.Join(s.dir, branchID+".json")
}

// Save writes the transcript atomically via a temp file rename.
func (s *JSONStore) Save(ctx context.Context, t Transcript) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.BranchID == "" {
		return errors.New("transcript: branch id is required")
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path(t.BranchID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := os.Rename(tmp, s.path(t.BranchID)); err != nil {
		return fmt.Errorf("rename transcript: %w", err)
	}
	return nil
}

// Load reads a transcript; ErrNotFound if missing.
func (s *JSONStore) Load(ctx context.Context, branchID string) (*Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(branchID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return &t, nil
}
