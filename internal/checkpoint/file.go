package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const indexFile = "index.json"

// FileStore keeps one JSON blob per checkpoint in a directory plus an
// index file of summaries.
type FileStore struct {
	mu    sync.Mutex
	dir   string
	index []Summary
}

// NewFileStore opens (or creates) a file-backed checkpoint store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	s := &FileStore{dir: dir}
	if err := s.loadIndex(); err != nil {
		return nil, fmt.Errorf("load checkpoint index: %w", err)
	}
	return s, nil
}

func (s *FileStore) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.dir, indexFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, &s.index); err != nil {
		// Corrupt index: rebuild lazily from an empty one rather than
		// refusing to start.
		slog.Warn("corrupt checkpoint index, starting empty", "error", err)
		s.index = nil
	}
	return nil
}

// flushIndexLocked rewrites the index file. Caller holds s.mu.
func (s *FileStore) flushIndexLocked() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, indexFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) blobPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes the checkpoint blob and updates the index.
func (s *FileStore) Save(ctx context.Context, c *Checkpoint) (string, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.blobPath(c.CheckpointID), data, 0o600); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}

	s.index = append(s.index, summarize(c))
	if err := s.flushIndexLocked(); err != nil {
		return "", fmt.Errorf("write checkpoint index: %w", err)
	}
	return c.CheckpointID, nil
}

// Load returns the checkpoint, or nil when missing or corrupt.
func (s *FileStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.blobPath(id))
	if err != nil {
		return nil, nil
	}
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		slog.Warn("corrupt checkpoint blob", "checkpoint_id", id, "error", err)
		return nil, nil
	}
	return &c, nil
}

// List returns summaries newest-first.
func (s *FileStore) List(ctx context.Context, sessionID string, limit int) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, 0, len(s.index))
	for _, sum := range s.index {
		if sessionID != "" && !containsSession(sum.SessionIDs, sessionID) {
			continue
		}
		out = append(out, sum)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a checkpoint blob and its index entry.
func (s *FileStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	kept := s.index[:0:0]
	for _, sum := range s.index {
		if sum.CheckpointID == id {
			found = true
			continue
		}
		kept = append(kept, sum)
	}
	if !found {
		return false, nil
	}
	s.index = kept

	if err := os.Remove(s.blobPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return true, err
	}
	return true, s.flushIndexLocked()
}

// Latest returns the newest checkpoint, or nil when there is none.
func (s *FileStore) Latest(ctx context.Context, sessionID string) (*Checkpoint, error) {
	sums, err := s.List(ctx, sessionID, 1)
	if err != nil || len(sums) == 0 {
		return nil, err
	}
	return s.Load(ctx, sums[0].CheckpointID)
}
