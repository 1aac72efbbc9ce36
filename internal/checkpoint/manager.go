package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/termhive/termhive/internal/metrics"
)

// Manager stamps ids and timestamps on checkpoints, tracks the most
// recent save, and decides when an automatic checkpoint is due.
type Manager struct {
	store Checkpointer

	mu           sync.Mutex
	lastID       string
	opsSinceSave int
	autoEnabled  bool
	autoInterval int
}

// ManagerOptions tunes automatic checkpointing.
type ManagerOptions struct {
	AutoCheckpoint bool
	// AutoInterval is the number of recorded operations between
	// automatic checkpoints. Values below 1 fall back to 10.
	AutoInterval int
}

// NewManager wraps a storage backend.
func NewManager(store Checkpointer, opts ManagerOptions) *Manager {
	if opts.AutoInterval < 1 {
		opts.AutoInterval = 10
	}
	return &Manager{
		store:        store,
		autoEnabled:  opts.AutoCheckpoint,
		autoInterval: opts.AutoInterval,
	}
}

// Create fills in id, timestamp, and version, then saves the
// checkpoint and resets the auto-checkpoint counter.
func (m *Manager) Create(ctx context.Context, c *Checkpoint) (string, error) {
	if c.CheckpointID == "" {
		c.CheckpointID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Version = Version
	if c.Trigger == "" {
		c.Trigger = "manual"
	}

	id, err := m.store.Save(ctx, c)
	if err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}

	m.mu.Lock()
	m.lastID = id
	m.opsSinceSave = 0
	m.mu.Unlock()

	metrics.CheckpointsSaved.Inc()
	return id, nil
}

// Restore loads the checkpoint with the given id, or the newest one
// when id is empty or "latest". Returns nil when nothing matches.
func (m *Manager) Restore(ctx context.Context, id string) (*Checkpoint, error) {
	if id == "" || id == "latest" {
		return m.store.Latest(ctx, "")
	}
	return m.store.Load(ctx, id)
}

// RecordOperation counts one mutating operation toward the automatic
// checkpoint interval.
func (m *Manager) RecordOperation() {
	m.mu.Lock()
	m.opsSinceSave++
	m.mu.Unlock()
}

// ShouldAutoCheckpoint reports whether enough operations have
// accumulated since the last save.
func (m *Manager) ShouldAutoCheckpoint() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoEnabled && m.opsSinceSave >= m.autoInterval
}

// List returns stored summaries newest-first.
func (m *Manager) List(ctx context.Context, sessionID string, limit int) ([]Summary, error) {
	return m.store.List(ctx, sessionID, limit)
}

// Delete removes a checkpoint, reporting whether it existed.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	return m.store.Delete(ctx, id)
}

// LastID returns the id of the most recent save, if any.
func (m *Manager) LastID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastID
}
