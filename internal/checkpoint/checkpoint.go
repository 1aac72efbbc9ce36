// Package checkpoint snapshots and restores the registry and per-pane
// session metadata. Checkpoints are immutable once saved and are
// addressed by a UUID or by "latest".
package checkpoint

import (
	"context"
	"time"

	"github.com/termhive/termhive/internal/registry"
)

// Version is stamped into every checkpoint for forward compatibility.
const Version = "1"

// SessionState is the per-pane metadata captured in a checkpoint.
type SessionState struct {
	PaneID           string         `json:"pane_id"`
	PersistentID     string         `json:"persistent_id,omitempty"`
	Name             string         `json:"name,omitempty"`
	MaxLines         int            `json:"max_lines,omitempty"`
	IsMonitoring     bool           `json:"is_monitoring"`
	LastScreenUpdate time.Time      `json:"last_screen_update"`
	LastCommand      string         `json:"last_command,omitempty"`
	LastOutput       string         `json:"last_output,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Checkpoint is one immutable snapshot.
type Checkpoint struct {
	CheckpointID string                  `json:"checkpoint_id"`
	CreatedAt    time.Time               `json:"created_at"`
	Version      string                  `json:"version"`
	Trigger      string                  `json:"trigger"`
	Sessions     map[string]SessionState `json:"sessions,omitempty"`
	Registry     *registry.Snapshot      `json:"registry,omitempty"`
	Metadata     map[string]any          `json:"metadata,omitempty"`
}

// Summary is the listing view of a checkpoint.
type Summary struct {
	CheckpointID string    `json:"checkpoint_id"`
	CreatedAt    time.Time `json:"created_at"`
	Trigger      string    `json:"trigger"`
	SessionIDs   []string  `json:"session_ids,omitempty"`
	HasRegistry  bool      `json:"has_registry"`
}

// Checkpointer is the storage contract. Load and Latest return nil for
// a missing or corrupt checkpoint so callers can treat it as a cache
// miss; Save surfaces backend errors.
type Checkpointer interface {
	Save(ctx context.Context, c *Checkpoint) (string, error)
	Load(ctx context.Context, id string) (*Checkpoint, error)
	// List returns summaries newest-first, optionally filtered to
	// checkpoints containing the given session.
	List(ctx context.Context, sessionID string, limit int) ([]Summary, error)
	Delete(ctx context.Context, id string) (bool, error)
	Latest(ctx context.Context, sessionID string) (*Checkpoint, error)
}

func summarize(c *Checkpoint) Summary {
	s := Summary{
		CheckpointID: c.CheckpointID,
		CreatedAt:    c.CreatedAt,
		Trigger:      c.Trigger,
		HasRegistry:  c.Registry != nil,
	}
	for paneID := range c.Sessions {
		s.SessionIDs = append(s.SessionIDs, paneID)
	}
	return s
}

func containsSession(sessionIDs []string, sessionID string) bool {
	for _, id := range sessionIDs {
		if id == sessionID {
			return true
		}
	}
	return false
}
