// Package session tracks per-pane runtime state and maps stable
// persistent ids to backend pane ids so sessions survive restarts.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/termhive/termhive/internal/id"
)

// ErrSessionNotFound is returned for operations on unknown panes.
var ErrSessionNotFound = errors.New("session not found")

// State is the runtime record for one pane.
type State struct {
	PaneID           string         `json:"pane_id"`
	PersistentID     string         `json:"persistent_id"`
	Name             string         `json:"name,omitempty"`
	MaxLines         int            `json:"max_lines,omitempty"`
	IsMonitoring     bool           `json:"is_monitoring"`
	LastScreenUpdate time.Time      `json:"last_screen_update"`
	LastCommand      string         `json:"last_command,omitempty"`
	LastOutput       string         `json:"last_output,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// persistedSession is the on-disk record keyed by persistent id.
type persistedSession struct {
	PaneID string `json:"pane_id"`
	Name   string `json:"name,omitempty"`
}

// Tracker owns the pane-id -> State map and the persistent id file.
// An empty path keeps everything in memory.
type Tracker struct {
	mu       sync.Mutex
	path     string
	sessions map[string]*State
}

// NewTracker loads (or creates) a tracker backed by path.
func NewTracker(path string) (*Tracker, error) {
	t := &Tracker{
		path:     path,
		sessions: make(map[string]*State),
	}
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sessions file: %w", err)
	}
	var persisted map[string]persistedSession
	if err := json.Unmarshal(data, &persisted); err != nil {
		return nil, fmt.Errorf("decode sessions file: %w", err)
	}
	for pid, rec := range persisted {
		t.sessions[rec.PaneID] = &State{
			PaneID:       rec.PaneID,
			PersistentID: pid,
			Name:         rec.Name,
		}
	}
	return t, nil
}

// Track registers a pane, minting a persistent id when the caller
// does not supply one, and returns a copy of the state.
func (t *Tracker) Track(paneID, persistentID, name string) (*State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if persistentID == "" {
		persistentID = id.Generate()
	}
	s, ok := t.sessions[paneID]
	if !ok {
		s = &State{PaneID: paneID, PersistentID: persistentID}
		t.sessions[paneID] = s
	}
	if name != "" {
		s.Name = name
	}
	if err := t.flushLocked(); err != nil {
		return nil, err
	}
	out := *s
	return &out, nil
}

// Get returns a copy of the state for a pane.
func (t *Tracker) Get(paneID string) (*State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[paneID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, paneID)
	}
	out := *s
	return &out, nil
}

// ByPersistentID returns the state carrying the given persistent id.
func (t *Tracker) ByPersistentID(persistentID string) (*State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.sessions {
		if s.PersistentID == persistentID {
			out := *s
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: persistent id %q", ErrSessionNotFound, persistentID)
}

// Update applies fn to the pane's state under the lock.
func (t *Tracker) Update(paneID string, fn func(*State)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[paneID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, paneID)
	}
	fn(s)
	return t.flushLocked()
}

// RecordCommand notes the last command sent to a pane.
func (t *Tracker) RecordCommand(paneID, command string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[paneID]; ok {
		s.LastCommand = command
	}
}

// RecordOutput notes the latest screen capture for a pane.
func (t *Tracker) RecordOutput(paneID, output string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[paneID]; ok {
		s.LastOutput = output
		s.LastScreenUpdate = time.Now().UTC()
	}
}

// Forget removes a pane, reporting whether it was tracked.
func (t *Tracker) Forget(paneID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[paneID]; !ok {
		return false, nil
	}
	delete(t.sessions, paneID)
	return true, t.flushLocked()
}

// List returns copies of all tracked states.
func (t *Tracker) List() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]State, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	return out
}

// Snapshot returns the tracked states keyed by pane id, for
// checkpointing.
func (t *Tracker) Snapshot() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]State, len(t.sessions))
	for paneID, s := range t.sessions {
		out[paneID] = *s
	}
	return out
}

// Restore replaces the tracked states from a checkpoint.
func (t *Tracker) Restore(states map[string]State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions = make(map[string]*State, len(states))
	for paneID, s := range states {
		copied := s
		copied.PaneID = paneID
		t.sessions[paneID] = &copied
	}
	return t.flushLocked()
}

func (t *Tracker) flushLocked() error {
	if t.path == "" {
		return nil
	}
	persisted := make(map[string]persistedSession, len(t.sessions))
	for _, s := range t.sessions {
		persisted[s.PersistentID] = persistedSession{PaneID: s.PaneID, Name: s.Name}
	}
	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	return os.Rename(tmp, t.path)
}
