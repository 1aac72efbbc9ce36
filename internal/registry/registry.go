// Package registry tracks agents and teams, deduplicates delivered
// message content, and resolves cascading messages. State is held in
// memory and mirrored to append-only JSONL journals.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/termhive/termhive/internal/message"
	"github.com/termhive/termhive/internal/metrics"
	"github.com/termhive/termhive/internal/validate"
)

// Sentinel errors surfaced by registry operations.
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidName = errors.New("invalid name")
	// ErrPersist wraps journal write failures. The in-memory mutation is
	// kept so the caller may retry.
	ErrPersist = errors.New("persist failed")
)

// DefaultMessageHistory bounds the dedup FIFO.
const DefaultMessageHistory = 1000

// Agent is a logical actor bound to exactly one pane.
type Agent struct {
	Name      string            `json:"name"`
	PaneID    string            `json:"pane_id"`
	Teams     []string          `json:"teams,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Team is a named group of agents, optionally nested under a parent.
// Membership lives on the Agent, not here.
type Team struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ParentTeam  string    `json:"parent_team,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// MessageRecord pairs delivered content with its recipients for dedup.
type MessageRecord struct {
	ContentHash string    `json:"content_hash"`
	Recipients  []string  `json:"recipients"`
	Timestamp   time.Time `json:"timestamp"`
}

// LockReleaser is notified when an agent is removed so its pane locks
// can be dropped. Absent in stand-alone use.
type LockReleaser interface {
	ReleaseByAgent(agent string)
}

// Options configures a Registry.
type Options struct {
	// Journal persists mutations. Nil keeps the registry memory-only.
	Journal *Journal
	// MessageHistory caps the dedup FIFO. Zero means DefaultMessageHistory.
	MessageHistory int
	// Locks is notified on agent removal. Optional.
	Locks LockReleaser
}

// Registry is the agent and team registry. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	agents     map[string]*Agent
	agentOrder []string // registration order; drives team first-member resolution
	teams      map[string]*Team
	teamOrder  []string
	activePane string
	history    []MessageRecord // bounded FIFO, oldest first
	historyCap int
	journal    *Journal
	locks      LockReleaser
}

// New creates a Registry and, when a journal is configured, replays it.
func New(opts Options) (*Registry, error) {
	cap := opts.MessageHistory
	if cap <= 0 {
		cap = DefaultMessageHistory
	}
	r := &Registry{
		agents:     make(map[string]*Agent),
		teams:      make(map[string]*Team),
		historyCap: cap,
		journal:    opts.Journal,
		locks:      opts.Locks,
	}
	if r.journal != nil {
		if err := r.replay(); err != nil {
			return nil, fmt.Errorf("replay journals: %w", err)
		}
	}
	r.updateGauges()
	return r, nil
}

// SetLockReleaser attaches the lock manager after construction. The
// guard and registry reference each other, so one side is wired late.
func (r *Registry) SetLockReleaser(l LockReleaser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locks = l
}

// Register adds or updates an agent. Re-registering a name updates it
// in place (the newest registration wins). If the pane is already
// bound to a different agent, that binding is removed first: a pane
// hosts at most one agent.
func (r *Registry) Register(name, paneID string, teams []string, metadata map[string]string) (*Agent, error) {
	clean, err := validate.SanitizeName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidName, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev := r.agentByPaneLocked(paneID); prev != nil && prev.Name != clean {
		r.removeAgentLocked(prev.Name)
	}

	a, exists := r.agents[clean]
	if !exists {
		a = &Agent{Name: clean, CreatedAt: time.Now().UTC()}
		r.agents[clean] = a
		r.agentOrder = append(r.agentOrder, clean)
	}
	a.PaneID = paneID
	a.Teams = normalizeTeams(teams)
	a.Metadata = metadata

	r.updateGauges()
	if err := r.persistAgentsLocked(); err != nil {
		return cloneAgent(a), err
	}
	slog.Debug("agent registered", "agent", clean, "pane_id", paneID, "teams", a.Teams)
	return cloneAgent(a), nil
}

// Get returns the agent with the given name.
func (r *Registry) Get(name string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("agent %q: %w", name, ErrNotFound)
	}
	return cloneAgent(a), nil
}

// GetByPane returns the agent bound to the given pane.
func (r *Registry) GetByPane(paneID string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a := r.agentByPaneLocked(paneID); a != nil {
		return cloneAgent(a), nil
	}
	return nil, fmt.Errorf("pane %q has no agent: %w", paneID, ErrNotFound)
}

// Remove deletes an agent and releases any pane locks it holds.
// Returns false when the agent does not exist.
func (r *Registry) Remove(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[name]; !ok {
		return false, nil
	}
	r.removeAgentLocked(name)
	r.updateGauges()
	if err := r.persistAgentsLocked(); err != nil {
		return true, err
	}
	slog.Debug("agent removed", "agent", name)
	return true, nil
}

// List returns agents in registration order, optionally filtered by team.
func (r *Registry) List(team string) []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Agent, 0, len(r.agentOrder))
	for _, name := range r.agentOrder {
		a := r.agents[name]
		if team != "" && !contains(a.Teams, team) {
			continue
		}
		out = append(out, cloneAgent(a))
	}
	return out
}

// AssignToTeam adds an agent to a team. Both must exist.
func (r *Registry) AssignToTeam(agent, team string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agent]
	if !ok {
		return false, fmt.Errorf("agent %q: %w", agent, ErrNotFound)
	}
	if _, ok := r.teams[team]; !ok {
		return false, fmt.Errorf("team %q: %w", team, ErrNotFound)
	}
	if contains(a.Teams, team) {
		return true, nil
	}
	a.Teams = append(a.Teams, team)
	return true, r.persistAgentsLocked()
}

// RemoveFromTeam removes an agent from a team's membership.
func (r *Registry) RemoveFromTeam(agent, team string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agent]
	if !ok {
		return false, fmt.Errorf("agent %q: %w", agent, ErrNotFound)
	}
	before := len(a.Teams)
	a.Teams = remove(a.Teams, team)
	if len(a.Teams) == before {
		return false, nil
	}
	return true, r.persistAgentsLocked()
}

// ActivePane returns the currently active pane id, or "".
func (r *Registry) ActivePane() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activePane
}

// SetActivePane records the active pane. Last writer wins.
func (r *Registry) SetActivePane(paneID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activePane = paneID
}

// ActiveAgent returns the agent bound to the active pane, or nil.
func (r *Registry) ActiveAgent() *Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activePane == "" {
		return nil
	}
	if a := r.agentByPaneLocked(r.activePane); a != nil {
		return cloneAgent(a)
	}
	return nil
}

// removeAgentLocked drops an agent from all internal structures and
// notifies the lock manager. Caller holds r.mu.
func (r *Registry) removeAgentLocked(name string) {
	delete(r.agents, name)
	r.agentOrder = remove(r.agentOrder, name)
	if r.locks != nil {
		r.locks.ReleaseByAgent(name)
	}
}

func (r *Registry) agentByPaneLocked(paneID string) *Agent {
	if paneID == "" {
		return nil
	}
	for _, name := range r.agentOrder {
		if r.agents[name].PaneID == paneID {
			return r.agents[name]
		}
	}
	return nil
}

func (r *Registry) updateGauges() {
	metrics.RegisteredAgents.Set(float64(len(r.agents)))
	metrics.RegisteredTeams.Set(float64(len(r.teams)))
}

func cloneAgent(a *Agent) *Agent {
	c := *a
	c.Teams = append([]string(nil), a.Teams...)
	if a.Metadata != nil {
		c.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func normalizeTeams(teams []string) []string {
	return validate.SanitizeTags(teams)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// hashContent is the dedup hash of delivered content.
func hashContent(content string) string {
	return message.HashText(content)
}
