// Package guard holds the per-pane write-permission and UI-switching
// policy primitives: tag sets, advisory write locks, and the global
// focus-change cooldown. All state is in-process.
package guard

import (
	"sync"
	"time"

	"github.com/termhive/termhive/internal/metrics"
	"github.com/termhive/termhive/internal/validate"
)

// DefaultFocusCooldown debounces cross-agent focus changes.
const DefaultFocusCooldown = 5 * time.Second

// Manager is the tag/lock/focus manager. Safe for concurrent use; all
// operations are O(1) and non-blocking.
type Manager struct {
	mu    sync.Mutex
	tags  map[string][]string // paneID -> tag set (ordered)
	locks map[string]string   // paneID -> owning agent

	cooldown  time.Duration
	lastFocus time.Time // monotonic; zero means no prior focus
	lastPane  string
	lastAgent string

	now func() time.Time // test hook
}

// New creates a Manager. A non-positive cooldown selects the default.
func New(cooldown time.Duration) *Manager {
	if cooldown <= 0 {
		cooldown = DefaultFocusCooldown
	}
	return &Manager{
		tags:     make(map[string][]string),
		locks:    make(map[string]string),
		cooldown: cooldown,
		now:      time.Now,
	}
}

// SetTags replaces or appends to a pane's tag set and returns the
// resulting tags. Tags are trimmed and de-duplicated; replacing with
// an empty list clears the set.
func (m *Manager) SetTags(paneID string, tags []string, append_ bool) []string {
	clean := validate.SanitizeTags(tags)

	m.mu.Lock()
	defer m.mu.Unlock()

	if append_ {
		clean = validate.SanitizeTags(append(m.tags[paneID], clean...))
	}
	if len(clean) == 0 {
		delete(m.tags, paneID)
		return []string{}
	}
	m.tags[paneID] = clean
	return copyTags(clean)
}

// RemoveTags removes the given tags and returns what remains.
func (m *Manager) RemoveTags(paneID string, tags []string) []string {
	drop := make(map[string]bool, len(tags))
	for _, t := range validate.SanitizeTags(tags) {
		drop[t] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.tags[paneID][:0:0]
	for _, t := range m.tags[paneID] {
		if !drop[t] {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(m.tags, paneID)
		return []string{}
	}
	m.tags[paneID] = kept
	return copyTags(kept)
}

// GetTags returns a pane's tags.
func (m *Manager) GetTags(paneID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyTags(m.tags[paneID])
}

// Lock acquires the pane's write lock for the agent. Acquiring a lock
// the agent already holds succeeds. When another agent holds it, the
// call fails fast and reports the current owner.
func (m *Manager) Lock(paneID, agent string) (acquired bool, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, held := m.locks[paneID]
	if held && cur != agent {
		return false, cur
	}
	if !held {
		m.locks[paneID] = agent
		metrics.ActiveLocks.Set(float64(len(m.locks)))
	}
	return true, agent
}

// Unlock releases the pane's lock. It succeeds when the pane is
// unlocked, when the agent matches the owner, or when agent is empty
// (admin override).
func (m *Manager) Unlock(paneID, agent string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, held := m.locks[paneID]
	if !held {
		return true
	}
	if agent != "" && cur != agent {
		return false
	}
	delete(m.locks, paneID)
	metrics.ActiveLocks.Set(float64(len(m.locks)))
	return true
}

// CheckWrite reports whether the requester may write to the pane:
// allowed iff the pane is unlocked or the requester owns the lock.
func (m *Manager) CheckWrite(paneID, requester string) (allowed bool, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, held := m.locks[paneID]
	if !held || cur == requester {
		return true, cur
	}
	return false, cur
}

// ReleaseByAgent drops every lock the agent holds. Called by the
// registry on agent removal.
func (m *Manager) ReleaseByAgent(agent string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for pane, owner := range m.locks {
		if owner == agent {
			delete(m.locks, pane)
		}
	}
	metrics.ActiveLocks.Set(float64(len(m.locks)))
}

// CheckFocus reports whether the agent may focus the pane. Denied only
// when a different agent focused a different pane within the cooldown;
// the remaining wait is returned alongside the blocking agent.
func (m *Manager) CheckFocus(paneID, agent string) (allowed bool, blocker string, remaining time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastFocus.IsZero() {
		return true, "", 0
	}
	if agent == m.lastAgent || paneID == m.lastPane {
		return true, "", 0
	}
	elapsed := m.now().Sub(m.lastFocus)
	if elapsed >= m.cooldown {
		return true, "", 0
	}
	metrics.FocusDenied.Inc()
	return false, m.lastAgent, m.cooldown - elapsed
}

// RecordFocus stamps the focus state after a successful focus change.
func (m *Manager) RecordFocus(paneID, agent string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFocus = m.now()
	m.lastPane = paneID
	m.lastAgent = agent
}

// ResetFocus clears the cooldown state. For tests and admin use.
func (m *Manager) ResetFocus() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFocus = time.Time{}
	m.lastPane = ""
	m.lastAgent = ""
}

func copyTags(tags []string) []string {
	if len(tags) == 0 {
		return []string{}
	}
	return append([]string(nil), tags...)
}
