package registry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/termhive/termhive/internal/validate"
)

// CreateTeam adds a team. Parent, when set, must exist and must not
// introduce a cycle. Duplicate creates update the description/parent
// in place.
func (r *Registry) CreateTeam(name, description, parent string) (*Team, error) {
	clean, err := validate.SanitizeName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidName, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if parent != "" {
		if _, ok := r.teams[parent]; !ok {
			return nil, fmt.Errorf("parent team %q: %w", parent, ErrNotFound)
		}
		if r.wouldCycleLocked(clean, parent) {
			return nil, fmt.Errorf("%w: team %q cannot be its own ancestor", ErrInvalidName, clean)
		}
	}

	t, exists := r.teams[clean]
	if !exists {
		t = &Team{Name: clean, CreatedAt: time.Now().UTC()}
		r.teams[clean] = t
		r.teamOrder = append(r.teamOrder, clean)
	}
	t.Description = description
	t.ParentTeam = parent

	r.updateGauges()
	if err := r.persistTeamsLocked(); err != nil {
		return cloneTeam(t), err
	}
	slog.Debug("team created", "team", clean, "parent", parent)
	return cloneTeam(t), nil
}

// GetTeam returns a team by name.
func (r *Registry) GetTeam(name string) (*Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.teams[name]
	if !ok {
		return nil, fmt.Errorf("team %q: %w", name, ErrNotFound)
	}
	return cloneTeam(t), nil
}

// RemoveTeam deletes a team, removes it from every agent's membership
// list, and detaches any child teams. Returns false when absent.
func (r *Registry) RemoveTeam(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.teams[name]; !ok {
		return false, nil
	}
	delete(r.teams, name)
	r.teamOrder = remove(r.teamOrder, name)

	agentsDirty := false
	for _, a := range r.agents {
		before := len(a.Teams)
		a.Teams = remove(a.Teams, name)
		agentsDirty = agentsDirty || len(a.Teams) != before
	}
	for _, t := range r.teams {
		if t.ParentTeam == name {
			t.ParentTeam = ""
		}
	}

	r.updateGauges()
	if err := r.persistTeamsLocked(); err != nil {
		return true, err
	}
	if agentsDirty {
		if err := r.persistAgentsLocked(); err != nil {
			return true, err
		}
	}
	slog.Debug("team removed", "team", name)
	return true, nil
}

// ListTeams returns all teams in creation order.
func (r *Registry) ListTeams() []*Team {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Team, 0, len(r.teamOrder))
	for _, name := range r.teamOrder {
		out = append(out, cloneTeam(r.teams[name]))
	}
	return out
}

// ChildTeams returns the teams whose parent is the given team.
func (r *Registry) ChildTeams(parent string) []*Team {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Team
	for _, name := range r.teamOrder {
		if r.teams[name].ParentTeam == parent {
			out = append(out, cloneTeam(r.teams[name]))
		}
	}
	return out
}

// Hierarchy returns the path from the root ancestor down to the given
// team. Traversal stops on a revisit, so a cycle introduced by a
// corrupt journal load cannot hang it.
func (r *Registry) Hierarchy(name string) ([]*Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.teams[name]
	if !ok {
		return nil, fmt.Errorf("team %q: %w", name, ErrNotFound)
	}

	var chain []*Team
	seen := make(map[string]bool)
	for t != nil && !seen[t.Name] {
		seen[t.Name] = true
		chain = append(chain, cloneTeam(t))
		if t.ParentTeam == "" {
			break
		}
		t = r.teams[t.ParentTeam]
	}

	// Reverse: root first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// wouldCycleLocked reports whether making parent the parent of team
// would create a cycle. Caller holds r.mu.
func (r *Registry) wouldCycleLocked(team, parent string) bool {
	seen := make(map[string]bool)
	for cur := parent; cur != "" && !seen[cur]; {
		if cur == team {
			return true
		}
		seen[cur] = true
		t, ok := r.teams[cur]
		if !ok {
			return false
		}
		cur = t.ParentTeam
	}
	return false
}

func cloneTeam(t *Team) *Team {
	c := *t
	return &c
}
