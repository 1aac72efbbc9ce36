package target

import (
	"errors"
	"fmt"
)

// ErrTargetNotFound is returned when no field of the target names a
// live pane.
var ErrTargetNotFound = errors.New("target not found")

// AgentDirectory is the slice of the registry the resolver consults.
type AgentDirectory interface {
	// AgentPane returns the pane hosting the named agent, or "" when
	// the agent is unknown.
	AgentPane(agentName string) string
	// TeamPanes returns the panes of a team's members in registration
	// order, or nil for an unknown or empty team.
	TeamPanes(teamName string) []string
	// ActivePane returns the registry's active pane, or "".
	ActivePane() string
}

// PaneIndex is the slice of the terminal backend the resolver consults.
type PaneIndex interface {
	// HasPane reports whether the pane id exists.
	HasPane(paneID string) bool
	// PaneByName returns the id of the pane with the given name, or "".
	PaneByName(name string) string
}

// Resolver turns a Target into concrete pane ids using only in-memory
// lookups.
type Resolver struct {
	agents AgentDirectory
	panes  PaneIndex
}

// NewResolver builds a resolver over the registry and backend views.
func NewResolver(agents AgentDirectory, panes PaneIndex) *Resolver {
	return &Resolver{agents: agents, panes: panes}
}

// Resolve maps t to a single pane id. Fields are tried in fixed order:
// pane_id, pane_name, agent_name, team_name (first member). An empty
// target resolves to the active pane.
func (r *Resolver) Resolve(t Target) (string, error) {
	if t.IsEmpty() {
		if active := r.agents.ActivePane(); active != "" {
			return active, nil
		}
		return "", fmt.Errorf("%w: empty target and no active pane", ErrTargetNotFound)
	}

	if t.PaneID != "" {
		if r.panes.HasPane(t.PaneID) {
			return t.PaneID, nil
		}
		return "", fmt.Errorf("%w: pane %q", ErrTargetNotFound, t.PaneID)
	}
	if t.PaneName != "" {
		if id := r.panes.PaneByName(t.PaneName); id != "" {
			return id, nil
		}
		return "", fmt.Errorf("%w: pane named %q", ErrTargetNotFound, t.PaneName)
	}
	if t.AgentName != "" {
		if id := r.agents.AgentPane(t.AgentName); id != "" {
			return id, nil
		}
		return "", fmt.Errorf("%w: agent %q", ErrTargetNotFound, t.AgentName)
	}
	if panes := r.agents.TeamPanes(t.TeamName); len(panes) > 0 {
		return panes[0], nil
	}
	return "", fmt.Errorf("%w: team %q", ErrTargetNotFound, t.TeamName)
}

// ResolveAll maps t to every pane it names. Team targets fan out to
// all members; every other form yields a single pane.
func (r *Resolver) ResolveAll(t Target) ([]string, error) {
	if t.PaneID == "" && t.PaneName == "" && t.AgentName == "" && t.TeamName != "" {
		panes := r.agents.TeamPanes(t.TeamName)
		if len(panes) == 0 {
			return nil, fmt.Errorf("%w: team %q", ErrTargetNotFound, t.TeamName)
		}
		return panes, nil
	}
	id, err := r.Resolve(t)
	if err != nil {
		return nil, err
	}
	return []string{id}, nil
}
