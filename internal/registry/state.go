package registry

import "fmt"

// Snapshot is a point-in-time copy of the registry, embeddable in a
// checkpoint and restorable with LoadState.
type Snapshot struct {
	Agents     []Agent         `json:"agents"`
	Teams      []Team          `json:"teams"`
	ActivePane string          `json:"active_pane,omitempty"`
	Messages   []MessageRecord `json:"messages,omitempty"`
}

// SaveState captures the full registry state.
func (r *Registry) SaveState() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := &Snapshot{
		Agents:     make([]Agent, 0, len(r.agentOrder)),
		Teams:      make([]Team, 0, len(r.teamOrder)),
		ActivePane: r.activePane,
		Messages:   append([]MessageRecord(nil), r.history...),
	}
	for _, name := range r.agentOrder {
		s.Agents = append(s.Agents, *cloneAgent(r.agents[name]))
	}
	for _, name := range r.teamOrder {
		s.Teams = append(s.Teams, *cloneTeam(r.teams[name]))
	}
	return s
}

// LoadState atomically replaces the in-memory state with the snapshot
// and rewrites all journals.
func (r *Registry) LoadState(s *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.agents = make(map[string]*Agent, len(s.Agents))
	r.agentOrder = r.agentOrder[:0]
	for i := range s.Agents {
		a := s.Agents[i]
		if _, dup := r.agents[a.Name]; !dup {
			r.agentOrder = append(r.agentOrder, a.Name)
		}
		r.agents[a.Name] = &a
	}

	r.teams = make(map[string]*Team, len(s.Teams))
	r.teamOrder = r.teamOrder[:0]
	for i := range s.Teams {
		t := s.Teams[i]
		if _, dup := r.teams[t.Name]; !dup {
			r.teamOrder = append(r.teamOrder, t.Name)
		}
		r.teams[t.Name] = &t
	}

	r.activePane = s.ActivePane
	r.history = append([]MessageRecord(nil), s.Messages...)
	if over := len(r.history) - r.historyCap; over > 0 {
		r.history = r.history[over:]
	}
	r.updateGauges()

	if r.journal == nil {
		return nil
	}
	if err := r.persistAgentsLocked(); err != nil {
		return err
	}
	if err := r.persistTeamsLocked(); err != nil {
		return err
	}
	if err := r.journal.writeMessages(r.history); err != nil {
		return fmt.Errorf("%w: messages journal: %v", ErrPersist, err)
	}
	return nil
}
