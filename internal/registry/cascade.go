package registry

import "sort"

// Cascade is a three-layer message: per-agent text overrides per-team
// text overrides the broadcast text.
type Cascade struct {
	Broadcast string            `json:"broadcast,omitempty"`
	Teams     map[string]string `json:"teams,omitempty"`
	Agents    map[string]string `json:"agents,omitempty"`
}

// ResolveCascade resolves a cascade against the current registry,
// returning each distinct text with the sorted list of agents that
// should receive it. When an agent belongs to several teams with
// cascade entries, which team's text wins is unspecified; callers that
// need determinism must pre-merge.
func (r *Registry) ResolveCascade(c Cascade) map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chosen := make(map[string]string)

	if c.Broadcast != "" {
		for _, name := range r.agentOrder {
			chosen[name] = c.Broadcast
		}
	}
	for teamName, text := range c.Teams {
		for _, name := range r.agentOrder {
			if contains(r.agents[name].Teams, teamName) {
				chosen[name] = text
			}
		}
	}
	for agentName, text := range c.Agents {
		if _, ok := r.agents[agentName]; ok {
			chosen[agentName] = text
		}
	}

	out := make(map[string][]string)
	for agent, text := range chosen {
		out[text] = append(out[text], agent)
	}
	for text := range out {
		sort.Strings(out[text])
	}
	return out
}
