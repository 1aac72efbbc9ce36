// Package target defines the ways a pane can be addressed and resolves
// them to concrete backend pane ids.
package target

// Target names a pane by any subset of its identities. Resolution
// order is fixed: pane id, then pane name, then agent name, then team
// name. An empty Target means "the registry's active pane".
type Target struct {
	PaneID    string `json:"pane_id,omitempty"`
	PaneName  string `json:"pane_name,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
	TeamName  string `json:"team_name,omitempty"`
}

// IsEmpty reports whether no identity is set.
func (t Target) IsEmpty() bool {
	return t.PaneID == "" && t.PaneName == "" && t.AgentName == "" && t.TeamName == ""
}
