package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	agentPanes map[string]string
	teamPanes  map[string][]string
	activePane string
}

func (f *fakeDirectory) AgentPane(name string) string   { return f.agentPanes[name] }
func (f *fakeDirectory) TeamPanes(name string) []string { return f.teamPanes[name] }
func (f *fakeDirectory) ActivePane() string             { return f.activePane }

type fakeIndex struct {
	panes map[string]string // name -> id
	ids   map[string]bool
}

func (f *fakeIndex) HasPane(id string) bool       { return f.ids[id] }
func (f *fakeIndex) PaneByName(name string) string { return f.panes[name] }

func newResolver() (*Resolver, *fakeDirectory, *fakeIndex) {
	dir := &fakeDirectory{
		agentPanes: map[string]string{"builder": "pane-1", "reviewer": "pane-2"},
		teamPanes:  map[string][]string{"core": {"pane-1", "pane-2"}},
		activePane: "pane-2",
	}
	idx := &fakeIndex{
		panes: map[string]string{"build-window": "pane-1"},
		ids:   map[string]bool{"pane-1": true, "pane-2": true},
	}
	return NewResolver(dir, idx), dir, idx
}

func TestResolveOrder(t *testing.T) {
	r, _, _ := newResolver()

	// pane_id wins over every other field.
	id, err := r.Resolve(Target{PaneID: "pane-2", PaneName: "build-window", AgentName: "builder", TeamName: "core"})
	require.NoError(t, err)
	assert.Equal(t, "pane-2", id)

	id, err = r.Resolve(Target{PaneName: "build-window", AgentName: "reviewer"})
	require.NoError(t, err)
	assert.Equal(t, "pane-1", id)

	id, err = r.Resolve(Target{AgentName: "reviewer", TeamName: "core"})
	require.NoError(t, err)
	assert.Equal(t, "pane-2", id)

	// Team target resolves to the first member.
	id, err = r.Resolve(Target{TeamName: "core"})
	require.NoError(t, err)
	assert.Equal(t, "pane-1", id)
}

func TestResolveEmptyTargetUsesActivePane(t *testing.T) {
	r, dir, _ := newResolver()

	id, err := r.Resolve(Target{})
	require.NoError(t, err)
	assert.Equal(t, "pane-2", id)

	dir.activePane = ""
	_, err = r.Resolve(Target{})
	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestResolveNotFound(t *testing.T) {
	r, _, _ := newResolver()

	for _, tgt := range []Target{
		{PaneID: "pane-99"},
		{PaneName: "no-such-window"},
		{AgentName: "ghost"},
		{TeamName: "ghosts"},
	} {
		_, err := r.Resolve(tgt)
		assert.ErrorIs(t, err, ErrTargetNotFound, "target %+v", tgt)
	}
}

func TestResolveAll(t *testing.T) {
	r, _, _ := newResolver()

	panes, err := r.ResolveAll(Target{TeamName: "core"})
	require.NoError(t, err)
	assert.Equal(t, []string{"pane-1", "pane-2"}, panes)

	// Non-team targets stay single.
	panes, err = r.ResolveAll(Target{AgentName: "builder"})
	require.NoError(t, err)
	assert.Equal(t, []string{"pane-1"}, panes)

	_, err = r.ResolveAll(Target{TeamName: "ghosts"})
	assert.ErrorIs(t, err, ErrTargetNotFound)
}
