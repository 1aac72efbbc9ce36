package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(Options{})
	require.NoError(t, err)
	return r
}

func newJournaledRegistry(t *testing.T, dir string) *Registry {
	t.Helper()
	j := NewJournal(
		filepath.Join(dir, "agents.jsonl"),
		filepath.Join(dir, "teams.jsonl"),
		filepath.Join(dir, "messages.jsonl"),
	)
	r, err := New(Options{Journal: j})
	require.NoError(t, err)
	return r
}

func TestRegister_UpsertSemantics(t *testing.T) {
	r := newTestRegistry(t)

	a1, err := r.Register("alice", "p1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "p1", a1.PaneID)

	// Newest registration wins.
	a2, err := r.Register("alice", "p2", []string{"frontend"}, map[string]string{"role": "dev"})
	require.NoError(t, err)
	assert.Equal(t, "p2", a2.PaneID)

	got, err := r.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, "p2", got.PaneID)
	assert.Equal(t, []string{"frontend"}, got.Teams)
	assert.Equal(t, "dev", got.Metadata["role"])

	// No duplicate names in List.
	assert.Len(t, r.List(""), 1)
}

func TestRegister_PaneHostsOneAgent(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Register("alice", "p1", nil, nil)
	require.NoError(t, err)
	_, err = r.Register("bob", "p1", nil, nil)
	require.NoError(t, err)

	// alice lost her pane binding: the pane hosts bob now.
	_, err = r.Get("alice")
	assert.ErrorIs(t, err, ErrNotFound)

	a, err := r.GetByPane("p1")
	require.NoError(t, err)
	assert.Equal(t, "bob", a.Name)
}

func TestRegister_InvalidName(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Register("   ", "p1", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestRemove_ReleasesLocks(t *testing.T) {
	r := newTestRegistry(t)
	released := []string{}
	r.SetLockReleaser(lockReleaserFunc(func(agent string) {
		released = append(released, agent)
	}))

	_, err := r.Register("alice", "p1", nil, nil)
	require.NoError(t, err)

	ok, err := r.Remove("alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"alice"}, released)

	ok, err = r.Remove("alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

type lockReleaserFunc func(agent string)

func (f lockReleaserFunc) ReleaseByAgent(agent string) { f(agent) }

func TestTeams_CreateRemoveCleanup(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.CreateTeam("frontend", "UI team", "")
	require.NoError(t, err)
	_, err = r.Register("alice", "p1", []string{"frontend"}, nil)
	require.NoError(t, err)
	_, err = r.Register("bob", "p2", []string{"frontend"}, nil)
	require.NoError(t, err)

	ok, err := r.RemoveTeam("frontend")
	require.NoError(t, err)
	assert.True(t, ok)

	// No agent's membership still references the removed team.
	for _, a := range r.List("") {
		assert.NotContains(t, a.Teams, "frontend")
	}

	_, err = r.GetTeam("frontend")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTeams_HierarchyAndCycles(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.CreateTeam("eng", "", "")
	require.NoError(t, err)
	_, err = r.CreateTeam("frontend", "", "eng")
	require.NoError(t, err)
	_, err = r.CreateTeam("web", "", "frontend")
	require.NoError(t, err)

	chain, err := r.Hierarchy("web")
	require.NoError(t, err)
	names := make([]string, len(chain))
	for i, tm := range chain {
		names[i] = tm.Name
	}
	assert.Equal(t, []string{"eng", "frontend", "web"}, names)

	// eng under web would close the loop.
	_, err = r.CreateTeam("eng", "", "web")
	assert.ErrorIs(t, err, ErrInvalidName)

	// Parent must exist.
	_, err = r.CreateTeam("mobile", "", "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	children := r.ChildTeams("eng")
	require.Len(t, children, 1)
	assert.Equal(t, "frontend", children[0].Name)

	// Removing a middle team detaches its children.
	_, err = r.RemoveTeam("frontend")
	require.NoError(t, err)
	web, err := r.GetTeam("web")
	require.NoError(t, err)
	assert.Empty(t, web.ParentTeam)
}

func TestTeamMembership(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.CreateTeam("backend", "", "")
	require.NoError(t, err)
	_, err = r.Register("carol", "p3", nil, nil)
	require.NoError(t, err)

	ok, err := r.AssignToTeam("carol", "backend")
	require.NoError(t, err)
	assert.True(t, ok)

	// Idempotent.
	ok, err = r.AssignToTeam("carol", "backend")
	require.NoError(t, err)
	assert.True(t, ok)

	members := r.List("backend")
	require.Len(t, members, 1)
	assert.Equal(t, "carol", members[0].Name)

	ok, err = r.RemoveFromTeam("carol", "backend")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.RemoveFromTeam("carol", "backend")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.AssignToTeam("carol", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.AssignToTeam("missing", "backend")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActivePane(t *testing.T) {
	r := newTestRegistry(t)
	assert.Empty(t, r.ActivePane())
	assert.Nil(t, r.ActiveAgent())

	_, err := r.Register("alice", "p1", nil, nil)
	require.NoError(t, err)
	r.SetActivePane("p1")

	assert.Equal(t, "p1", r.ActivePane())
	require.NotNil(t, r.ActiveAgent())
	assert.Equal(t, "alice", r.ActiveAgent().Name)
}

func TestDedup_FilterUnsent(t *testing.T) {
	r := newTestRegistry(t)

	// S2: record for alice+bob, carol remains unsent.
	require.NoError(t, r.RecordSent("deploy to staging", []string{"alice", "bob"}))

	assert.True(t, r.WasSent("deploy to staging", "alice"))
	assert.True(t, r.WasSent("deploy to staging", "bob"))
	assert.False(t, r.WasSent("deploy to staging", "carol"))
	assert.False(t, r.WasSent("deploy to prod", "alice"))

	got := r.FilterUnsent("deploy to staging", []string{"alice", "bob", "carol"})
	assert.Equal(t, []string{"carol"}, got)
}

func TestDedup_FIFOEviction(t *testing.T) {
	r, err := New(Options{MessageHistory: 2})
	require.NoError(t, err)

	require.NoError(t, r.RecordSent("m1", []string{"a"}))
	require.NoError(t, r.RecordSent("m2", []string{"a"}))
	require.NoError(t, r.RecordSent("m3", []string{"a"}))

	// Oldest evicted: m1 is forgotten.
	assert.False(t, r.WasSent("m1", "a"))
	assert.True(t, r.WasSent("m2", "a"))
	assert.True(t, r.WasSent("m3", "a"))

	recent := r.RecentMessages(10)
	require.Len(t, recent, 2)
	// Newest first.
	assert.Equal(t, recent[0].ContentHash, hashContent("m3"))
	assert.Equal(t, recent[1].ContentHash, hashContent("m2"))
}

func TestResolveCascade_Specificity(t *testing.T) {
	r := newTestRegistry(t)

	// S1 fixture.
	_, err := r.CreateTeam("frontend", "", "")
	require.NoError(t, err)
	_, err = r.CreateTeam("backend", "", "")
	require.NoError(t, err)
	_, err = r.Register("alice", "p1", []string{"frontend"}, nil)
	require.NoError(t, err)
	_, err = r.Register("bob", "p2", []string{"frontend"}, nil)
	require.NoError(t, err)
	_, err = r.Register("carol", "p3", []string{"backend"}, nil)
	require.NoError(t, err)

	got := r.ResolveCascade(Cascade{
		Broadcast: "all hands",
		Teams:     map[string]string{"frontend": "ship it"},
		Agents:    map[string]string{"alice": "own the release"},
	})

	want := map[string][]string{
		"own the release": {"alice"},
		"ship it":         {"bob"},
		"all hands":       {"carol"},
	}
	assert.Equal(t, want, got)
}

func TestResolveCascade_Layers(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Register("alice", "p1", nil, nil)
	require.NoError(t, err)

	// Broadcast only.
	got := r.ResolveCascade(Cascade{Broadcast: "hello"})
	assert.Equal(t, map[string][]string{"hello": {"alice"}}, got)

	// Agents entries for unknown agents are ignored.
	got = r.ResolveCascade(Cascade{Agents: map[string]string{"ghost": "boo"}})
	assert.Empty(t, got)

	// Empty cascade resolves to nothing.
	assert.Empty(t, r.ResolveCascade(Cascade{}))
}

func TestJournal_ReplayAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	r1 := newJournaledRegistry(t, dir)
	_, err := r1.CreateTeam("frontend", "UI", "")
	require.NoError(t, err)
	_, err = r1.Register("alice", "p1", []string{"frontend"}, nil)
	require.NoError(t, err)
	require.NoError(t, r1.RecordSent("hello", []string{"alice"}))

	// Restart: same journal dir, fresh process state.
	r2 := newJournaledRegistry(t, dir)

	a, err := r2.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, "p1", a.PaneID)
	assert.Equal(t, []string{"frontend"}, a.Teams)

	_, err = r2.GetTeam("frontend")
	require.NoError(t, err)
	assert.True(t, r2.WasSent("hello", "alice"))
}

func TestJournal_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()

	r1 := newJournaledRegistry(t, dir)
	_, err := r1.Register("alice", "p1", nil, nil)
	require.NoError(t, err)
	_, err = r1.Register("bob", "p2", nil, nil)
	require.NoError(t, err)

	// Corrupt the middle of the agents journal.
	path := filepath.Join(dir, "agents.jsonl")
	data := readFile(t, path)
	writeFile(t, path, "{broken\n"+data)

	r2 := newJournaledRegistry(t, dir)
	assert.Len(t, r2.List(""), 2, "well-formed lines still load")
}

func TestSaveLoadState_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	r1 := newJournaledRegistry(t, dir)

	// S7: two agents, one team.
	_, err := r1.CreateTeam("frontend", "", "")
	require.NoError(t, err)
	_, err = r1.Register("alice", "p1", []string{"frontend"}, nil)
	require.NoError(t, err)
	_, err = r1.Register("bob", "p2", nil, nil)
	require.NoError(t, err)
	r1.SetActivePane("p1")

	snap := r1.SaveState()

	// Restart with empty journals.
	r2 := newJournaledRegistry(t, t.TempDir())
	require.NoError(t, r2.LoadState(snap))

	agents := r2.List("")
	require.Len(t, agents, 2)
	assert.Equal(t, "alice", agents[0].Name)
	assert.Equal(t, "bob", agents[1].Name)

	teams := r2.ListTeams()
	require.Len(t, teams, 1)
	assert.Equal(t, "frontend", teams[0].Name)
	assert.Equal(t, "p1", r2.ActivePane())
}
