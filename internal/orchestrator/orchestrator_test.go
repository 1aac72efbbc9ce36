package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termhive/termhive/internal/backend"
	"github.com/termhive/termhive/internal/checkpoint"
	"github.com/termhive/termhive/internal/guard"
	"github.com/termhive/termhive/internal/memory"
	"github.com/termhive/termhive/internal/message"
	"github.com/termhive/termhive/internal/registry"
	"github.com/termhive/termhive/internal/router"
	"github.com/termhive/termhive/internal/session"
	"github.com/termhive/termhive/internal/target"
)

type fixture struct {
	orch    *Orchestrator
	reg     *registry.Registry
	guard   *guard.Manager
	router  *router.Router
	backend *backend.FakeBackend
	mem     *memory.FlatStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg, err := registry.New(registry.Options{})
	require.NoError(t, err)
	g := guard.New(time.Second)
	// Dedup off: tests re-send identical payloads deliberately.
	r := router.New(router.Options{DedupHistory: -1})
	fb := backend.NewFakeBackend()
	sessions, err := session.NewTracker("")
	require.NoError(t, err)
	mem, err := memory.NewFlatStore("")
	require.NoError(t, err)

	store, err := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "checkpoints"))
	require.NoError(t, err)
	mgr := checkpoint.NewManager(store, checkpoint.ManagerOptions{})

	orch := New(Deps{
		Registry:    reg,
		Guard:       g,
		Router:      r,
		Backend:     fb,
		Sessions:    sessions,
		Checkpoints: mgr,
		Memory:      mem,
	})

	fb.AddPane("pane-1", "builder-pane")
	fb.AddPane("pane-2", "reviewer-pane")
	_, err = reg.Register("builder", "pane-1", []string{"core"}, nil)
	require.NoError(t, err)
	_, err = reg.Register("reviewer", "pane-2", []string{"core"}, nil)
	require.NoError(t, err)
	_, err = sessions.Track("pane-1", "", "builder-pane")
	require.NoError(t, err)
	_, err = sessions.Track("pane-2", "", "reviewer-pane")
	require.NoError(t, err)

	return &fixture{orch: orch, reg: reg, guard: g, router: r, backend: fb, mem: mem}
}

func send(t *testing.T, f *fixture, msg message.Message) message.Message {
	t.Helper()
	resp, err := f.router.Send(context.Background(), msg)
	require.NoError(t, err)
	return resp
}

func TestTerminalCommandByAgentName(t *testing.T) {
	f := newFixture(t)

	resp := send(t, f, &message.TerminalCommand{
		Envelope:   message.NewEnvelope("alice"),
		Target:     target.Target{AgentName: "builder"},
		Command:    "make test",
		PressEnter: true,
	})
	ack, ok := resp.(*message.Ack)
	require.True(t, ok)
	assert.True(t, ack.Success)
	assert.Equal(t, []string{"make test"}, f.backend.SentText("pane-1"))
}

func TestTerminalCommandRespectsLock(t *testing.T) {
	f := newFixture(t)
	acquired, _ := f.guard.Lock("pane-1", "alice")
	require.True(t, acquired)

	resp := send(t, f, &message.TerminalCommand{
		Envelope: message.NewEnvelope("bob"),
		Target:   target.Target{PaneID: "pane-1"},
		Command:  "rm -rf /",
	})
	ack, ok := resp.(*message.Ack)
	require.True(t, ok)
	assert.False(t, ack.Success)
	assert.Contains(t, ack.Detail, "locked by alice")
	assert.Empty(t, f.backend.SentText("pane-1"), "denied writes must not reach the pane")

	// The owner writes fine.
	resp = send(t, f, &message.TerminalCommand{
		Envelope: message.NewEnvelope("alice"),
		Target:   target.Target{PaneID: "pane-1"},
		Command:  "ls",
	})
	assert.True(t, resp.(*message.Ack).Success)
}

func TestTerminalCommandUnknownTargetIsErrorMessage(t *testing.T) {
	f := newFixture(t)

	resp := send(t, f, &message.TerminalCommand{
		Envelope: message.NewEnvelope("alice"),
		Target:   target.Target{AgentName: "ghost"},
		Command:  "ls",
	})
	em, ok := resp.(*message.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, "HANDLER_ERROR", em.Code)
	assert.Contains(t, em.ErrorText, "ghost")
}

func TestTerminalReadReturnsOutput(t *testing.T) {
	f := newFixture(t)
	f.backend.SetScreen("pane-2", "line1\nline2\nline3")

	resp := send(t, f, &message.TerminalReadRequest{
		Envelope: message.NewEnvelope("alice"),
		Target:   target.Target{PaneName: "reviewer-pane"},
		MaxLines: 2,
	})
	out, ok := resp.(*message.TerminalOutput)
	require.True(t, ok)
	assert.Equal(t, "pane-2", out.PaneID)
	assert.Equal(t, "line2\nline3", out.Content)
}

func TestControlAndSpecialKeys(t *testing.T) {
	f := newFixture(t)

	resp := send(t, f, &message.ControlCharacter{
		Envelope: message.NewEnvelope("alice"),
		Target:   target.Target{PaneID: "pane-1"},
		Letter:   "C",
	})
	assert.True(t, resp.(*message.Ack).Success)
	assert.Equal(t, []string{"C"}, f.backend.SentControls("pane-1"))

	resp = send(t, f, &message.SpecialKey{
		Envelope: message.NewEnvelope("alice"),
		Target:   target.Target{PaneID: "pane-1"},
		Key:      "escape",
	})
	assert.True(t, resp.(*message.Ack).Success)
	assert.Equal(t, []string{"escape"}, f.backend.SentSpecials("pane-1"))

	// Invalid keys surface as error responses.
	resp = send(t, f, &message.SpecialKey{
		Envelope: message.NewEnvelope("alice"),
		Target:   target.Target{PaneID: "pane-1"},
		Key:      "megakey",
	})
	_, isErr := resp.(*message.ErrorMessage)
	assert.True(t, isErr)
}

func TestSessionStatus(t *testing.T) {
	f := newFixture(t)
	f.guard.Lock("pane-1", "alice")
	f.guard.SetTags("pane-1", []string{"ci", "critical"}, false)
	f.backend.SetProcessing("pane-1", true)

	resp := send(t, f, &message.SessionStatusRequest{
		Envelope: message.NewEnvelope("bob"),
		Target:   target.Target{AgentName: "builder"},
	})
	status, ok := resp.(*message.SessionStatusResponse)
	require.True(t, ok)
	assert.Equal(t, "pane-1", status.PaneID)
	assert.Equal(t, "builder", status.AgentName)
	assert.True(t, status.IsProcessing)
	assert.Equal(t, "alice", status.LockedBy)
	assert.Equal(t, []string{"ci", "critical"}, status.Tags)
}

func TestSessionList(t *testing.T) {
	f := newFixture(t)
	resp := send(t, f, &message.SessionListRequest{Envelope: message.NewEnvelope("alice")})
	list, ok := resp.(*message.SessionListResponse)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"pane-1", "pane-2"}, list.PaneIDs)
}

func TestFocusSessionCooldown(t *testing.T) {
	f := newFixture(t)

	resp := send(t, f, &message.FocusSession{
		Envelope: message.NewEnvelope("alice"),
		Target:   target.Target{PaneID: "pane-1"},
	})
	require.True(t, resp.(*message.Ack).Success)
	assert.Equal(t, "pane-1", f.backend.Focused())
	assert.Equal(t, "pane-1", f.reg.ActivePane())

	// A different agent focusing a different pane inside the cooldown
	// is denied.
	resp = send(t, f, &message.FocusSession{
		Envelope: message.NewEnvelope("bob"),
		Target:   target.Target{PaneID: "pane-2"},
	})
	ack := resp.(*message.Ack)
	assert.False(t, ack.Success)
	assert.Contains(t, ack.Detail, "alice")
	assert.Equal(t, "pane-1", f.backend.Focused())

	// The same agent may refocus freely.
	resp = send(t, f, &message.FocusSession{
		Envelope: message.NewEnvelope("alice"),
		Target:   target.Target{PaneID: "pane-2"},
	})
	assert.True(t, resp.(*message.Ack).Success)
}

func TestEmptyTargetUsesActivePane(t *testing.T) {
	f := newFixture(t)
	f.reg.SetActivePane("pane-2")

	resp := send(t, f, &message.TerminalCommand{
		Envelope: message.NewEnvelope("alice"),
		Target:   target.Target{},
		Command:  "pwd",
	})
	require.True(t, resp.(*message.Ack).Success)
	assert.Equal(t, []string{"pwd"}, f.backend.SentText("pane-2"))
}

func TestBroadcastArchivesToMemory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got := make(chan map[string]any, 1)
	f.router.OnTopic("deploys", func(ctx context.Context, n *message.BroadcastNotification) {
		got <- n.Payload
	})

	n := &message.BroadcastNotification{
		Envelope: message.NewEnvelope("ci"),
		Topic:    "deploys",
		Payload:  map[string]any{"env": "staging"},
	}
	resp := send(t, f, n)
	ack := resp.(*message.Ack)
	assert.True(t, ack.Success)
	assert.Contains(t, ack.Detail, "1 subscriber")

	select {
	case payload := <-got:
		assert.Equal(t, "staging", payload["env"])
	case <-time.After(time.Second):
		t.Fatal("subscriber was not invoked")
	}

	rec, err := f.mem.Retrieve(ctx, memory.Namespace{"broadcasts", "deploys"}, n.MessageID)
	require.NoError(t, err)
	require.NotNil(t, rec, "broadcasts are archived in the memory store")
}

func TestWaitForAgentThroughRouter(t *testing.T) {
	f := newFixture(t)
	f.backend.SetScreen("pane-1", "done\n$ ")
	f.backend.SetProcessing("pane-1", false)

	resp := send(t, f, &message.WaitForAgent{
		Envelope:        message.NewEnvelope("alice"),
		AgentName:       "builder",
		WaitUpToSeconds: 2,
		ReturnOutput:    true,
	})
	res, ok := resp.(*message.WaitForAgentResult)
	require.True(t, ok)
	assert.True(t, res.Completed)
	assert.Equal(t, "idle", res.Status)
	assert.Contains(t, res.Output, "done")

	resp = send(t, f, &message.WaitForAgent{
		Envelope:        message.NewEnvelope("alice"),
		AgentName:       "nobody",
		WaitUpToSeconds: 2,
	})
	res = resp.(*message.WaitForAgentResult)
	assert.Equal(t, "unknown", res.Status)
	assert.Equal(t, "Agent not found", res.Summary)
}

func TestCheckpointRoundTripThroughOrchestrator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reg.CreateTeam("core", "main loop", "")
	require.NoError(t, err)

	id, err := f.orch.CreateCheckpoint(ctx, "test")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Wipe the registry, then restore.
	_, err = f.reg.Remove("builder")
	require.NoError(t, err)
	_, err = f.reg.Remove("reviewer")
	require.NoError(t, err)
	require.Empty(t, f.reg.List(""))

	c, err := f.orch.RestoreCheckpoint(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "test", c.Trigger)

	agents := f.reg.List("")
	names := make([]string, 0, len(agents))
	for _, a := range agents {
		names = append(names, a.Name)
	}
	assert.ElementsMatch(t, []string{"builder", "reviewer"}, names)

	team, err := f.reg.GetTeam("core")
	require.NoError(t, err)
	assert.Equal(t, "core", team.Name)
}

func TestRemovingAgentReleasesLocks(t *testing.T) {
	f := newFixture(t)
	acquired, _ := f.guard.Lock("pane-1", "builder")
	require.True(t, acquired)

	_, err := f.reg.Remove("builder")
	require.NoError(t, err)

	allowed, _ := f.guard.CheckWrite("pane-1", "anyone")
	assert.True(t, allowed, "registry removal must release the agent's locks")
}
