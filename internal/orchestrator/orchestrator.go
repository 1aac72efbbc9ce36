// Package orchestrator wires the registry, guard, terminal backend,
// and support engines behind the message router. Each supported
// message type gets one handler here.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/termhive/termhive/internal/backend"
	"github.com/termhive/termhive/internal/checkpoint"
	"github.com/termhive/termhive/internal/expect"
	"github.com/termhive/termhive/internal/guard"
	"github.com/termhive/termhive/internal/memory"
	"github.com/termhive/termhive/internal/message"
	"github.com/termhive/termhive/internal/monitor"
	"github.com/termhive/termhive/internal/registry"
	"github.com/termhive/termhive/internal/router"
	"github.com/termhive/termhive/internal/session"
	"github.com/termhive/termhive/internal/target"
	"github.com/termhive/termhive/internal/wait"
)

// Deps are the components the orchestrator coordinates.
type Deps struct {
	Registry    *registry.Registry
	Guard       *guard.Manager
	Router      *router.Router
	Backend     backend.TerminalBackend
	Sessions    *session.Tracker
	Checkpoints *checkpoint.Manager
	Memory      memory.Store
	Monitor     *monitor.Monitor
	// ExpectOptions configures the embedded expect engine.
	ExpectOptions expect.EngineOptions
}

// Orchestrator owns the handler set and the target resolver.
type Orchestrator struct {
	registry    *registry.Registry
	guard       *guard.Manager
	router      *router.Router
	backend     backend.TerminalBackend
	sessions    *session.Tracker
	checkpoints *checkpoint.Manager
	memory      memory.Store
	monitor     *monitor.Monitor
	resolver    *target.Resolver
	expect      *expect.Engine
	waiter      *wait.Waiter
}

// registryDirectory adapts the registry to the resolver and waiter.
type registryDirectory struct {
	reg *registry.Registry
}

func (d registryDirectory) AgentPane(name string) string {
	a, err := d.reg.Get(name)
	if err != nil {
		return ""
	}
	return a.PaneID
}

func (d registryDirectory) TeamPanes(team string) []string {
	agents := d.reg.List(team)
	panes := make([]string, 0, len(agents))
	for _, a := range agents {
		if a.PaneID != "" {
			panes = append(panes, a.PaneID)
		}
	}
	return panes
}

func (d registryDirectory) ActivePane() string {
	return d.reg.ActivePane()
}

// New wires the components together and registers all handlers.
func New(deps Deps) *Orchestrator {
	dir := registryDirectory{reg: deps.Registry}
	o := &Orchestrator{
		registry:    deps.Registry,
		guard:       deps.Guard,
		router:      deps.Router,
		backend:     deps.Backend,
		sessions:    deps.Sessions,
		checkpoints: deps.Checkpoints,
		memory:      deps.Memory,
		monitor:     deps.Monitor,
		resolver:    target.NewResolver(dir, deps.Backend),
		expect:      expect.NewEngine(deps.Backend, deps.ExpectOptions),
		waiter:      wait.New(dir, deps.Backend),
	}
	deps.Registry.SetLockReleaser(deps.Guard)
	o.registerHandlers()
	return o
}

// Resolver exposes target resolution to transports.
func (o *Orchestrator) Resolver() *target.Resolver { return o.resolver }

// Expect exposes the expect engine to transports.
func (o *Orchestrator) Expect() *expect.Engine { return o.expect }

// Waiter exposes the wait engine to transports.
func (o *Orchestrator) Waiter() *wait.Waiter { return o.waiter }

func (o *Orchestrator) registerHandlers() {
	o.router.Register(message.TypeTerminalCommand, o.handleTerminalCommand)
	o.router.Register(message.TypeTerminalReadRequest, o.handleTerminalRead)
	o.router.Register(message.TypeControlCharacter, o.handleControlCharacter)
	o.router.Register(message.TypeSpecialKey, o.handleSpecialKey)
	o.router.Register(message.TypeSessionStatusRequest, o.handleSessionStatus)
	o.router.Register(message.TypeSessionListRequest, o.handleSessionList)
	o.router.Register(message.TypeFocusSession, o.handleFocusSession)
	o.router.Register(message.TypeBroadcastNotification, o.handleBroadcast)
	o.router.Register(message.TypeWaitForAgent, o.handleWaitForAgent)
}

func (o *Orchestrator) ack(success bool, detail string) *message.Ack {
	return &message.Ack{
		Envelope: message.NewEnvelope("orchestrator"),
		Success:  success,
		Detail:   detail,
	}
}

// checkWrite resolves the target and enforces the pane's write lock.
func (o *Orchestrator) checkWrite(t target.Target, sender string) (string, *message.Ack, error) {
	paneID, err := o.resolver.Resolve(t)
	if err != nil {
		return "", nil, err
	}
	if allowed, owner := o.guard.CheckWrite(paneID, sender); !allowed {
		return "", o.ack(false, fmt.Sprintf("pane %s is locked by %s", paneID, owner)), nil
	}
	return paneID, nil, nil
}

func (o *Orchestrator) handleTerminalCommand(ctx context.Context, msg message.Message) (message.Message, error) {
	cmd := msg.(*message.TerminalCommand)
	paneID, denied, err := o.checkWrite(cmd.Target, cmd.Sender)
	if err != nil {
		return nil, err
	}
	if denied != nil {
		return denied, nil
	}
	if err := o.backend.SendText(ctx, paneID, cmd.Command, cmd.PressEnter); err != nil {
		return nil, fmt.Errorf("send command to pane %s: %w", paneID, err)
	}
	o.sessions.RecordCommand(paneID, cmd.Command)
	o.noteMutation(ctx)
	return o.ack(true, ""), nil
}

func (o *Orchestrator) handleTerminalRead(ctx context.Context, msg message.Message) (message.Message, error) {
	req := msg.(*message.TerminalReadRequest)
	paneID, err := o.resolver.Resolve(req.Target)
	if err != nil {
		return nil, err
	}
	content, err := o.backend.ReadScreen(ctx, paneID, req.MaxLines)
	if err != nil {
		return nil, fmt.Errorf("read pane %s: %w", paneID, err)
	}
	o.sessions.RecordOutput(paneID, content)
	return &message.TerminalOutput{
		Envelope: message.NewEnvelope("orchestrator"),
		PaneID:   paneID,
		Content:  content,
	}, nil
}

func (o *Orchestrator) handleControlCharacter(ctx context.Context, msg message.Message) (message.Message, error) {
	req := msg.(*message.ControlCharacter)
	paneID, denied, err := o.checkWrite(req.Target, req.Sender)
	if err != nil {
		return nil, err
	}
	if denied != nil {
		return denied, nil
	}
	if err := o.backend.SendControl(ctx, paneID, req.Letter); err != nil {
		return nil, fmt.Errorf("send control to pane %s: %w", paneID, err)
	}
	return o.ack(true, ""), nil
}

func (o *Orchestrator) handleSpecialKey(ctx context.Context, msg message.Message) (message.Message, error) {
	req := msg.(*message.SpecialKey)
	paneID, denied, err := o.checkWrite(req.Target, req.Sender)
	if err != nil {
		return nil, err
	}
	if denied != nil {
		return denied, nil
	}
	if err := o.backend.SendSpecial(ctx, paneID, req.Key); err != nil {
		return nil, fmt.Errorf("send key to pane %s: %w", paneID, err)
	}
	return o.ack(true, ""), nil
}

func (o *Orchestrator) handleSessionStatus(ctx context.Context, msg message.Message) (message.Message, error) {
	req := msg.(*message.SessionStatusRequest)
	paneID, err := o.resolver.Resolve(req.Target)
	if err != nil {
		return nil, err
	}
	processing, err := o.backend.IsProcessing(ctx, paneID)
	if err != nil {
		return nil, fmt.Errorf("probe pane %s: %w", paneID, err)
	}

	resp := &message.SessionStatusResponse{
		Envelope:     message.NewEnvelope("orchestrator"),
		PaneID:       paneID,
		IsProcessing: processing,
		Tags:         o.guard.GetTags(paneID),
	}
	if a, err := o.registry.GetByPane(paneID); err == nil {
		resp.AgentName = a.Name
	}
	if allowed, owner := o.guard.CheckWrite(paneID, ""); !allowed {
		resp.LockedBy = owner
	}
	return resp, nil
}

func (o *Orchestrator) handleSessionList(ctx context.Context, msg message.Message) (message.Message, error) {
	panes := o.backend.List()
	ids := make([]string, 0, len(panes))
	for _, p := range panes {
		ids = append(ids, p.ID)
	}
	return &message.SessionListResponse{
		Envelope: message.NewEnvelope("orchestrator"),
		PaneIDs:  ids,
	}, nil
}

func (o *Orchestrator) handleFocusSession(ctx context.Context, msg message.Message) (message.Message, error) {
	req := msg.(*message.FocusSession)
	paneID, err := o.resolver.Resolve(req.Target)
	if err != nil {
		return nil, err
	}
	if allowed, blocker, remaining := o.guard.CheckFocus(paneID, req.Sender); !allowed {
		return o.ack(false, fmt.Sprintf("focus blocked by %s for %.1fs", blocker, remaining.Seconds())), nil
	}
	if err := o.backend.Focus(ctx, paneID); err != nil {
		return nil, fmt.Errorf("focus pane %s: %w", paneID, err)
	}
	o.guard.RecordFocus(paneID, req.Sender)
	o.registry.SetActivePane(paneID)
	return o.ack(true, ""), nil
}

// handleBroadcast fans a notification out to topic subscribers and
// archives it in the memory store under broadcasts/<topic>.
func (o *Orchestrator) handleBroadcast(ctx context.Context, msg message.Message) (message.Message, error) {
	n := msg.(*message.BroadcastNotification)
	count := o.router.Broadcast(ctx, n)

	if o.memory != nil {
		ns := memory.Namespace{"broadcasts", n.Topic}
		if err := o.memory.Store(ctx, ns, n.MessageID, n.Payload, map[string]any{
			"sender": n.Sender,
			"topic":  n.Topic,
		}); err != nil {
			slog.Warn("failed to archive broadcast", "topic", n.Topic, "error", err)
		}
	}
	return o.ack(true, fmt.Sprintf("delivered to %d subscribers", count)), nil
}

func (o *Orchestrator) handleWaitForAgent(ctx context.Context, msg message.Message) (message.Message, error) {
	req := msg.(*message.WaitForAgent)
	res, err := o.waiter.Wait(ctx, wait.Request{
		AgentName:        req.AgentName,
		WaitUpToSeconds:  req.WaitUpToSeconds,
		ReturnOutput:     req.ReturnOutput,
		SummaryOnTimeout: req.SummaryOnTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &message.WaitForAgentResult{
		Envelope:           message.NewEnvelope("orchestrator"),
		Agent:              res.Agent,
		Completed:          res.Completed,
		TimedOut:           res.TimedOut,
		ElapsedSeconds:     res.ElapsedSeconds,
		Status:             res.Status,
		Output:             res.Output,
		Summary:            res.Summary,
		CanContinueWaiting: res.CanContinueWaiting,
	}, nil
}

// noteMutation counts a mutating operation and cuts an automatic
// checkpoint when one is due.
func (o *Orchestrator) noteMutation(ctx context.Context) {
	if o.checkpoints == nil {
		return
	}
	o.checkpoints.RecordOperation()
	if !o.checkpoints.ShouldAutoCheckpoint() {
		return
	}
	if _, err := o.CreateCheckpoint(ctx, "auto"); err != nil {
		slog.Warn("auto checkpoint failed", "error", err)
	}
}

// CreateCheckpoint snapshots the registry and tracked sessions.
func (o *Orchestrator) CreateCheckpoint(ctx context.Context, trigger string) (string, error) {
	if o.checkpoints == nil {
		return "", fmt.Errorf("checkpointing is not configured")
	}
	sessions := make(map[string]checkpoint.SessionState)
	if o.sessions != nil {
		for paneID, s := range o.sessions.Snapshot() {
			sessions[paneID] = checkpoint.SessionState{
				PaneID:           s.PaneID,
				PersistentID:     s.PersistentID,
				Name:             s.Name,
				MaxLines:         s.MaxLines,
				IsMonitoring:     s.IsMonitoring,
				LastScreenUpdate: s.LastScreenUpdate,
				LastCommand:      s.LastCommand,
				LastOutput:       s.LastOutput,
				Metadata:         s.Metadata,
			}
		}
	}
	return o.checkpoints.Create(ctx, &checkpoint.Checkpoint{
		Trigger:  trigger,
		Sessions: sessions,
		Registry: o.registry.SaveState(),
	})
}

// RestoreCheckpoint loads a checkpoint (latest when id is empty) and
// applies its registry and session state.
func (o *Orchestrator) RestoreCheckpoint(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	if o.checkpoints == nil {
		return nil, fmt.Errorf("checkpointing is not configured")
	}
	c, err := o.checkpoints.Restore(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	if c.Registry != nil {
		if err := o.registry.LoadState(c.Registry); err != nil {
			return nil, fmt.Errorf("restore registry: %w", err)
		}
	}
	if o.sessions != nil && len(c.Sessions) > 0 {
		states := make(map[string]session.State, len(c.Sessions))
		for paneID, s := range c.Sessions {
			states[paneID] = session.State{
				PaneID:           s.PaneID,
				PersistentID:     s.PersistentID,
				Name:             s.Name,
				MaxLines:         s.MaxLines,
				IsMonitoring:     s.IsMonitoring,
				LastScreenUpdate: s.LastScreenUpdate,
				LastCommand:      s.LastCommand,
				LastOutput:       s.LastOutput,
				Metadata:         s.Metadata,
			}
		}
		if err := o.sessions.Restore(states); err != nil {
			return nil, fmt.Errorf("restore sessions: %w", err)
		}
	}
	return c, nil
}

// StartMonitoring begins watching a pane's screen and marks the
// session accordingly.
func (o *Orchestrator) StartMonitoring(paneID string) error {
	if o.monitor == nil {
		return fmt.Errorf("monitoring is not configured")
	}
	if !o.backend.HasPane(paneID) {
		return fmt.Errorf("%w: %q", backend.ErrPaneNotFound, paneID)
	}
	o.monitor.Watch(paneID)
	if o.sessions != nil {
		_ = o.sessions.Update(paneID, func(s *session.State) { s.IsMonitoring = true })
	}
	return nil
}

// StopMonitoring stops a pane's watcher.
func (o *Orchestrator) StopMonitoring(paneID string) {
	if o.monitor == nil {
		return
	}
	o.monitor.Unwatch(paneID)
	if o.sessions != nil {
		_ = o.sessions.Update(paneID, func(s *session.State) { s.IsMonitoring = false })
	}
}

// Shutdown stops background work and flushes stores. Safe to call once
// at process exit.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	if o.monitor != nil {
		o.monitor.Stop()
	}
	if o.checkpoints != nil {
		if _, err := o.CreateCheckpoint(ctx, "shutdown"); err != nil {
			slog.Warn("shutdown checkpoint failed", "error", err)
		}
	}
	if o.memory != nil {
		if err := o.memory.Close(); err != nil {
			slog.Warn("memory store close failed", "error", err)
		}
	}
}
