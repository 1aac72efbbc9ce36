// Package wait blocks until a named agent's pane goes quiet, with a
// resumable timeout contract.
package wait

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/termhive/termhive/internal/metrics"
)

// Bounds on WaitUpToSeconds.
const (
	MinWaitSeconds = 1
	MaxWaitSeconds = 600
)

// pollCadence is how often the processing signal is sampled.
const pollCadence = 500 * time.Millisecond

// Agent status values reported in results.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusBlocked = "blocked"
	StatusError   = "error"
	StatusUnknown = "unknown"
)

// Request is one wait call.
type Request struct {
	AgentName        string
	WaitUpToSeconds  int
	ReturnOutput     bool
	SummaryOnTimeout bool
}

// Result reports the outcome. CanContinueWaiting means the agent was
// still running at the deadline and the caller may simply call again.
type Result struct {
	Agent              string  `json:"agent"`
	Completed          bool    `json:"completed"`
	TimedOut           bool    `json:"timed_out"`
	ElapsedSeconds     float64 `json:"elapsed_seconds"`
	Status             string  `json:"status"`
	Output             string  `json:"output,omitempty"`
	Summary            string  `json:"summary,omitempty"`
	CanContinueWaiting bool    `json:"can_continue_waiting"`
}

// AgentLookup maps an agent name to its pane id, "" when unregistered.
type AgentLookup interface {
	AgentPane(agentName string) string
}

// Backend is the slice of the terminal backend the waiter polls.
type Backend interface {
	HasPane(paneID string) bool
	IsProcessing(ctx context.Context, paneID string) (bool, error)
	ReadScreen(ctx context.Context, paneID string, maxLines int) (string, error)
}

// Waiter polls a pane's processing signal on behalf of wait calls.
type Waiter struct {
	agents  AgentLookup
	backend Backend
	now     func() time.Time
	cadence time.Duration
}

// New builds a waiter.
func New(agents AgentLookup, backend Backend) *Waiter {
	return &Waiter{
		agents:  agents,
		backend: backend,
		now:     time.Now,
		cadence: pollCadence,
	}
}

// Wait blocks until the agent's pane stops producing output or the
// deadline passes. WaitUpToSeconds outside [1,600] is an error.
func (w *Waiter) Wait(ctx context.Context, req Request) (*Result, error) {
	if req.WaitUpToSeconds < MinWaitSeconds || req.WaitUpToSeconds > MaxWaitSeconds {
		return nil, fmt.Errorf("wait_up_to_seconds must be in [%d,%d], got %d",
			MinWaitSeconds, MaxWaitSeconds, req.WaitUpToSeconds)
	}

	paneID := w.agents.AgentPane(req.AgentName)
	if paneID == "" {
		return &Result{
			Agent:   req.AgentName,
			Status:  StatusUnknown,
			Summary: "Agent not found",
		}, nil
	}
	if !w.backend.HasPane(paneID) {
		return &Result{
			Agent:   req.AgentName,
			Status:  StatusUnknown,
			Summary: fmt.Sprintf("Session %s for agent %s no longer exists", paneID, req.AgentName),
		}, nil
	}

	start := w.now()
	deadline := start.Add(time.Duration(req.WaitUpToSeconds) * time.Second)
	ticker := time.NewTicker(w.cadence)
	defer ticker.Stop()

	for {
		processing, err := w.backend.IsProcessing(ctx, paneID)
		if err != nil {
			return nil, fmt.Errorf("poll agent %s: %w", req.AgentName, err)
		}
		if !processing {
			return w.finish(ctx, req, paneID, start, true, false)
		}
		if !w.now().Before(deadline) {
			metrics.WaitTimeouts.Inc()
			return w.finish(ctx, req, paneID, start, false, true)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Waiter) finish(ctx context.Context, req Request, paneID string, start time.Time, completed, timedOut bool) (*Result, error) {
	elapsed := w.now().Sub(start).Seconds()
	if timedOut && elapsed > float64(req.WaitUpToSeconds) {
		// The deadline check runs after a poll, so the raw measurement
		// can land a hair past the budget. Callers rely on the bound.
		elapsed = float64(req.WaitUpToSeconds)
	}
	res := &Result{
		Agent:          req.AgentName,
		Completed:      completed,
		TimedOut:       timedOut,
		ElapsedSeconds: elapsed,
	}
	if completed {
		res.Status = StatusIdle
	} else {
		res.Status = StatusRunning
	}
	res.CanContinueWaiting = timedOut && res.Status == StatusRunning

	needScreen := (completed && req.ReturnOutput) || (timedOut && req.SummaryOnTimeout)
	if !needScreen {
		return res, nil
	}
	screen, err := w.backend.ReadScreen(ctx, paneID, 0)
	if err != nil {
		// The pane can vanish between the last poll and the read.
		res.Status = StatusError
		res.Summary = fmt.Sprintf("failed to read session %s: %v", paneID, err)
		res.CanContinueWaiting = false
		return res, nil
	}
	if completed && req.ReturnOutput {
		res.Output = screen
	}
	if timedOut && req.SummaryOnTimeout {
		res.Summary = lastNonEmptyLine(screen)
	}
	return res, nil
}

// lastNonEmptyLine is the one-line summary shown on timeout.
func lastNonEmptyLine(screen string) string {
	lines := strings.Split(screen, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
