package message

import (
	"github.com/termhive/termhive/internal/target"
)

// Type tags, one per variant. These are wire-stable: changing one
// breaks persisted journals and connected transports.
const (
	TypeTerminalCommand       = "TerminalCommand"
	TypeTerminalReadRequest   = "TerminalReadRequest"
	TypeControlCharacter      = "ControlCharacter"
	TypeSpecialKey            = "SpecialKey"
	TypeSessionStatusRequest  = "SessionStatusRequest"
	TypeSessionStatusResponse = "SessionStatusResponse"
	TypeSessionListRequest    = "SessionListRequest"
	TypeSessionListResponse   = "SessionListResponse"
	TypeFocusSession          = "FocusSession"
	TypeBroadcastNotification = "BroadcastNotification"
	TypeWaitForAgent          = "WaitForAgent"
	TypeWaitForAgentResult    = "WaitForAgentResult"
	TypeTerminalOutput        = "TerminalOutput"
	TypeAck                   = "Ack"
	TypeError                 = "ErrorMessage"
)

// TerminalCommand asks the core to type a command into a pane.
type TerminalCommand struct {
	Envelope
	Target     target.Target `json:"target"`
	Command    string        `json:"command"`
	PressEnter bool          `json:"press_enter"`
}

func (m *TerminalCommand) Type() string   { return TypeTerminalCommand }
func (m *TerminalCommand) Env() *Envelope { return &m.Envelope }

// TerminalReadRequest asks for the last MaxLines of a pane's screen.
type TerminalReadRequest struct {
	Envelope
	Target   target.Target `json:"target"`
	MaxLines int           `json:"max_lines,omitempty"`
}

func (m *TerminalReadRequest) Type() string   { return TypeTerminalReadRequest }
func (m *TerminalReadRequest) Env() *Envelope { return &m.Envelope }

// ControlCharacter sends a control key (a single letter A-Z, mapped to
// ASCII 1..26) to a pane.
type ControlCharacter struct {
	Envelope
	Target target.Target `json:"target"`
	Letter string        `json:"letter"`
}

func (m *ControlCharacter) Type() string   { return TypeControlCharacter }
func (m *ControlCharacter) Env() *Envelope { return &m.Envelope }

// SpecialKey sends a named key (enter, tab, escape, arrows, ...) to a pane.
type SpecialKey struct {
	Envelope
	Target target.Target `json:"target"`
	Key    string        `json:"key"`
}

func (m *SpecialKey) Type() string   { return TypeSpecialKey }
func (m *SpecialKey) Env() *Envelope { return &m.Envelope }

// SessionStatusRequest asks for a single pane's status.
type SessionStatusRequest struct {
	Envelope
	Target target.Target `json:"target"`
}

func (m *SessionStatusRequest) Type() string   { return TypeSessionStatusRequest }
func (m *SessionStatusRequest) Env() *Envelope { return &m.Envelope }

// SessionStatusResponse reports one pane's status.
type SessionStatusResponse struct {
	Envelope
	PaneID       string   `json:"pane_id"`
	AgentName    string   `json:"agent_name,omitempty"`
	IsProcessing bool     `json:"is_processing"`
	LockedBy     string   `json:"locked_by,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

func (m *SessionStatusResponse) Type() string   { return TypeSessionStatusResponse }
func (m *SessionStatusResponse) Env() *Envelope { return &m.Envelope }

// SessionListRequest asks for all known panes.
type SessionListRequest struct {
	Envelope
}

func (m *SessionListRequest) Type() string   { return TypeSessionListRequest }
func (m *SessionListRequest) Env() *Envelope { return &m.Envelope }

// SessionListResponse lists the backend's panes.
type SessionListResponse struct {
	Envelope
	PaneIDs []string `json:"pane_ids"`
}

func (m *SessionListResponse) Type() string   { return TypeSessionListResponse }
func (m *SessionListResponse) Env() *Envelope { return &m.Envelope }

// FocusSession asks the backend to bring a pane to the foreground,
// subject to the focus cooldown.
type FocusSession struct {
	Envelope
	Target target.Target `json:"target"`
}

func (m *FocusSession) Type() string   { return TypeFocusSession }
func (m *FocusSession) Env() *Envelope { return &m.Envelope }

// BroadcastNotification carries a topic publication.
type BroadcastNotification struct {
	Envelope
	Topic   string         `json:"topic"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (m *BroadcastNotification) Type() string   { return TypeBroadcastNotification }
func (m *BroadcastNotification) Env() *Envelope { return &m.Envelope }

// WaitForAgent blocks until an agent's pane goes idle or the wait
// deadline expires.
type WaitForAgent struct {
	Envelope
	AgentName        string `json:"agent_name"`
	WaitUpToSeconds  int    `json:"wait_up_to_seconds"`
	ReturnOutput     bool   `json:"return_output"`
	SummaryOnTimeout bool   `json:"summary_on_timeout"`
}

func (m *WaitForAgent) Type() string   { return TypeWaitForAgent }
func (m *WaitForAgent) Env() *Envelope { return &m.Envelope }

// WaitForAgentResult carries the outcome of a WaitForAgent request.
type WaitForAgentResult struct {
	Envelope
	Agent              string  `json:"agent"`
	Completed          bool    `json:"completed"`
	TimedOut           bool    `json:"timed_out"`
	ElapsedSeconds     float64 `json:"elapsed_seconds"`
	Status             string  `json:"status"`
	Output             string  `json:"output,omitempty"`
	Summary            string  `json:"summary,omitempty"`
	CanContinueWaiting bool    `json:"can_continue_waiting"`
}

func (m *WaitForAgentResult) Type() string   { return TypeWaitForAgentResult }
func (m *WaitForAgentResult) Env() *Envelope { return &m.Envelope }

// TerminalOutput returns screen contents read from a pane.
type TerminalOutput struct {
	Envelope
	PaneID  string `json:"pane_id"`
	Content string `json:"content"`
}

func (m *TerminalOutput) Type() string   { return TypeTerminalOutput }
func (m *TerminalOutput) Env() *Envelope { return &m.Envelope }

// Ack is the minimal success response for commands with no payload.
type Ack struct {
	Envelope
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

func (m *Ack) Type() string   { return TypeAck }
func (m *Ack) Env() *Envelope { return &m.Envelope }

// ErrorMessage is the router's structured failure response.
type ErrorMessage struct {
	Envelope
	Code              string `json:"code"`
	ErrorText         string `json:"error"`
	OriginalMessageID string `json:"original_message_id,omitempty"`
	Recoverable       bool   `json:"recoverable"`
}

func (m *ErrorMessage) Type() string   { return TypeError }
func (m *ErrorMessage) Env() *Envelope { return &m.Envelope }
