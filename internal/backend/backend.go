// Package backend defines the terminal capabilities the core depends
// on and ships two implementations: a local PTY backend and a scripted
// fake for tests. Any emulator integration satisfies TerminalBackend.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPaneNotFound is returned for operations on unknown pane ids.
	ErrPaneNotFound = errors.New("pane not found")
	// ErrAlreadySuspended is returned by a second Suspend on the same pane.
	ErrAlreadySuspended = errors.New("pane is already suspended")
	// ErrNotSuspended is returned by Resume on a pane that is not suspended.
	ErrNotSuspended = errors.New("pane is not suspended")
	// ErrSuspended is returned when input is sent to a suspended pane.
	ErrSuspended = errors.New("pane is suspended")
	// ErrInvalidKey is returned for control letters outside A-Z and for
	// unknown special keys.
	ErrInvalidKey = errors.New("invalid key")
)

// SplitDirection places a new pane relative to its parent.
type SplitDirection string

const (
	SplitNone  SplitDirection = "none"
	SplitAbove SplitDirection = "above"
	SplitBelow SplitDirection = "below"
	SplitLeft  SplitDirection = "left"
	SplitRight SplitDirection = "right"
)

// Valid reports whether d is a known direction. The zero value counts
// as SplitNone.
func (d SplitDirection) Valid() bool {
	switch d {
	case "", SplitNone, SplitAbove, SplitBelow, SplitLeft, SplitRight:
		return true
	}
	return false
}

// specialKeys maps key names to the byte sequences written to the PTY.
var specialKeys = map[string]string{
	"enter":     "\r",
	"return":    "\r",
	"tab":       "\t",
	"escape":    "\x1b",
	"space":     " ",
	"backspace": "\x7f",
	"delete":    "\x1b[3~",
	"up":        "\x1b[A",
	"down":      "\x1b[B",
	"right":     "\x1b[C",
	"left":      "\x1b[D",
	"home":      "\x1b[H",
	"end":       "\x1b[F",
}

// SpecialKeySequence returns the byte sequence for a named key.
func SpecialKeySequence(key string) (string, error) {
	seq, ok := specialKeys[key]
	if !ok {
		return "", fmt.Errorf("%w: special key %q", ErrInvalidKey, key)
	}
	return seq, nil
}

// ControlByte maps a letter A-Z (case-insensitive) to ASCII 1..26.
func ControlByte(letter string) (byte, error) {
	if len(letter) != 1 {
		return 0, fmt.Errorf("%w: control %q must be one letter", ErrInvalidKey, letter)
	}
	c := letter[0]
	switch {
	case c >= 'A' && c <= 'Z':
		return c - 'A' + 1, nil
	case c >= 'a' && c <= 'z':
		return c - 'a' + 1, nil
	}
	return 0, fmt.Errorf("%w: control %q outside A-Z", ErrInvalidKey, letter)
}

// PaneInfo is the externally visible state of a pane.
type PaneInfo struct {
	ID           string
	PersistentID string
	Name         string
	IsSuspended  bool
	SuspendedAt  time.Time
	SuspendedBy  string
}

// CreatePaneOptions configures pane creation.
type CreatePaneOptions struct {
	ParentPane string
	Split      SplitDirection
	Profile    string
	Name       string
	WorkingDir string
}

// TerminalBackend is the capability set the core consumes.
type TerminalBackend interface {
	CreatePane(ctx context.Context, opts CreatePaneOptions) (*PaneInfo, error)
	SetPaneName(paneID, name string) error
	SendText(ctx context.Context, paneID, text string, pressEnter bool) error
	SendControl(ctx context.Context, paneID, letter string) error
	SendSpecial(ctx context.Context, paneID, key string) error
	ReadScreen(ctx context.Context, paneID string, maxLines int) (string, error)
	IsProcessing(ctx context.Context, paneID string) (bool, error)
	Focus(ctx context.Context, paneID string) error
	Suspend(paneID, agent string) error
	Resume(paneID string) error
	ClosePane(paneID string) error
	List() []PaneInfo
	GetByName(name string) (*PaneInfo, bool)
	HasPane(paneID string) bool
	PaneByName(name string) string
}
