package backend

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"

	"github.com/termhive/termhive/internal/id"
)

// processingWindow is how long after the last output chunk a pane is
// still considered busy.
const processingWindow = 500 * time.Millisecond

// pane is one local PTY session.
type pane struct {
	mu           sync.Mutex
	info         PaneInfo
	cmd          *exec.Cmd
	ptmx         *os.File
	screen       *screenBuffer
	lastOutputNs atomic.Int64
	stopped      bool
	exitCh       chan struct{}
}

func (p *pane) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return fmt.Errorf("pane %s is stopped", p.info.ID)
	}
	_, err := p.ptmx.Write(data)
	return err
}

func (p *pane) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	_ = p.ptmx.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

func (p *pane) exited() bool {
	select {
	case <-p.exitCh:
		return true
	default:
		return false
	}
}

func (p *pane) readOutput() {
	buf := make([]byte, 32*1024)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			p.screen.Write(buf[:n])
			p.lastOutputNs.Store(time.Now().UnixNano())
		}
		if err != nil {
			if err != io.EOF {
				slog.Debug("pane read error", "pane_id", p.info.ID, "error", err)
			}
			return
		}
	}
}

func (p *pane) waitForExit() {
	err := p.cmd.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	close(p.exitCh)
	slog.Info("pane exited", "pane_id", p.info.ID, "exit_code", exitCode)
}

// LocalBackend runs panes as local PTY sessions. It exists so the core
// can be exercised without an emulator integration; the suspend and
// naming semantics match what an emulator adapter must provide.
type LocalBackend struct {
	mu      sync.RWMutex
	panes   map[string]*pane
	focused string
	now     func() time.Time
}

// NewLocalBackend builds an empty backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		panes: make(map[string]*pane),
		now:   time.Now,
	}
}

// CreatePane starts a new PTY running the default shell (or the
// profile, treated as a shell path). Split placement is accepted for
// interface compatibility; a headless backend has no layout.
func (b *LocalBackend) CreatePane(ctx context.Context, opts CreatePaneOptions) (*PaneInfo, error) {
	if !opts.Split.Valid() {
		return nil, fmt.Errorf("invalid split direction %q", opts.Split)
	}
	if opts.ParentPane != "" && !b.HasPane(opts.ParentPane) {
		return nil, fmt.Errorf("%w: parent pane %q", ErrPaneNotFound, opts.ParentPane)
	}

	shell := opts.Profile
	if shell == "" {
		shell = resolveDefaultShell()
	}

	cmd := exec.Command(shell)
	cmd.Dir = opts.WorkingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: 80, Rows: 24})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	p := &pane{
		info: PaneInfo{
			ID:           id.Short(),
			PersistentID: id.Generate(),
			Name:         opts.Name,
		},
		cmd:    cmd,
		ptmx:   ptmx,
		screen: newScreenBuffer(),
		exitCh: make(chan struct{}),
	}
	go p.readOutput()
	go p.waitForExit()

	b.mu.Lock()
	b.panes[p.info.ID] = p
	b.mu.Unlock()

	slog.Info("pane created", "pane_id", p.info.ID, "shell", shell, "pid", cmd.Process.Pid)
	info := p.info
	return &info, nil
}

func (b *LocalBackend) pane(paneID string) (*pane, error) {
	b.mu.RLock()
	p, ok := b.panes[paneID]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPaneNotFound, paneID)
	}
	return p, nil
}

// SetPaneName renames a pane.
func (b *LocalBackend) SetPaneName(paneID, name string) error {
	p, err := b.pane(paneID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.info.Name = name
	p.mu.Unlock()
	return nil
}

// SendText writes text to the pane, appending carriage return when
// pressEnter is set. Commands that the shell would mangle are wrapped
// in a base64 eval so transport encoding stays out of shell parsing.
func (b *LocalBackend) SendText(ctx context.Context, paneID, text string, pressEnter bool) error {
	p, err := b.writablePane(paneID)
	if err != nil {
		return err
	}
	if pressEnter && needsShellEncoding(text) {
		text = wrapCommand(text)
	}
	if pressEnter {
		text += "\r"
	}
	return p.write([]byte(text))
}

// SendControl sends Ctrl-<letter> to the pane.
func (b *LocalBackend) SendControl(ctx context.Context, paneID, letter string) error {
	c, err := ControlByte(letter)
	if err != nil {
		return err
	}
	p, err := b.writablePane(paneID)
	if err != nil {
		return err
	}
	return p.write([]byte{c})
}

// SendSpecial sends a named key to the pane.
func (b *LocalBackend) SendSpecial(ctx context.Context, paneID, key string) error {
	seq, err := SpecialKeySequence(key)
	if err != nil {
		return err
	}
	p, err := b.writablePane(paneID)
	if err != nil {
		return err
	}
	return p.write([]byte(seq))
}

func (b *LocalBackend) writablePane(paneID string) (*pane, error) {
	p, err := b.pane(paneID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	suspended := p.info.IsSuspended
	p.mu.Unlock()
	if suspended {
		return nil, fmt.Errorf("%w: %q", ErrSuspended, paneID)
	}
	return p, nil
}

// ReadScreen returns the last maxLines lines of buffered output.
func (b *LocalBackend) ReadScreen(ctx context.Context, paneID string, maxLines int) (string, error) {
	p, err := b.pane(paneID)
	if err != nil {
		return "", err
	}
	return p.screen.LastLines(maxLines), nil
}

// IsProcessing reports whether the pane produced output recently.
func (b *LocalBackend) IsProcessing(ctx context.Context, paneID string) (bool, error) {
	p, err := b.pane(paneID)
	if err != nil {
		return false, err
	}
	if p.exited() {
		return false, nil
	}
	last := p.lastOutputNs.Load()
	if last == 0 {
		return false, nil
	}
	return time.Since(time.Unix(0, last)) < processingWindow, nil
}

// Focus marks the pane as focused.
func (b *LocalBackend) Focus(ctx context.Context, paneID string) error {
	if !b.HasPane(paneID) {
		return fmt.Errorf("%w: %q", ErrPaneNotFound, paneID)
	}
	b.mu.Lock()
	b.focused = paneID
	b.mu.Unlock()
	return nil
}

// Focused returns the currently focused pane id, or "".
func (b *LocalBackend) Focused() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.focused
}

// Suspend marks the pane suspended; input is rejected until Resume.
func (b *LocalBackend) Suspend(paneID, agent string) error {
	p, err := b.pane(paneID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.info.IsSuspended {
		return fmt.Errorf("%w: %q", ErrAlreadySuspended, paneID)
	}
	p.info.IsSuspended = true
	p.info.SuspendedAt = b.now().UTC()
	p.info.SuspendedBy = agent
	return nil
}

// Resume clears the suspended state.
func (b *LocalBackend) Resume(paneID string) error {
	p, err := b.pane(paneID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.info.IsSuspended {
		return fmt.Errorf("%w: %q", ErrNotSuspended, paneID)
	}
	p.info.IsSuspended = false
	p.info.SuspendedAt = time.Time{}
	p.info.SuspendedBy = ""
	return nil
}

// ClosePane stops the PTY and removes the pane.
func (b *LocalBackend) ClosePane(paneID string) error {
	b.mu.Lock()
	p, ok := b.panes[paneID]
	if ok {
		delete(b.panes, paneID)
		if b.focused == paneID {
			b.focused = ""
		}
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrPaneNotFound, paneID)
	}
	p.stop()
	return nil
}

// CloseAll stops every pane. Used at shutdown.
func (b *LocalBackend) CloseAll() {
	b.mu.Lock()
	panes := make([]*pane, 0, len(b.panes))
	for _, p := range b.panes {
		panes = append(panes, p)
	}
	b.panes = make(map[string]*pane)
	b.focused = ""
	b.mu.Unlock()
	for _, p := range panes {
		p.stop()
	}
}

// List enumerates the panes.
func (b *LocalBackend) List() []PaneInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PaneInfo, 0, len(b.panes))
	for _, p := range b.panes {
		p.mu.Lock()
		out = append(out, p.info)
		p.mu.Unlock()
	}
	return out
}

// GetByName returns the pane with the given name.
func (b *LocalBackend) GetByName(name string) (*PaneInfo, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.panes {
		p.mu.Lock()
		info := p.info
		p.mu.Unlock()
		if info.Name == name {
			return &info, true
		}
	}
	return nil, false
}

// HasPane reports whether the pane id exists.
func (b *LocalBackend) HasPane(paneID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.panes[paneID]
	return ok
}

// PaneByName returns the id of the pane with the given name, or "".
func (b *LocalBackend) PaneByName(name string) string {
	if info, ok := b.GetByName(name); ok {
		return info.ID
	}
	return ""
}

// needsShellEncoding reports whether sending text directly would risk
// shell mangling.
func needsShellEncoding(text string) bool {
	return strings.ContainsAny(text, "\n`$\"'\\!")
}

// wrapCommand encodes a command so the shell decodes it itself.
func wrapCommand(text string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	return fmt.Sprintf(`eval "$(echo %s | base64 -d)"`, encoded)
}
