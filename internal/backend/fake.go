package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/termhive/termhive/internal/id"
)

// FakeBackend is an in-memory TerminalBackend for tests. Screen
// content and the processing signal are scripted by the test; sent
// input is recorded for assertions.
type FakeBackend struct {
	mu      sync.Mutex
	panes   map[string]*fakePane
	focused string
	now     func() time.Time
}

type fakePane struct {
	info       PaneInfo
	screen     string
	processing bool
	sent       []string
	controls   []string
	specials   []string
}

// NewFakeBackend builds an empty fake.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		panes: make(map[string]*fakePane),
		now:   time.Now,
	}
}

// AddPane registers a pane with a fixed id, bypassing CreatePane.
func (b *FakeBackend) AddPane(paneID, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.panes[paneID] = &fakePane{
		info: PaneInfo{ID: paneID, PersistentID: "persist-" + paneID, Name: name},
	}
}

// SetScreen replaces the pane's screen content.
func (b *FakeBackend) SetScreen(paneID, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.panes[paneID]; ok {
		p.screen = content
	}
}

// AppendScreen appends to the pane's screen content.
func (b *FakeBackend) AppendScreen(paneID, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.panes[paneID]; ok {
		p.screen += content
	}
}

// SetProcessing scripts the is_processing signal.
func (b *FakeBackend) SetProcessing(paneID string, processing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.panes[paneID]; ok {
		p.processing = processing
	}
}

// SentText returns the text inputs recorded for the pane.
func (b *FakeBackend) SentText(paneID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.panes[paneID]; ok {
		return append([]string(nil), p.sent...)
	}
	return nil
}

// SentControls returns the control letters recorded for the pane.
func (b *FakeBackend) SentControls(paneID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.panes[paneID]; ok {
		return append([]string(nil), p.controls...)
	}
	return nil
}

// SentSpecials returns the special keys recorded for the pane.
func (b *FakeBackend) SentSpecials(paneID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.panes[paneID]; ok {
		return append([]string(nil), p.specials...)
	}
	return nil
}

// Focused returns the last focused pane.
func (b *FakeBackend) Focused() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.focused
}

func (b *FakeBackend) pane(paneID string) (*fakePane, error) {
	p, ok := b.panes[paneID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPaneNotFound, paneID)
	}
	return p, nil
}

func (b *FakeBackend) writablePane(paneID string) (*fakePane, error) {
	p, err := b.pane(paneID)
	if err != nil {
		return nil, err
	}
	if p.info.IsSuspended {
		return nil, fmt.Errorf("%w: %q", ErrSuspended, paneID)
	}
	return p, nil
}

// CreatePane registers a pane with a generated id.
func (b *FakeBackend) CreatePane(ctx context.Context, opts CreatePaneOptions) (*PaneInfo, error) {
	if !opts.Split.Valid() {
		return nil, fmt.Errorf("invalid split direction %q", opts.Split)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if opts.ParentPane != "" {
		if _, ok := b.panes[opts.ParentPane]; !ok {
			return nil, fmt.Errorf("%w: parent pane %q", ErrPaneNotFound, opts.ParentPane)
		}
	}
	p := &fakePane{
		info: PaneInfo{ID: id.Short(), PersistentID: id.Generate(), Name: opts.Name},
	}
	b.panes[p.info.ID] = p
	info := p.info
	return &info, nil
}

func (b *FakeBackend) SetPaneName(paneID, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.pane(paneID)
	if err != nil {
		return err
	}
	p.info.Name = name
	return nil
}

func (b *FakeBackend) SendText(ctx context.Context, paneID, text string, pressEnter bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.writablePane(paneID)
	if err != nil {
		return err
	}
	p.sent = append(p.sent, text)
	return nil
}

func (b *FakeBackend) SendControl(ctx context.Context, paneID, letter string) error {
	if _, err := ControlByte(letter); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.writablePane(paneID)
	if err != nil {
		return err
	}
	p.controls = append(p.controls, letter)
	return nil
}

func (b *FakeBackend) SendSpecial(ctx context.Context, paneID, key string) error {
	if _, err := SpecialKeySequence(key); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.writablePane(paneID)
	if err != nil {
		return err
	}
	p.specials = append(p.specials, key)
	return nil
}

func (b *FakeBackend) ReadScreen(ctx context.Context, paneID string, maxLines int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.pane(paneID)
	if err != nil {
		return "", err
	}
	return lastLines(p.screen, maxLines), nil
}

func (b *FakeBackend) IsProcessing(ctx context.Context, paneID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.pane(paneID)
	if err != nil {
		return false, err
	}
	return p.processing, nil
}

func (b *FakeBackend) Focus(ctx context.Context, paneID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.pane(paneID); err != nil {
		return err
	}
	b.focused = paneID
	return nil
}

func (b *FakeBackend) Suspend(paneID, agent string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.pane(paneID)
	if err != nil {
		return err
	}
	if p.info.IsSuspended {
		return fmt.Errorf("%w: %q", ErrAlreadySuspended, paneID)
	}
	p.info.IsSuspended = true
	p.info.SuspendedAt = b.now().UTC()
	p.info.SuspendedBy = agent
	return nil
}

func (b *FakeBackend) Resume(paneID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.pane(paneID)
	if err != nil {
		return err
	}
	if !p.info.IsSuspended {
		return fmt.Errorf("%w: %q", ErrNotSuspended, paneID)
	}
	p.info.IsSuspended = false
	p.info.SuspendedAt = time.Time{}
	p.info.SuspendedBy = ""
	return nil
}

func (b *FakeBackend) ClosePane(paneID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.panes[paneID]; !ok {
		return fmt.Errorf("%w: %q", ErrPaneNotFound, paneID)
	}
	delete(b.panes, paneID)
	if b.focused == paneID {
		b.focused = ""
	}
	return nil
}

func (b *FakeBackend) List() []PaneInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PaneInfo, 0, len(b.panes))
	for _, p := range b.panes {
		out = append(out, p.info)
	}
	return out
}

func (b *FakeBackend) GetByName(name string) (*PaneInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.panes {
		if p.info.Name == name {
			info := p.info
			return &info, true
		}
	}
	return nil, false
}

func (b *FakeBackend) HasPane(paneID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.panes[paneID]
	return ok
}

func (b *FakeBackend) PaneByName(name string) string {
	if info, ok := b.GetByName(name); ok {
		return info.ID
	}
	return ""
}

var _ TerminalBackend = (*FakeBackend)(nil)
var _ TerminalBackend = (*LocalBackend)(nil)
