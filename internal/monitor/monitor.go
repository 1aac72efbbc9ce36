// Package monitor runs background screen watchers over panes and
// fans content changes out to a callback.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/termhive/termhive/internal/backend"
)

// DefaultInterval is the screen polling cadence.
const DefaultInterval = time.Second

// ScreenReader is the backend slice watchers poll.
type ScreenReader interface {
	ReadScreen(ctx context.Context, paneID string, maxLines int) (string, error)
}

// UpdateFunc receives the new screen content when it changes.
type UpdateFunc func(paneID, screen string)

type watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Monitor owns one watcher goroutine per watched pane.
type Monitor struct {
	reader   ScreenReader
	interval time.Duration
	onUpdate UpdateFunc

	mu       sync.Mutex
	watchers map[string]*watcher
	stopped  bool
}

// New builds a monitor. A zero interval takes DefaultInterval.
func New(reader ScreenReader, interval time.Duration, onUpdate UpdateFunc) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		reader:   reader,
		interval: interval,
		onUpdate: onUpdate,
		watchers: make(map[string]*watcher),
	}
}

// Watch starts a watcher for the pane. Watching an already watched
// pane is a no-op.
func (m *Monitor) Watch(paneID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if _, ok := m.watchers[paneID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{cancel: cancel, done: make(chan struct{})}
	m.watchers[paneID] = w
	go m.run(ctx, paneID, w)
}

func (m *Monitor) run(ctx context.Context, paneID string, w *watcher) {
	defer close(w.done)
	defer func() {
		m.mu.Lock()
		if m.watchers[paneID] == w {
			delete(m.watchers, paneID)
		}
		m.mu.Unlock()
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var lastScreen string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		screen, err := m.reader.ReadScreen(ctx, paneID, 0)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, backend.ErrPaneNotFound) {
				// The pane went away, often during shutdown. Stop quietly.
				slog.Debug("watched pane is gone, stopping watcher", "pane_id", paneID)
				return
			}
			slog.Warn("screen watch read failed", "pane_id", paneID, "error", err)
			continue
		}
		if screen == lastScreen {
			continue
		}
		lastScreen = screen
		if m.onUpdate != nil {
			m.onUpdate(paneID, screen)
		}
	}
}

// Unwatch stops the pane's watcher and waits for it to drain.
func (m *Monitor) Unwatch(paneID string) {
	m.mu.Lock()
	w, ok := m.watchers[paneID]
	if ok {
		delete(m.watchers, paneID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	w.cancel()
	<-w.done
}

// IsWatching reports whether the pane has an active watcher.
func (m *Monitor) IsWatching(paneID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watchers[paneID]
	return ok
}

// Watched lists the panes with active watchers.
func (m *Monitor) Watched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.watchers))
	for paneID := range m.watchers {
		out = append(out, paneID)
	}
	return out
}

// Stop cancels every watcher and waits for all of them to drain. The
// monitor accepts no new watches afterwards.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	watchers := make([]*watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.watchers = make(map[string]*watcher)
	m.mu.Unlock()

	for _, w := range watchers {
		w.cancel()
		<-w.done
	}
}
