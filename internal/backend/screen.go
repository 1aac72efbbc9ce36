package backend

import (
	"strings"
	"sync"
)

const screenBufferSize = 100 * 1024

// screenBuffer is a thread-safe ring buffer over recent PTY output.
type screenBuffer struct {
	mu   sync.Mutex
	buf  []byte
	pos  int
	full bool
}

func newScreenBuffer() *screenBuffer {
	return &screenBuffer{buf: make([]byte, screenBufferSize)}
}

func (sb *screenBuffer) Write(data []byte) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	for len(data) > 0 {
		n := copy(sb.buf[sb.pos:], data)
		data = data[n:]
		sb.pos += n
		if sb.pos >= len(sb.buf) {
			sb.pos = 0
			sb.full = true
		}
	}
}

// Snapshot returns the buffered output in chronological order.
func (sb *screenBuffer) Snapshot() []byte {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if !sb.full {
		out := make([]byte, sb.pos)
		copy(out, sb.buf[:sb.pos])
		return out
	}

	out := make([]byte, len(sb.buf))
	n := copy(out, sb.buf[sb.pos:])
	copy(out[n:], sb.buf[:sb.pos])
	return out
}

// LastLines returns the trailing maxLines lines of the snapshot, or
// the whole snapshot when maxLines <= 0.
func (sb *screenBuffer) LastLines(maxLines int) string {
	return lastLines(string(sb.Snapshot()), maxLines)
}

func lastLines(s string, maxLines int) string {
	if maxLines <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s
	}
	return strings.Join(lines[len(lines)-maxLines:], "\n")
}
