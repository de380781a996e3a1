package stream

import (
	"sync"

	"stream-switcher/internal/switcher"
)

// DefaultHistorySize is the number of entries kept when NewHistory gets a
// non-positive size.
const DefaultHistorySize = 100

// History is a concurrency-safe, bounded record of finished switches.
// Once full, the oldest entry is overwritten.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewHistory returns a History holding at most size entries.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{entries: make([]Entry, size)}
}

// Record stores res. Its signature matches switcher.WithObserver.
func (h *History) Record(res switcher.Result) {
	e := Entry{
		Target:     res.Target,
		Outcome:    res.Outcome,
		Attempts:   res.Attempts,
		DurationMS: res.Duration.Milliseconds(),
		FinishedAt: res.Finished,
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = e
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
}

// List returns the recorded entries, newest first.
func (h *History) List() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.next
	if h.full {
		n = len(h.entries)
	}
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.entries)) % len(h.entries)
		out = append(out, h.entries[idx])
	}
	return out
}

// Len returns the number of recorded entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.entries)
	}
	return h.next
}
