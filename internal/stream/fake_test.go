package stream

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"stream-switcher/internal/switcher"
)

// fakeSwitcher records requests. Clips listed in missing are rejected like
// the real controller rejects unknown files.
type fakeSwitcher struct {
	mu       sync.Mutex
	requests []string
	stops    int
	missing  []string
	closed   bool
}

func (f *fakeSwitcher) RequestSwitch(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return switcher.ErrClosed
	}
	if slices.Contains(f.missing, id) {
		return fmt.Errorf("%w: %q", switcher.ErrUnknownTarget, id)
	}
	f.requests = append(f.requests, id)
	return nil
}

func (f *fakeSwitcher) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return switcher.ErrClosed
	}
	f.stops++
	return nil
}

func (f *fakeSwitcher) Status() switcher.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := switcher.Status{Pending: []string{}, Strategy: switcher.StrategyProcess}
	if n := len(f.requests); n > 0 {
		st.CurrentTarget = f.requests[n-1]
	}
	return st
}

func (f *fakeSwitcher) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(sw *fakeSwitcher) *Service {
	return NewService(sw, nil, nil, testLogger())
}
