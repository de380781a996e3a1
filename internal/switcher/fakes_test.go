package switcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stream-switcher/internal/platform/logger"
)

var errKilled = errors.New("signal: killed")

// fakeProcess is a Process driven by the test.
type fakeProcess struct {
	pid   int
	args  []string
	lines chan string
	done  chan struct{}

	// ignoreInterrupt makes Interrupt a no-op so only Kill ends the process.
	ignoreInterrupt bool

	interrupts atomic.Int32
	kills      atomic.Int32

	once sync.Once
	mu   sync.Mutex
	err  error
}

func newFakeProcess(pid int, args []string) *fakeProcess {
	return &fakeProcess{
		pid:   pid,
		args:  args,
		lines: make(chan string, 64),
		done:  make(chan struct{}),
	}
}

func (p *fakeProcess) Pid() int                   { return p.pid }
func (p *fakeProcess) Diagnostics() <-chan string { return p.lines }
func (p *fakeProcess) Done() <-chan struct{}      { return p.done }

func (p *fakeProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProcess) Interrupt() error {
	p.interrupts.Add(1)
	if !p.ignoreInterrupt {
		p.exit(nil)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.kills.Add(1)
	p.exit(errKilled)
	return nil
}

func (p *fakeProcess) emit(line string) {
	p.lines <- line
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// fakeLauncher hands out fakeProcesses. setup runs before Launch returns.
type fakeLauncher struct {
	setup func(n int, p *fakeProcess)
	err   error

	mu    sync.Mutex
	procs []*fakeProcess
}

func (l *fakeLauncher) Launch(ctx context.Context, name string, args []string) (Process, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	n := len(l.procs) + 1
	p := newFakeProcess(1000+n, args)
	l.procs = append(l.procs, p)
	l.mu.Unlock()
	if l.setup != nil {
		l.setup(n, p)
	}
	return p, nil
}

func (l *fakeLauncher) launched() []*fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeProcess(nil), l.procs...)
}

// fakeSupervisor records calls made by the Controller.
type fakeSupervisor struct {
	exits   chan Exit
	started chan string

	mu         sync.Mutex
	gate       chan struct{}
	stubborn   bool
	failures   map[string]int
	active     *Session
	starts     []string
	calls      []call
	terminates int
	opened     bool
	closed     bool
	seq        int
}

// call is one timestamped Start or Terminate seen by fakeSupervisor.
type call struct {
	op     string
	target string
	at     time.Time
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{
		exits:    make(chan Exit, exitBuffer),
		started:  make(chan string, 64),
		failures: make(map[string]int),
	}
}

func (s *fakeSupervisor) Open(ctx context.Context) error {
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	return nil
}

// failFor makes the next n starts of target fail. A negative n fails forever.
func (s *fakeSupervisor) failFor(target string, n int) {
	s.mu.Lock()
	s.failures[target] = n
	s.mu.Unlock()
}

// hold makes every following Start block until release is called.
func (s *fakeSupervisor) hold() {
	s.mu.Lock()
	s.gate = make(chan struct{})
	s.mu.Unlock()
}

// holdIgnoringContext is hold for a Start that does not honour cancellation.
func (s *fakeSupervisor) holdIgnoringContext() {
	s.mu.Lock()
	s.gate = make(chan struct{})
	s.stubborn = true
	s.mu.Unlock()
}

func (s *fakeSupervisor) release() {
	s.mu.Lock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
	s.mu.Unlock()
}

func (s *fakeSupervisor) Start(ctx context.Context, target, path string) (Session, error) {
	s.mu.Lock()
	s.starts = append(s.starts, target)
	s.calls = append(s.calls, call{op: "start", target: target, at: time.Now()})
	gate, stubborn := s.gate, s.stubborn
	s.mu.Unlock()
	s.started <- target

	switch {
	case gate != nil && stubborn:
		<-gate
	case gate != nil:
		select {
		case <-gate:
		case <-ctx.Done():
			return Session{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.failures[target]; n != 0 {
		if n > 0 {
			s.failures[target] = n - 1
		}
		return Session{}, fmt.Errorf("%w: fake failure for %s", ErrStartupFailed, target)
	}
	s.seq++
	sess := Session{
		ID:        fmt.Sprintf("session-%d", s.seq),
		Target:    target,
		Path:      path,
		PID:       100 + s.seq,
		StartedAt: time.Now(),
	}
	s.active = &sess
	return sess, nil
}

func (s *fakeSupervisor) Terminate() {
	s.mu.Lock()
	s.terminates++
	s.calls = append(s.calls, call{op: "terminate", at: time.Now()})
	s.active = nil
	s.mu.Unlock()
}

func (s *fakeSupervisor) Active() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Session{}, false
	}
	return *s.active, true
}

func (s *fakeSupervisor) Exits() <-chan Exit { return s.exits }

func (s *fakeSupervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.active = nil
	s.mu.Unlock()
	return nil
}

// crash ends the active session as if the encoder died.
func (s *fakeSupervisor) crash() Session {
	s.mu.Lock()
	sess := *s.active
	s.active = nil
	s.mu.Unlock()
	s.exits <- Exit{Session: sess, Err: errors.New("unexpected exit: exit status 1")}
	return sess
}

func (s *fakeSupervisor) callLog() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

func (s *fakeSupervisor) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSupervisor) startLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.starts...)
}

// newClipDir creates an empty clip file for each name.
func newClipDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("clip"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testConfig(clipDir string) Config {
	cfg := DefaultConfig()
	cfg.ClipDir = clipDir
	cfg.FIFOPath = filepath.Join(clipDir, "stream_fifo")
	cfg.SafetyInterval = 5 * time.Millisecond
	cfg.GracefulTimeout = 50 * time.Millisecond
	cfg.SpawnConfirm = 20 * time.Millisecond
	cfg.RetryLimit = 2
	cfg.RetryBackoff = time.Millisecond
	cfg.ReaderRestart = 10 * time.Millisecond
	cfg.Encoder.OutputURL = "rtmp://ingest.test/live/key"
	return cfg
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var testLog = logger.Discard()
