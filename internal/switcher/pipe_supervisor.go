package switcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// feedChunk is the size of each write into the pipe.
const feedChunk = 32 * 1024

var (
	errClipEnded = errors.New("clip ended")
	errEmptyClip = errors.New("clip is empty")
)

// PipeSupervisor keeps one encoder reading a named pipe for the controller's
// whole lifetime. A session is a feeder goroutine streaming one clip into
// the pipe; switching replaces the feeder, not the encoder.
type PipeSupervisor struct {
	cfg      Config
	launcher Launcher
	log      *slog.Logger
	exits    chan Exit

	// readerMu serialises reader launches between Start and the restart timer.
	readerMu sync.Mutex

	mu      sync.Mutex
	pipe    *os.File
	reader  *instance
	feeder  *feeder
	restart *time.Timer
	closed  bool
}

// NewPipeSupervisor returns the persistent-pipe backend.
func NewPipeSupervisor(cfg Config, launcher Launcher, log *slog.Logger) *PipeSupervisor {
	return &PipeSupervisor{
		cfg:      cfg,
		launcher: launcher,
		log:      log.With(slog.String("component", "pipe_supervisor"), slog.String("fifo", cfg.FIFOPath)),
		exits:    make(chan Exit, exitBuffer),
	}
}

// Open recreates the FIFO, holds it open read-write so the reader never sees
// EOF between clips, and launches the reader encoder.
func (s *PipeSupervisor) Open(ctx context.Context) error {
	if err := makeFIFO(s.cfg.FIFOPath); err != nil {
		return fmt.Errorf("create fifo %s: %w", s.cfg.FIFOPath, err)
	}
	pipe, err := os.OpenFile(s.cfg.FIFOPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open fifo %s: %w", s.cfg.FIFOPath, err)
	}
	s.mu.Lock()
	s.pipe = pipe
	s.mu.Unlock()
	s.log.Info("fifo ready")

	return s.ensureReader(ctx)
}

// ensureReader launches the reader unless a live one exists.
func (s *PipeSupervisor) ensureReader(ctx context.Context) error {
	s.readerMu.Lock()
	defer s.readerMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.reader != nil && s.reader.live() {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	proc, err := s.launcher.Launch(ctx, s.cfg.Encoder.Binary, s.cfg.Encoder.PipeArgs(s.cfg.FIFOPath))
	if err != nil {
		return fmt.Errorf("%w: launch: %w", ErrReaderUnavailable, err)
	}
	sess := Session{
		ID:        uuid.NewString(),
		Path:      s.cfg.FIFOPath,
		PID:       proc.Pid(),
		StartedAt: time.Now(),
	}
	in := newInstance(sess, proc, newInstanceConfig(s.cfg), s.log, s.readerDied)
	s.mu.Lock()
	s.reader = in
	s.mu.Unlock()
	in.start()

	if err := in.awaitConfirm(ctx); err != nil {
		s.mu.Lock()
		if s.reader == in {
			s.reader = nil
		}
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrReaderUnavailable, err)
	}
	s.log.Info("pipe reader running", slog.Int("pid", sess.PID))
	return nil
}

// Start implements Supervisor.
func (s *PipeSupervisor) Start(ctx context.Context, target, path string) (Session, error) {
	if err := s.ensureReader(ctx); err != nil {
		if ctx.Err() != nil {
			return Session{}, ctx.Err()
		}
		return Session{}, fmt.Errorf("%w: %w", ErrStartupFailed, err)
	}
	src, err := os.Open(path)
	if err != nil {
		return Session{}, fmt.Errorf("%w: open clip: %w", ErrStartupFailed, err)
	}

	s.mu.Lock()
	pipe, reader := s.pipe, s.reader
	s.mu.Unlock()
	if pipe == nil || reader == nil {
		src.Close()
		return Session{}, fmt.Errorf("%w: %w", ErrStartupFailed, ErrReaderUnavailable)
	}
	// A previous forced stop leaves an expired deadline behind.
	if err := pipe.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, os.ErrNoDeadline) {
		s.log.Debug("reset pipe deadline", slog.String("error", err.Error()))
	}

	sess := Session{
		ID:        uuid.NewString(),
		Target:    target,
		Path:      path,
		PID:       reader.session.PID,
		StartedAt: time.Now(),
	}
	f := newFeeder(sess, pipe, s.cfg.Encoder.Loop)
	s.mu.Lock()
	s.feeder = f
	s.mu.Unlock()
	go f.run(src)
	s.log.Info("feeding clip", slog.String("target", target), slog.String("session_id", sess.ID))

	t := time.NewTimer(s.cfg.SpawnConfirm)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		s.dropFeeder(f)
		return Session{}, ctx.Err()
	}

	if !reader.live() {
		s.dropFeeder(f)
		return Session{}, fmt.Errorf("%w: %w", ErrStartupFailed, ErrReaderUnavailable)
	}
	select {
	case <-f.done:
		if f.err != nil {
			s.dropFeeder(f)
			return Session{}, fmt.Errorf("%w: %w", ErrStartupFailed, f.err)
		}
	default:
	}
	go s.watch(f)
	return sess, nil
}

// watch reports a feeder that stops on its own after confirmation.
func (s *PipeSupervisor) watch(f *feeder) {
	<-f.done
	if f.requested.Load() {
		return
	}
	s.mu.Lock()
	current := s.feeder == f
	if current {
		s.feeder = nil
	}
	s.mu.Unlock()
	if !current {
		return
	}
	cause := f.err
	if cause == nil {
		cause = errClipEnded
	}
	s.log.Warn("feeder stopped unexpectedly", slog.String("target", f.session.Target), slog.String("error", cause.Error()))
	publishExit(s.exits, Exit{Session: f.session, Err: cause}, s.log)
}

// Terminate implements Supervisor. The reader keeps running.
func (s *PipeSupervisor) Terminate() {
	s.mu.Lock()
	f := s.feeder
	s.feeder = nil
	s.mu.Unlock()
	if f == nil {
		return
	}
	s.stopFeeder(f)
	s.log.Info("feeder stopped", slog.String("target", f.session.Target), slog.String("session_id", f.session.ID))
}

func (s *PipeSupervisor) dropFeeder(f *feeder) {
	s.mu.Lock()
	if s.feeder == f {
		s.feeder = nil
	}
	s.mu.Unlock()
	s.stopFeeder(f)
}

// stopFeeder cancels f and waits for it. A write blocked on a full pipe is
// interrupted with an expired deadline once the graceful timeout passes.
func (s *PipeSupervisor) stopFeeder(f *feeder) {
	f.requested.Store(true)
	f.cancel()

	t := time.NewTimer(s.cfg.GracefulTimeout)
	defer t.Stop()
	select {
	case <-f.done:
		return
	case <-t.C:
	}

	s.log.Warn("feeder blocked on pipe, forcing", slog.String("target", f.session.Target))
	if err := f.pipe.SetWriteDeadline(time.Now()); err != nil {
		s.log.Error("force feeder stop", slog.String("error", err.Error()))
	}
	k := time.NewTimer(killGrace)
	defer k.Stop()
	select {
	case <-f.done:
	case <-k.C:
		s.log.Error("feeder did not stop; abandoning it", slog.String("target", f.session.Target))
	}
}

// Active implements Supervisor.
func (s *PipeSupervisor) Active() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feeder == nil || s.feeder.finished() || s.reader == nil || !s.reader.live() {
		return Session{}, false
	}
	return s.feeder.session, true
}

// Exits implements Supervisor.
func (s *PipeSupervisor) Exits() <-chan Exit {
	return s.exits
}

// Close stops the feeder and the reader and removes the FIFO.
func (s *PipeSupervisor) Close(ctx context.Context) error {
	s.Terminate()

	s.mu.Lock()
	s.closed = true
	reader := s.reader
	s.reader = nil
	pipe := s.pipe
	s.pipe = nil
	if s.restart != nil {
		s.restart.Stop()
	}
	s.mu.Unlock()

	if reader != nil {
		reader.terminate()
	}
	var errs []error
	if pipe != nil {
		if err := pipe.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close fifo: %w", err))
		}
	}
	if err := os.Remove(s.cfg.FIFOPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove fifo: %w", err))
	}
	return errors.Join(errs...)
}

// readerDied runs on the reader's goroutine. The active feeder loses its
// consumer, so its session is reported as crashed and a relaunch is
// scheduled.
func (s *PipeSupervisor) readerDied(in *instance, cause error) {
	s.mu.Lock()
	if s.reader != in || s.closed {
		s.mu.Unlock()
		return
	}
	s.reader = nil
	f := s.feeder
	s.feeder = nil
	s.scheduleRestartLocked()
	s.mu.Unlock()

	s.log.Warn("pipe reader died", slog.String("error", cause.Error()))
	if f != nil {
		f.requested.Store(true)
		f.cancel()
		publishExit(s.exits, Exit{Session: f.session, Err: fmt.Errorf("%w: %w", ErrReaderUnavailable, cause)}, s.log)
	}
}

func (s *PipeSupervisor) scheduleRestartLocked() {
	if s.restart != nil {
		s.restart.Stop()
	}
	s.restart = time.AfterFunc(s.cfg.ReaderRestart, func() {
		if err := s.ensureReader(context.Background()); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			s.log.Error("pipe reader relaunch failed", slog.String("error", err.Error()))
			s.mu.Lock()
			if !s.closed {
				s.scheduleRestartLocked()
			}
			s.mu.Unlock()
		}
	})
}

// feeder streams one clip into the pipe.
type feeder struct {
	session Session
	pipe    *os.File
	loop    bool

	ctx       context.Context
	cancel    context.CancelFunc
	requested atomic.Bool
	done      chan struct{}
	err       error
}

func newFeeder(sess Session, pipe *os.File, loop bool) *feeder {
	ctx, cancel := context.WithCancel(context.Background())
	return &feeder{
		session: sess,
		pipe:    pipe,
		loop:    loop,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (f *feeder) finished() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *feeder) run(src *os.File) {
	defer close(f.done)
	defer src.Close()
	f.err = f.copy(src)
}

// copy writes src into the pipe until ctx is cancelled, the clip ends
// without looping, or a write fails. Cancellation is not an error.
func (f *feeder) copy(src *os.File) error {
	buf := make([]byte, feedChunk)
	written := 0
	for {
		if f.ctx.Err() != nil {
			return nil
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := f.pipe.Write(buf[:n]); werr != nil {
				if f.ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("write fifo: %w", werr)
			}
			written += n
		}
		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF):
			if !f.loop {
				return nil
			}
			if written == 0 {
				return errEmptyClip
			}
			written = 0
			if _, err := src.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind clip: %w", err)
			}
		default:
			return fmt.Errorf("read clip: %w", rerr)
		}
	}
}
