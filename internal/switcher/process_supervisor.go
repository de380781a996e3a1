package switcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProcessSupervisor runs one encoder process per clip.
type ProcessSupervisor struct {
	cfg      Config
	launcher Launcher
	log      *slog.Logger
	exits    chan Exit

	mu     sync.Mutex
	active *instance
}

// NewProcessSupervisor returns a supervisor that launches cfg.Encoder for
// every session.
func NewProcessSupervisor(cfg Config, launcher Launcher, log *slog.Logger) *ProcessSupervisor {
	return &ProcessSupervisor{
		cfg:      cfg,
		launcher: launcher,
		log:      log.With(slog.String("component", "process_supervisor")),
		exits:    make(chan Exit, exitBuffer),
	}
}

// Open implements Supervisor. The process backend has nothing to prepare.
func (s *ProcessSupervisor) Open(ctx context.Context) error {
	return nil
}

// Start implements Supervisor.
func (s *ProcessSupervisor) Start(ctx context.Context, target, path string) (Session, error) {
	args := s.cfg.Encoder.ProcessArgs(path)
	proc, err := s.launcher.Launch(ctx, s.cfg.Encoder.Binary, args)
	if err != nil {
		return Session{}, fmt.Errorf("%w: launch: %w", ErrStartupFailed, err)
	}

	sess := Session{
		ID:        uuid.NewString(),
		Target:    target,
		Path:      path,
		PID:       proc.Pid(),
		StartedAt: time.Now(),
	}
	in := newInstance(sess, proc, newInstanceConfig(s.cfg), s.log, s.crashed)

	// Registered before it runs so a crash right after confirmation is
	// attributed to this session. Active only reports confirmed instances.
	s.mu.Lock()
	s.active = in
	s.mu.Unlock()

	s.log.Info("encoder launched", slog.String("target", target), slog.Int("pid", sess.PID), slog.String("session_id", sess.ID))
	in.start()

	if err := in.awaitConfirm(ctx); err != nil {
		s.mu.Lock()
		if s.active == in {
			s.active = nil
		}
		s.mu.Unlock()
		return Session{}, err
	}
	return sess, nil
}

// Terminate implements Supervisor.
func (s *ProcessSupervisor) Terminate() {
	s.mu.Lock()
	in := s.active
	s.active = nil
	s.mu.Unlock()
	if in == nil {
		return
	}

	start := time.Now()
	in.terminate()
	s.log.Info("encoder terminated",
		slog.String("target", in.session.Target),
		slog.String("session_id", in.session.ID),
		slog.Int("duration_ms", int(time.Since(start).Milliseconds())))
}

// Active implements Supervisor.
func (s *ProcessSupervisor) Active() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || !s.active.live() {
		return Session{}, false
	}
	return s.active.session, true
}

// Exits implements Supervisor.
func (s *ProcessSupervisor) Exits() <-chan Exit {
	return s.exits
}

// Close implements Supervisor.
func (s *ProcessSupervisor) Close(ctx context.Context) error {
	s.Terminate()
	return nil
}

func (s *ProcessSupervisor) crashed(in *instance, cause error) {
	s.mu.Lock()
	current := s.active == in
	if current {
		s.active = nil
	}
	s.mu.Unlock()
	if !current {
		return
	}
	publishExit(s.exits, Exit{Session: in.session, Err: cause}, s.log)
}
