package switcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// exitBuffer is the capacity of a supervisor's exit channel.
const exitBuffer = 8

// Session is one live run of the encoder bound to a target.
type Session struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Path      string    `json:"path"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

// Exit reports that a confirmed session ended without being terminated.
type Exit struct {
	Session Session
	Err     error
}

// Supervisor owns the encoder (or pipe feeder) and at most one Session.
// Only the Controller calls it, from a single goroutine, except Active and
// Exits which may be used concurrently.
type Supervisor interface {
	// Open prepares long-lived resources. Called once before any Start.
	Open(ctx context.Context) error
	// Start begins a session for target and returns once it is confirmed.
	Start(ctx context.Context, target, path string) (Session, error)
	// Terminate ends the active session, gracefully if possible. It always
	// returns within a bounded time and is a no-op without a session.
	Terminate()
	// Active returns the live session, if any.
	Active() (Session, bool)
	// Exits delivers unexpected session exits.
	Exits() <-chan Exit
	// Close terminates everything and releases Open's resources.
	Close(ctx context.Context) error
}

// NewSupervisor returns the backend selected by cfg.Strategy.
func NewSupervisor(cfg Config, launcher Launcher, log *slog.Logger) (Supervisor, error) {
	switch cfg.Strategy {
	case StrategyProcess:
		return NewProcessSupervisor(cfg, launcher, log), nil
	case StrategyPipe:
		return NewPipeSupervisor(cfg, launcher, log), nil
	}
	return nil, fmt.Errorf("unknown switch strategy %q", cfg.Strategy)
}

// publishExit hands an exit to the controller without blocking the caller.
func publishExit(exits chan Exit, ex Exit, log *slog.Logger) {
	select {
	case exits <- ex:
	default:
		log.Error("exit notification dropped; controller is not draining exits",
			slog.String("session_id", ex.Session.ID),
			slog.String("target", ex.Session.Target))
	}
}
