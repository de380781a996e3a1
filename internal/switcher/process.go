package switcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// killGrace bounds the wait for exit after a force-kill.
const killGrace = 2 * time.Second

// tailLines is how many diagnostic lines are kept for error messages.
const tailLines = 5

// Process is one running encoder.
type Process interface {
	Pid() int
	// Interrupt asks the process to stop cooperatively.
	Interrupt() error
	// Kill stops the process immediately.
	Kill() error
	// Diagnostics yields the process's diagnostic output line by line and is
	// closed when that output ends.
	Diagnostics() <-chan string
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err returns the exit error. Valid after Done is closed.
	Err() error
}

// Launcher starts encoder processes.
type Launcher interface {
	Launch(ctx context.Context, name string, args []string) (Process, error)
}

type lifecycle int32

const (
	lifecycleStarting lifecycle = iota
	lifecycleConfirmed
	lifecycleTerminating
	lifecycleExited
)

func (l lifecycle) String() string {
	switch l {
	case lifecycleStarting:
		return "starting"
	case lifecycleConfirmed:
		return "confirmed"
	case lifecycleTerminating:
		return "terminating"
	case lifecycleExited:
		return "exited"
	default:
		return "unknown"
	}
}

type instanceConfig struct {
	confirm     time.Duration
	graceful    time.Duration
	errorBudget int
	encoder     EncoderConfig
}

func newInstanceConfig(cfg Config) instanceConfig {
	return instanceConfig{
		confirm:     cfg.SpawnConfirm,
		graceful:    cfg.GracefulTimeout,
		errorBudget: cfg.ErrorBudget,
		encoder:     cfg.Encoder,
	}
}

// instance drives one Process through Starting → Confirmed → Terminating →
// Exited. All transitions happen on the run goroutine; other goroutines
// interact through stop, confirmed and exited.
type instance struct {
	session Session
	proc    Process
	cfg     instanceConfig
	log     *slog.Logger

	// onCrash is called from the run goroutine when a confirmed process
	// exits without being asked to. It must not block.
	onCrash func(in *instance, cause error)

	stop      chan struct{}
	stopOnce  sync.Once
	confirmed chan error
	exited    chan struct{}

	state atomic.Int32
	tail  []string
}

func newInstance(sess Session, proc Process, cfg instanceConfig, log *slog.Logger, onCrash func(*instance, error)) *instance {
	return &instance{
		session:   sess,
		proc:      proc,
		cfg:       cfg,
		log:       log.With(slog.String("session_id", sess.ID), slog.Int("pid", sess.PID)),
		onCrash:   onCrash,
		stop:      make(chan struct{}),
		confirmed: make(chan error, 1),
		exited:    make(chan struct{}),
	}
}

func (in *instance) start() {
	go in.run()
}

func (in *instance) lifecycle() lifecycle {
	return lifecycle(in.state.Load())
}

func (in *instance) setLifecycle(l lifecycle) {
	in.state.Store(int32(l))
}

// live reports whether the process is confirmed and not being torn down.
func (in *instance) live() bool {
	return in.lifecycle() == lifecycleConfirmed
}

func (in *instance) requestStop() {
	in.stopOnce.Do(func() { close(in.stop) })
}

// awaitConfirm blocks until the instance is confirmed, fails, or ctx ends.
// On any failure the process is gone (or abandoned after killGrace) when it
// returns.
func (in *instance) awaitConfirm(ctx context.Context) error {
	select {
	case err := <-in.confirmed:
		if err != nil {
			in.awaitExit()
			return err
		}
		return nil
	case <-ctx.Done():
		in.requestStop()
		in.awaitExit()
		return ctx.Err()
	}
}

// terminate stops the process and waits for it, escalating to a kill after
// the graceful timeout. It never waits longer than graceful+killGrace.
func (in *instance) terminate() {
	in.requestStop()
	in.awaitExit()
}

func (in *instance) awaitExit() {
	t := time.NewTimer(in.cfg.graceful + killGrace)
	defer t.Stop()
	select {
	case <-in.exited:
	case <-t.C:
		in.log.Error("process did not exit after kill; abandoning it",
			slog.String("target", in.session.Target))
	}
}

func (in *instance) run() {
	defer close(in.exited)

	confirmT := time.NewTimer(in.cfg.confirm)
	defer confirmT.Stop()
	confirmC := confirmT.C

	var killT *time.Timer
	var killC <-chan time.Time
	defer func() {
		if killT != nil {
			killT.Stop()
		}
	}()
	armKill := func() {
		if killT == nil {
			killT = time.NewTimer(in.cfg.graceful)
			killC = killT.C
		}
	}

	lines := in.proc.Diagnostics()
	stop := in.stop
	errCount := 0
	var degraded error

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			in.remember(line)
			switch in.lifecycle() {
			case lifecycleStarting:
				if in.cfg.encoder.isFatal(line) {
					in.log.Warn("encoder reported a fatal error during startup", slog.String("line", line))
					in.confirm(fmt.Errorf("%w: %s", ErrStartupFailed, line))
					in.setLifecycle(lifecycleTerminating)
					in.kill()
					stop = nil
				}
			case lifecycleConfirmed:
				if !in.cfg.encoder.isError(line) {
					in.log.Debug("encoder output", slog.String("line", line))
					continue
				}
				errCount++
				in.log.Warn("encoder runtime error", slog.Int("count", errCount), slog.String("line", line))
				if in.cfg.errorBudget > 0 && errCount > in.cfg.errorBudget && degraded == nil {
					degraded = fmt.Errorf("runtime error budget exceeded (%d errors)", errCount)
					in.log.Error("killing degraded encoder", slog.Int("error_budget", in.cfg.errorBudget))
					in.kill()
				}
			}

		case <-in.proc.Done():
			exitErr := in.proc.Err()
			prev := in.lifecycle()
			in.setLifecycle(lifecycleExited)
			switch prev {
			case lifecycleStarting:
				in.confirm(fmt.Errorf("%w: exited before confirmation: %s", ErrStartupFailed, in.describe(exitErr)))
			case lifecycleConfirmed:
				cause := degraded
				if cause == nil {
					cause = fmt.Errorf("unexpected exit: %s", in.describe(exitErr))
				}
				in.log.Warn("encoder exited unexpectedly",
					slog.String("target", in.session.Target),
					slog.String("error", cause.Error()))
				if in.onCrash != nil {
					in.onCrash(in, cause)
				}
			default:
				in.log.Debug("encoder exited", slog.Any("exit", exitErr))
			}
			return

		case <-confirmC:
			confirmC = nil
			if in.lifecycle() == lifecycleStarting {
				in.setLifecycle(lifecycleConfirmed)
				in.confirm(nil)
				in.log.Info("encoder confirmed", slog.String("target", in.session.Target))
			}

		case <-stop:
			stop = nil
			if in.lifecycle() == lifecycleStarting {
				in.confirm(fmt.Errorf("%w: stopped before confirmation", ErrStartupFailed))
			}
			in.setLifecycle(lifecycleTerminating)
			if err := in.proc.Interrupt(); err != nil {
				in.log.Warn("graceful stop failed, killing", slog.String("error", err.Error()))
				in.kill()
			}
			armKill()

		case <-killC:
			killC = nil
			in.log.Warn("encoder ignored graceful stop, force killing",
				slog.Duration("graceful_timeout", in.cfg.graceful))
			in.kill()
		}
	}
}

// confirm publishes the startup outcome. Only the first call has an effect.
func (in *instance) confirm(err error) {
	select {
	case in.confirmed <- err:
	default:
	}
}

func (in *instance) kill() {
	if err := in.proc.Kill(); err != nil {
		in.log.Warn("kill failed", slog.String("error", err.Error()))
	}
}

func (in *instance) remember(line string) {
	in.tail = append(in.tail, line)
	if len(in.tail) > tailLines {
		in.tail = in.tail[len(in.tail)-tailLines:]
	}
}

func (in *instance) describe(exitErr error) string {
	msg := "exit status 0"
	if exitErr != nil {
		msg = exitErr.Error()
	}
	if len(in.tail) > 0 {
		msg += " (" + strings.Join(in.tail, " | ") + ")"
	}
	return msg
}
