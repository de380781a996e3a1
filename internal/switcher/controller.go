package switcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"stream-switcher/internal/platform/metrics"
)

// State is the controller-wide switch state.
type State int

const (
	// StateIdle means no switch is in flight. A session may still be live.
	StateIdle State = iota
	// StateSwitching means the run loop is executing the protocol for one
	// dequeued target.
	StateSwitching
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSwitching:
		return "switching"
	default:
		return "unknown"
	}
}

// Status is a read-only snapshot of the controller.
type Status struct {
	CurrentTarget string    `json:"currentTarget"`
	QueueLength   int       `json:"queueLength"`
	IsSwitching   bool      `json:"isSwitching"`
	InFlight      string    `json:"inFlight,omitempty"`
	Pending       []string  `json:"pending"`
	SessionID     string    `json:"sessionId,omitempty"`
	PID           int       `json:"pid,omitempty"`
	StartedAt     time.Time `json:"startedAt,omitzero"`
	Strategy      Strategy  `json:"strategy"`
}

// Result describes one finished execution of the switch protocol.
type Result struct {
	Target   string
	Outcome  string
	Attempts int
	Duration time.Duration
	Finished time.Time
	Err      error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMetrics records controller activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithResolver replaces the default DirResolver over cfg.ClipDir.
func WithResolver(r Resolver) Option {
	return func(c *Controller) { c.resolver = r }
}

// WithObserver registers fn to receive every protocol Result. fn runs on the
// run loop and must return quickly.
func WithObserver(fn func(Result)) Option {
	return func(c *Controller) { c.observer = fn }
}

// Controller serializes switch requests and drives a Supervisor. The queue,
// state and in-flight target are only transitioned by the Run goroutine;
// RequestSwitch only appends to the queue and wakes it.
type Controller struct {
	cfg      Config
	sup      Supervisor
	resolver Resolver
	log      *slog.Logger
	metrics  *metrics.Metrics
	observer func(Result)

	wake     chan struct{}
	stopReqs chan chan struct{}
	stopped  chan struct{}

	mu        sync.Mutex
	queue     Queue
	state     State
	inflight  string
	current   string
	sessionID string
	running   bool
	closed    bool
	cancel    context.CancelFunc
}

// New returns a Controller for cfg driving sup. Call Run to start draining.
func New(cfg Config, sup Supervisor, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("switcher: invalid config: %w", err)
	}
	if sup == nil {
		return nil, errors.New("switcher: supervisor is required")
	}
	c := &Controller{
		cfg:      cfg,
		sup:      sup,
		resolver: DirResolver{Root: cfg.ClipDir},
		log:      slog.Default(),
		wake:     make(chan struct{}, 1),
		stopReqs: make(chan chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(slog.String("component", "switcher"))
	return c, nil
}

// RequestSwitch queues id and returns immediately. The outcome is visible
// through Status, the observer and the logs. A missing clip is rejected
// synchronously with ErrUnknownTarget.
func (c *Controller) RequestSwitch(id string) error {
	id = strings.TrimSpace(id)
	if _, err := c.resolver.Resolve(id); err != nil {
		c.log.Warn("switch request rejected", slog.String("target", id), slog.String("error", err.Error()))
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.queue.Len() == 0 && c.servingLocked(id) {
		c.mu.Unlock()
		c.log.Debug("switch request already being served", slog.String("target", id))
		return nil
	}
	changed := c.queue.Enqueue(id)
	n := c.queue.Len()
	c.mu.Unlock()

	c.metrics.SetQueueLength(n)
	if !changed {
		c.log.Debug("switch request collapsed into queue tail", slog.String("target", id))
		return nil
	}
	c.metrics.IncSwitchRequests()
	c.log.Info("switch queued", slog.String("target", id), slog.Int("queue_length", n))
	c.signal()
	return nil
}

// servingLocked reports whether id is in flight or is the live session while
// nothing is in flight.
func (c *Controller) servingLocked(id string) bool {
	if c.state == StateSwitching {
		return c.inflight == id
	}
	sess, ok := c.sup.Active()
	return ok && sess.Target == id
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run opens the supervisor and drains the queue until ctx is cancelled or
// Shutdown is called. It returns nil on cancellation.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.running {
		c.mu.Unlock()
		return errors.New("switcher: controller already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()
	defer close(c.stopped)
	defer cancel()

	if err := c.sup.Open(ctx); err != nil {
		return fmt.Errorf("switcher: open supervisor: %w", err)
	}
	c.log.Info("switch controller running", slog.String("strategy", string(c.cfg.Strategy)))

	c.signal()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.wake:
			c.drain(ctx)
		case ex := <-c.sup.Exits():
			c.recover(ex)
		case ack := <-c.stopReqs:
			c.endSession()
			close(ack)
		}
	}
}

// drain executes queued targets one at a time until the queue is empty.
func (c *Controller) drain(ctx context.Context) {
	for {
		c.mu.Lock()
		if ctx.Err() != nil || c.closed {
			c.mu.Unlock()
			return
		}
		id, ok := c.queue.Dequeue()
		if !ok {
			c.mu.Unlock()
			return
		}
		c.state = StateSwitching
		c.inflight = id
		n := c.queue.Len()
		c.mu.Unlock()
		c.metrics.SetQueueLength(n)
		c.metrics.SetSwitching(true)

		res := c.execute(ctx, id)

		c.mu.Lock()
		c.state = StateIdle
		c.inflight = ""
		c.mu.Unlock()
		c.metrics.SetSwitching(false)
		c.report(res)
	}
}

// execute runs the switch protocol for id. Errors are returned in the
// Result, never propagated.
func (c *Controller) execute(ctx context.Context, id string) Result {
	start := time.Now()
	res := Result{Target: id}
	finish := func(outcome string, err error) Result {
		res.Outcome = outcome
		res.Err = err
		res.Finished = time.Now()
		res.Duration = res.Finished.Sub(start)
		return res
	}

	if sess, ok := c.sup.Active(); ok && sess.Target == id {
		return finish(metrics.OutcomeNoop, nil)
	}

	path, err := c.resolver.Resolve(id)
	if err != nil {
		return finish(metrics.OutcomeInvalid, err)
	}

	// From here on the old session is gone whatever the outcome.
	c.endSession()

	if err := sleep(ctx, c.cfg.SafetyInterval); err != nil {
		return finish(metrics.OutcomeAborted, err)
	}

	sess, attempts, err := c.startWithRetry(ctx, id, path)
	res.Attempts = attempts
	if err != nil {
		if ctx.Err() != nil {
			return finish(metrics.OutcomeAborted, err)
		}
		return finish(metrics.OutcomeExhausted, err)
	}

	c.mu.Lock()
	c.current = id
	c.sessionID = sess.ID
	c.mu.Unlock()
	return finish(metrics.OutcomeSwitched, nil)
}

// startWithRetry makes up to RetryLimit+1 start attempts, waiting
// RetryBackoff×n before attempt n+1.
func (c *Controller) startWithRetry(ctx context.Context, id, path string) (Session, int, error) {
	maxAttempts := c.cfg.RetryLimit + 1
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := c.cfg.RetryBackoff * time.Duration(attempt-1)
			c.log.Warn("retrying encoder start",
				slog.String("target", id),
				slog.Int("attempt", attempt),
				slog.Int("backoff_ms", int(backoff.Milliseconds())),
				slog.String("error", lastErr.Error()))
			if err := sleep(ctx, backoff); err != nil {
				return Session{}, attempt - 1, err
			}
			c.sup.Terminate()
		}

		sess, err := c.sup.Start(ctx, id, path)
		if err == nil {
			return sess, attempt, nil
		}
		if ctx.Err() != nil {
			return Session{}, attempt, ctx.Err()
		}
		lastErr = err
		c.metrics.IncStartupFailures()
	}
	return Session{}, maxAttempts, fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, id, maxAttempts, lastErr)
}

func (c *Controller) report(res Result) {
	c.metrics.ObserveSwitch(res.Outcome, res.Duration)
	attrs := []any{
		slog.String("target", res.Target),
		slog.String("outcome", res.Outcome),
		slog.Int("attempts", res.Attempts),
		slog.Int("duration_ms", int(res.Duration.Milliseconds())),
	}
	switch {
	case res.Err != nil && res.Outcome == metrics.OutcomeAborted:
		c.log.Info("switch aborted", append(attrs, slog.String("error", res.Err.Error()))...)
	case res.Err != nil:
		c.log.Error("switch failed", append(attrs, slog.String("error", res.Err.Error()))...)
	case res.Outcome == metrics.OutcomeNoop:
		c.log.Debug("switch skipped, target already live", attrs...)
	default:
		c.log.Info("switch complete", attrs...)
	}
	if c.observer != nil {
		c.observer(res)
	}
}

// recover handles an unexpected exit of a confirmed session. The last target
// is re-queued only when nothing else is pending; queued work reflects newer
// intent and takes over otherwise.
func (c *Controller) recover(ex Exit) {
	c.mu.Lock()
	if c.closed || ex.Session.ID == "" || ex.Session.ID != c.sessionID {
		c.mu.Unlock()
		c.log.Debug("ignoring exit of stale session",
			slog.String("session_id", ex.Session.ID),
			slog.String("target", ex.Session.Target))
		return
	}
	c.current = ""
	c.sessionID = ""
	c.metrics.IncCrashes()
	attrs := []any{
		slog.String("target", ex.Session.Target),
		slog.String("session_id", ex.Session.ID),
		slog.Any("error", ex.Err),
	}
	if c.queue.Len() > 0 {
		c.mu.Unlock()
		c.log.Warn("session crashed; queued target takes over", attrs...)
		return
	}
	c.queue.Enqueue(ex.Session.Target)
	c.mu.Unlock()

	c.metrics.IncRecoveries()
	c.metrics.SetQueueLength(1)
	c.log.Warn("session crashed; resuming last target", attrs...)
	c.signal()
}

// Stop clears the queue and ends the live session without closing the
// controller. An in-flight switch completes first.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	dropped := c.queue.Clear()
	running := c.running
	c.mu.Unlock()
	c.metrics.SetQueueLength(0)
	c.log.Info("stopping stream", slog.Int("dropped", dropped))

	if !running {
		c.endSession()
		return nil
	}
	ack := make(chan struct{})
	select {
	case c.stopReqs <- ack:
	case <-c.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) endSession() {
	c.sup.Terminate()
	c.mu.Lock()
	c.current = ""
	c.sessionID = ""
	c.mu.Unlock()
}

// Shutdown clears the queue, stops the run loop, terminates the session and
// closes the supervisor. An in-flight switch is aborted at its next wait.
// If ctx expires before the run loop returns, Shutdown returns ctx.Err() and
// the session is ended once the run loop has exited. Shutdown is idempotent.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	dropped := c.queue.Clear()
	running, cancel := c.running, c.cancel
	c.mu.Unlock()
	c.metrics.SetQueueLength(0)
	c.log.Info("shutting down switch controller", slog.Int("dropped", dropped))

	if running {
		cancel()
		select {
		case <-c.stopped:
		case <-ctx.Done():
			c.log.Warn("run loop still busy at shutdown deadline")
			go func() {
				<-c.stopped
				_ = c.closeSupervisor(context.Background())
			}()
			return fmt.Errorf("switcher: shutdown: %w", ctx.Err())
		}
	}

	return c.closeSupervisor(ctx)
}

func (c *Controller) closeSupervisor(ctx context.Context) error {
	c.endSession()
	if err := c.sup.Close(ctx); err != nil {
		c.log.Warn("close supervisor failed", slog.String("error", err.Error()))
		return fmt.Errorf("switcher: close supervisor: %w", err)
	}
	return nil
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		CurrentTarget: c.current,
		QueueLength:   c.queue.Len(),
		IsSwitching:   c.state == StateSwitching,
		InFlight:      c.inflight,
		Pending:       c.queue.Snapshot(),
		Strategy:      c.cfg.Strategy,
	}
	c.mu.Unlock()
	if st.Pending == nil {
		st.Pending = []string{}
	}
	if sess, ok := c.sup.Active(); ok {
		st.SessionID = sess.ID
		st.PID = sess.PID
		st.StartedAt = sess.StartedAt
	}
	return st
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
