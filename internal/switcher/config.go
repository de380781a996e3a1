// Package switcher keeps a live outbound stream fed with one of several
// interchangeable clips and switches between them on request.
//
// A [Controller] serializes switch requests through a deduplicating [Queue]
// and drives a [Supervisor], which owns the single encoder process (or the
// feeder of a persistent named pipe). Between tearing one session down and
// starting the next the controller waits a safety interval so the ingest
// endpoint can release the previous publisher.
package switcher

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Strategy selects the supervisor backend.
type Strategy string

const (
	// StrategyProcess restarts the encoder for every clip.
	StrategyProcess Strategy = "process"
	// StrategyPipe keeps one encoder reading a named pipe and swaps the
	// clip written into it.
	StrategyPipe Strategy = "pipe"
)

// ParseStrategy maps a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyProcess, "":
		return StrategyProcess, nil
	case StrategyPipe, "fifo":
		return StrategyPipe, nil
	}
	return "", fmt.Errorf("unknown switch strategy %q", s)
}

// Defaults used by DefaultConfig.
const (
	DefaultSafetyInterval  = 2500 * time.Millisecond
	DefaultGracefulTimeout = 3 * time.Second
	DefaultSpawnConfirm    = 700 * time.Millisecond
	DefaultRetryLimit      = 3
	DefaultRetryBackoff    = 500 * time.Millisecond
	DefaultErrorBudget     = 10
	DefaultReaderRestart   = 500 * time.Millisecond
)

// Config is resolved once per controller and never mutated afterwards.
type Config struct {
	// ClipDir holds the source clips, addressed by file name.
	ClipDir string

	// Strategy picks the supervisor backend.
	Strategy Strategy

	// SafetyInterval is waited between terminating one session and starting
	// the next. The ingest endpoint refuses a new publisher on the same key
	// until it has released the old connection.
	SafetyInterval time.Duration

	// GracefulTimeout bounds the wait for a cooperative exit before the
	// process is force-killed.
	GracefulTimeout time.Duration

	// SpawnConfirm is how long a new session must survive before it counts
	// as started.
	SpawnConfirm time.Duration

	// RetryLimit is the number of additional start attempts after the first.
	RetryLimit int

	// RetryBackoff is multiplied by the attempt number between attempts.
	RetryBackoff time.Duration

	// ErrorBudget is the number of runtime error diagnostics tolerated from a
	// confirmed session before it is killed and recovered. Zero disables it.
	ErrorBudget int

	// FIFOPath is the named pipe used by StrategyPipe.
	FIFOPath string

	// ReaderRestart is the delay before relaunching a dead pipe reader.
	ReaderRestart time.Duration

	Encoder EncoderConfig
}

// DefaultConfig returns a Config with every tunable at its default.
func DefaultConfig() Config {
	return Config{
		ClipDir:         "videos",
		Strategy:        StrategyProcess,
		SafetyInterval:  DefaultSafetyInterval,
		GracefulTimeout: DefaultGracefulTimeout,
		SpawnConfirm:    DefaultSpawnConfirm,
		RetryLimit:      DefaultRetryLimit,
		RetryBackoff:    DefaultRetryBackoff,
		ErrorBudget:     DefaultErrorBudget,
		FIFOPath:        "videos/stream_fifo",
		ReaderRestart:   DefaultReaderRestart,
		Encoder:         DefaultEncoderConfig(),
	}
}

// Validate checks that c is coherent. It returns a joined error listing all
// problems found.
func (c Config) Validate() error {
	var errs []error
	if c.Strategy != StrategyProcess && c.Strategy != StrategyPipe {
		errs = append(errs, fmt.Errorf("strategy %q is invalid; valid values: process, pipe", c.Strategy))
	}
	if strings.TrimSpace(c.ClipDir) == "" {
		errs = append(errs, errors.New("clip dir is required"))
	}
	if c.SafetyInterval < 0 {
		errs = append(errs, fmt.Errorf("safety interval %v must not be negative", c.SafetyInterval))
	}
	if c.GracefulTimeout <= 0 {
		errs = append(errs, fmt.Errorf("graceful timeout %v must be positive", c.GracefulTimeout))
	}
	if c.SpawnConfirm <= 0 {
		errs = append(errs, fmt.Errorf("spawn confirm window %v must be positive", c.SpawnConfirm))
	}
	if c.RetryLimit < 0 {
		errs = append(errs, fmt.Errorf("retry limit %d must not be negative", c.RetryLimit))
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("retry backoff %v must not be negative", c.RetryBackoff))
	}
	if c.ErrorBudget < 0 {
		errs = append(errs, fmt.Errorf("error budget %d must not be negative", c.ErrorBudget))
	}
	if c.Strategy == StrategyPipe && strings.TrimSpace(c.FIFOPath) == "" {
		errs = append(errs, errors.New("fifo path is required for the pipe strategy"))
	}
	if err := c.Encoder.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
