package switcher

import "errors"

var (
	// ErrUnknownTarget is returned when a clip identifier does not resolve to
	// a readable file in the clip directory.
	ErrUnknownTarget = errors.New("unknown switch target")

	// ErrStartupFailed marks a single encoder start that did not confirm.
	ErrStartupFailed = errors.New("encoder startup failed")

	// ErrRetriesExhausted is returned when every startup attempt for a target
	// failed.
	ErrRetriesExhausted = errors.New("startup retries exhausted")

	// ErrReaderUnavailable is returned by the pipe backend when the persistent
	// reader encoder is not running.
	ErrReaderUnavailable = errors.New("pipe reader not running")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("controller closed")
)
