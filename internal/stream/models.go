// Package stream maps presenter states to clips and exposes stream control
// over HTTP and a websocket event gateway.
package stream

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"stream-switcher/internal/switcher"
)

// State is the presenter state a clip stands for.
type State string

const (
	StateWelcome    State = "welcome"
	StateIdle       State = "idle"
	StateSpeaking   State = "speaking"
	StateProcessing State = "processing"
	StateResponse   State = "response"
)

// States lists every known state in a stable order.
var States = []State{StateWelcome, StateIdle, StateSpeaking, StateProcessing, StateResponse}

// ErrUnknownState is returned for a state name outside States.
var ErrUnknownState = errors.New("unknown stream state")

// ParseState maps a name such as "Speaking" to a State.
func ParseState(s string) (State, error) {
	st := State(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range States {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownState, s)
}

// SwitchRequest is the body of POST /stream/switch.
type SwitchRequest struct {
	Target string `json:"target"`
}

// ResponseRequest is the body of POST /stream/response.
type ResponseRequest struct {
	Text string `json:"text"`
}

// Reply is returned by the control endpoints. The switch it requests runs in
// the background; Reply only confirms it was queued.
type Reply struct {
	Message string `json:"message"`
	State   State  `json:"state,omitempty"`
	Target  string `json:"target,omitempty"`
}

// StatusView is the body of GET /stream/status.
type StatusView struct {
	State State `json:"state,omitempty"`
	switcher.Status
}

// Entry is one finished switch in the history.
type Entry struct {
	Target     string    `json:"target"`
	Outcome    string    `json:"outcome"`
	Attempts   int       `json:"attempts"`
	DurationMS int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finishedAt"`
}
