package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"stream-switcher/internal/switcher"
)

// Switcher is the part of switcher.Controller the Service drives.
type Switcher interface {
	RequestSwitch(id string) error
	Stop(ctx context.Context) error
	Status() switcher.Status
}

// Service turns presenter states into switch requests.
type Service struct {
	sw      Switcher
	clips   StateMap
	history *History
	log     *slog.Logger

	mu    sync.RWMutex
	state State
}

// NewService returns a Service. If clips is nil, DefaultStateMap is used; if
// history is nil, a History of DefaultHistorySize is created.
func NewService(sw Switcher, clips StateMap, history *History, log *slog.Logger) *Service {
	if clips == nil {
		clips = DefaultStateMap()
	}
	if history == nil {
		history = NewHistory(DefaultHistorySize)
	}
	return &Service{sw: sw, clips: clips, history: history, log: log}
}

// Start begins streaming with the welcome clip.
func (s *Service) Start() (string, error) {
	return s.Switch(StateWelcome)
}

// Switch queues the clip mapped to st and returns its name.
func (s *Service) Switch(st State) (string, error) {
	clip, ok := s.clips.Clip(st)
	if !ok {
		return "", fmt.Errorf("%w: %q has no clip", ErrUnknownState, st)
	}
	if err := s.sw.RequestSwitch(clip); err != nil {
		return "", fmt.Errorf("switch to %s: %w", st, err)
	}

	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()

	s.log.Info("stream state changed",
		slog.String("from", string(prev)),
		slog.String("to", string(st)),
		slog.String("target", clip))
	return clip, nil
}

// Respond plays the response clip for an answer text. The text is only
// logged; the clip does not depend on it.
func (s *Service) Respond(text string) (string, error) {
	s.log.Info("response requested", slog.Int("text_length", len(text)))
	s.log.Debug("response text", slog.String("text", text))
	return s.Switch(StateResponse)
}

// SwitchClip queues a clip by file name without changing the state.
func (s *Service) SwitchClip(id string) error {
	if err := s.sw.RequestSwitch(id); err != nil {
		return fmt.Errorf("switch to clip %q: %w", id, err)
	}
	return nil
}

// Stop ends streaming. A later Start resumes it.
func (s *Service) Stop(ctx context.Context) error {
	if err := s.sw.Stop(ctx); err != nil {
		return fmt.Errorf("stop stream: %w", err)
	}
	s.mu.Lock()
	s.state = ""
	s.mu.Unlock()
	s.log.Info("stream stopped")
	return nil
}

// Status returns the current state together with the switcher status.
func (s *Service) Status() StatusView {
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()
	return StatusView{State: st, Status: s.sw.Status()}
}

// History returns finished switches, newest first.
func (s *Service) History() []Entry {
	return s.history.List()
}
