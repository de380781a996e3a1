package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"stream-switcher/internal/switcher"
)

// stopTimeout bounds POST /stream/stop. It covers an in-flight switch plus a
// graceful encoder exit.
const stopTimeout = 30 * time.Second

// Handler exposes the stream control endpoints using go-chi.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler returns a Handler that uses the given Service and Logger.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Start handles POST /stream/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	clip, err := h.svc.Start()
	if err != nil {
		h.fail(w, "start stream failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, Reply{Message: "streaming started", State: StateWelcome, Target: clip})
}

// SwitchState returns a handler for POST /stream/{state}.
func (h *Handler) SwitchState(st State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clip, err := h.svc.Switch(st)
		if err != nil {
			h.fail(w, "switch state failed", err)
			return
		}
		writeJSON(w, http.StatusAccepted, Reply{Message: "switching to " + string(st), State: st, Target: clip})
	}
}

// Response handles POST /stream/response.
// Body: { "text": "..." }. An empty body is allowed.
func (h *Handler) Response(w http.ResponseWriter, r *http.Request) {
	var req ResponseRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.log.Debug("invalid response body", slog.String("error", err.Error()))
			writeJSON(w, http.StatusBadRequest, Reply{Message: "invalid body"})
			return
		}
	}
	clip, err := h.svc.Respond(req.Text)
	if err != nil {
		h.fail(w, "response failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, Reply{Message: "playing response", State: StateResponse, Target: clip})
}

// Switch handles POST /stream/switch.
// Body: { "target": "idle.mp4" }.
func (h *Handler) Switch(w http.ResponseWriter, r *http.Request) {
	var req SwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Target == "" {
		writeJSON(w, http.StatusBadRequest, Reply{Message: "body must be {\"target\": \"<clip>\"}"})
		return
	}
	if err := h.svc.SwitchClip(req.Target); err != nil {
		h.fail(w, "switch clip failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, Reply{Message: "switch queued", Target: req.Target})
}

// Stop handles POST /stream/stop.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()
	if err := h.svc.Stop(ctx); err != nil {
		h.fail(w, "stop stream failed", err)
		return
	}
	writeJSON(w, http.StatusOK, Reply{Message: "streaming stopped"})
}

// Status handles GET /stream/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// History handles GET /stream/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.History())
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error(msg, slog.String("error", err.Error()))
	} else {
		h.log.Info(msg, slog.String("error", err.Error()))
	}
	writeJSON(w, code, Reply{Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, switcher.ErrUnknownTarget), errors.Is(err, ErrUnknownState):
		return http.StatusNotFound
	case errors.Is(err, switcher.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
