package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Client events accepted by the gateway.
const (
	EventUserJoined          = "userJoined"
	EventUserSpeaking        = "userSpeaking"
	EventUserStoppedSpeaking = "userStoppedSpeaking"
	EventRequestProcessing   = "requestProcessing"
	EventAIResponse          = "aiResponse"
)

// writeTimeout bounds a single acknowledgement write.
const writeTimeout = 5 * time.Second

// Event is a client message: {"event": "userSpeaking"} or
// {"event": "aiResponse", "text": "..."}.
type Event struct {
	Event string `json:"event"`
	Text  string `json:"text,omitempty"`
}

// Ack answers every Event.
type Ack struct {
	Event  string `json:"event"`
	OK     bool   `json:"ok"`
	Target string `json:"target,omitempty"`
	Error  string `json:"error,omitempty"`
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	// EventsPerSecond limits each connection. Zero or less disables the limit.
	EventsPerSecond float64
	// StartOnConnect queues the welcome clip whenever a client connects.
	StartOnConnect bool
	// OriginPatterns are the allowed browser origins. Empty allows all.
	OriginPatterns []string
}

// Gateway is the websocket endpoint presenter clients drive the stream with.
type Gateway struct {
	svc  *Service
	log  *slog.Logger
	opts GatewayOptions
}

// NewGateway returns a Gateway dispatching events to svc.
func NewGateway(svc *Service, log *slog.Logger, opts GatewayOptions) *Gateway {
	if len(opts.OriginPatterns) == 0 {
		opts.OriginPatterns = []string{"*"}
	}
	return &Gateway{svc: svc, log: log.With(slog.String("component", "gateway")), opts: opts}
}

// ServeHTTP handles GET /stream/events.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.opts.OriginPatterns,
	})
	if err != nil {
		g.log.Info("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	log := g.log.With(slog.String("conn_id", uuid.NewString()))
	log.Info("client connected", slog.String("remote_addr", r.RemoteAddr))

	if g.opts.StartOnConnect {
		if _, err := g.svc.Start(); err != nil {
			log.Warn("start on connect failed", slog.String("error", err.Error()))
		}
	}

	limiter := newEventLimiter(g.opts.EventsPerSecond)
	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Info("client disconnected")
			default:
				log.Info("connection closed", slog.String("error", err.Error()))
			}
			return
		}

		var ack Ack
		switch {
		case typ != websocket.MessageText:
			ack = Ack{Error: "expected a text message"}
		case !limiter.Allow():
			ack = Ack{Error: "rate limited"}
		default:
			var ev Event
			if err := json.Unmarshal(data, &ev); err != nil {
				ack = Ack{Error: "invalid event: " + err.Error()}
				break
			}
			ack = g.dispatch(log, ev)
		}

		if err := g.write(ctx, conn, ack); err != nil {
			log.Info("write ack failed", slog.String("error", err.Error()))
			return
		}
	}
}

func (g *Gateway) dispatch(log *slog.Logger, ev Event) Ack {
	ack := Ack{Event: ev.Event}
	var (
		clip string
		err  error
	)
	switch ev.Event {
	case EventUserJoined:
		clip, err = g.svc.Start()
	case EventUserSpeaking:
		clip, err = g.svc.Switch(StateSpeaking)
	case EventUserStoppedSpeaking:
		clip, err = g.svc.Switch(StateIdle)
	case EventRequestProcessing:
		clip, err = g.svc.Switch(StateProcessing)
	case EventAIResponse:
		clip, err = g.svc.Respond(ev.Text)
	default:
		err = fmt.Errorf("unknown event %q", ev.Event)
	}
	if err != nil {
		log.Info("event rejected", slog.String("event", ev.Event), slog.String("error", err.Error()))
		ack.Error = err.Error()
		return ack
	}
	log.Debug("event handled", slog.String("event", ev.Event), slog.String("target", clip))
	ack.OK = true
	ack.Target = clip
	return ack
}

func (g *Gateway) write(ctx context.Context, conn *websocket.Conn, ack Ack) error {
	data, err := json.Marshal(ack)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func newEventLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
}
