package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"stream-switcher/internal/platform/config"
	"stream-switcher/internal/platform/logger"
	"stream-switcher/internal/platform/metrics"
	"stream-switcher/internal/stream"
	"stream-switcher/internal/switcher"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	if err := run(log, port); err != nil {
		log.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(log *slog.Logger, port string) error {
	cfg, err := switcherConfig()
	if err != nil {
		return err
	}
	clips, err := stream.LoadStateMap(config.GetEnv("STATE_MAP_FILE", ""))
	if err != nil {
		return err
	}
	for _, clip := range clips.Clips() {
		if _, err := os.Stat(filepath.Join(cfg.ClipDir, clip)); err != nil {
			log.Warn("clip for a stream state is missing", slog.String("clip", clip), slog.String("error", err.Error()))
		}
	}

	met := metrics.New()
	history := stream.NewHistory(config.GetEnvInt("HISTORY_SIZE", stream.DefaultHistorySize))

	sup, err := switcher.NewSupervisor(cfg, switcher.ExecLauncher{Log: log}, log)
	if err != nil {
		return err
	}
	ctl, err := switcher.New(cfg, sup,
		switcher.WithLogger(log),
		switcher.WithMetrics(met),
		switcher.WithObserver(history.Record),
	)
	if err != nil {
		return err
	}

	svc := stream.NewService(ctl, clips, history, log)
	h := stream.NewHandler(svc, log)
	gw := stream.NewGateway(svc, log, stream.GatewayOptions{
		EventsPerSecond: float64(config.GetEnvInt("WS_EVENTS_PER_SECOND", 10)),
		StartOnConnect:  config.GetEnvBool("START_ON_CONNECT", true),
		OriginPatterns:  splitList(config.GetEnv("WS_ORIGINS", "")),
	})

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			st := ctl.Status()
			met.SetQueueLength(st.QueueLength)
			met.SetSwitching(st.IsSwitching)
		}).ServeHTTP(w, r)
	})
	r.Get("/healthz", h.Health)
	r.Route("/stream", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/idle", h.SwitchState(stream.StateIdle))
		r.Post("/speaking", h.SwitchState(stream.StateSpeaking))
		r.Post("/processing", h.SwitchState(stream.StateProcessing))
		r.Post("/response", h.Response)
		r.Post("/stop", h.Stop)
		r.Post("/switch", h.Switch)
		r.Get("/status", h.Status)
		r.Get("/history", h.History)
		r.Get("/events", gw.ServeHTTP)
	})

	srv := &http.Server{Addr: ":" + port, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ctl.Run(gctx)
	})
	g.Go(func() error {
		log.Info("server starting",
			slog.String("port", port),
			slog.String("strategy", string(cfg.Strategy)),
			slog.String("clip_dir", cfg.ClipDir),
			slog.String("log_level", config.GetEnv("LOG_LEVEL", "info")),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		httpErr := srv.Shutdown(sctx)
		return errors.Join(httpErr, ctl.Shutdown(sctx))
	})

	return g.Wait()
}

// switcherConfig builds the controller configuration from the environment.
func switcherConfig() (switcher.Config, error) {
	cfg := switcher.DefaultConfig()

	strategy, err := switcher.ParseStrategy(config.GetEnv("SWITCH_STRATEGY", string(cfg.Strategy)))
	if err != nil {
		return cfg, err
	}
	cfg.Strategy = strategy
	cfg.ClipDir = config.GetEnv("CLIP_DIR", cfg.ClipDir)
	cfg.FIFOPath = config.GetEnv("FIFO_PATH", filepath.Join(cfg.ClipDir, "stream_fifo"))
	cfg.SafetyInterval = config.GetEnvMillis("SAFETY_INTERVAL_MS", cfg.SafetyInterval)
	cfg.GracefulTimeout = config.GetEnvMillis("GRACEFUL_TIMEOUT_MS", cfg.GracefulTimeout)
	cfg.SpawnConfirm = config.GetEnvMillis("SPAWN_CONFIRM_MS", cfg.SpawnConfirm)
	cfg.RetryLimit = config.GetEnvInt("RETRY_LIMIT", cfg.RetryLimit)
	cfg.RetryBackoff = config.GetEnvMillis("RETRY_BACKOFF_MS", cfg.RetryBackoff)
	cfg.ErrorBudget = config.GetEnvInt("ERROR_BUDGET", cfg.ErrorBudget)
	cfg.ReaderRestart = config.GetEnvMillis("READER_RESTART_MS", cfg.ReaderRestart)

	cfg.Encoder.Binary = config.GetEnv("FFMPEG_PATH", cfg.Encoder.Binary)
	cfg.Encoder.OutputURL = config.GetEnv("OUTPUT_URL", "")
	cfg.Encoder.Loop = config.GetEnvBool("LOOP_CLIPS", cfg.Encoder.Loop)

	return cfg, cfg.Validate()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
