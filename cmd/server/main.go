package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"signgate/internal/config"
	"signgate/internal/docs"
	"signgate/internal/engine"
	"signgate/internal/notify"
	"signgate/internal/quizgen"
	"signgate/internal/schedule"
	"signgate/internal/store"
)

const serviceVersion = "1.0.0"

// app is the explicit application context: every handler closes over this
// instead of reaching for package-level state.
type app struct {
	cfg      config.Config
	store    *store.Store
	engine   *engine.Engine
	library  *docs.Library
	gen      *quizgen.Client
	notifier *notify.Notifier
	sched    *schedule.Daily
	logger   *slog.Logger
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("open store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	library, err := docs.NewLibrary()
	if err != nil {
		logger.Error("load document catalog", "error", err)
		os.Exit(1)
	}

	gen := quizgen.New(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	notifier := notify.New(cfg.EmailWebhookURL, logger)
	eng := engine.New(st, library, gen, notifier, cfg.AppURL, logger)

	loc, err := time.LoadLocation(cfg.CleanupTimezone)
	if err != nil {
		logger.Warn("invalid cleanup timezone, using UTC", "timezone", cfg.CleanupTimezone, "error", err)
		loc = time.UTC
	}
	sched := schedule.NewDaily(0, 0, loc, eng.RunScheduledCleanup, logger)
	sched.Start()

	a := &app{cfg: cfg, store: st, engine: eng, library: library, gen: gen, notifier: notifier, sched: sched, logger: logger}

	srv := &http.Server{
		Addr:    ":" + cfg.ServicePort,
		Handler: newRouter(a),
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	sched.Stop()
	eng.Close()
}
