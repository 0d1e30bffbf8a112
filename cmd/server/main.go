package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/uptimewatch/uptimewatch/internal/config"
	"github.com/uptimewatch/uptimewatch/internal/database"
	"github.com/uptimewatch/uptimewatch/internal/handler"
	"github.com/uptimewatch/uptimewatch/internal/hub"
	"github.com/uptimewatch/uptimewatch/internal/metrics"
	"github.com/uptimewatch/uptimewatch/internal/middleware"
	"github.com/uptimewatch/uptimewatch/internal/repository"
	"github.com/uptimewatch/uptimewatch/internal/service/alert"
	"github.com/uptimewatch/uptimewatch/internal/service/analytics"
	"github.com/uptimewatch/uptimewatch/internal/service/events"
	"github.com/uptimewatch/uptimewatch/internal/service/notify"
	"github.com/uptimewatch/uptimewatch/internal/service/probe"
	"github.com/uptimewatch/uptimewatch/internal/service/retention"
	"github.com/uptimewatch/uptimewatch/internal/service/scheduler"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	var degraded atomic.Bool
	pool, err := database.Connect(ctx, cfg.DatabaseURL, cfg.DBConnectRetries, cfg.DBConnectDelay)
	switch {
	case errors.Is(err, database.ErrUnavailable):
		slog.Error("database unreachable, starting in degraded mode", "error", err)
		degraded.Store(true)
	case err != nil:
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Repositories
	monitorRepo := repository.NewMonitorRepository(pool)
	observationRepo := repository.NewObservationRepository(pool)
	alertRepo := repository.NewAlertRepository(pool)
	analyticsRepo := repository.NewAnalyticsRepository(pool)

	// Realtime
	wsHub := hub.New(cfg.CORSAllowOrigin)
	if err := metrics.RegisterHub(prometheus.DefaultRegisterer, wsHub); err != nil {
		slog.Error("failed to register hub metrics", "error", err)
	}
	publisher := events.NewPublisher(wsHub)

	// Services
	var notifier notify.Notifier = notify.Nop{}
	if cfg.EmailEnabled() {
		notifier = notify.NewEmailNotifier(cfg.BrevoAPIKey, cfg.EmailFrom)
	} else {
		slog.Info("alert e-mail disabled, BREVO_API_KEY or EMAIL_FROM not set")
	}

	evaluator := alert.NewEvaluator()
	executor := probe.New(observationRepo, cfg.ProbeTimeout)
	sched := scheduler.New(monitorRepo, executor, evaluator, alertRepo, observationRepo, publisher, notifier, scheduler.Config{
		Interval:               cfg.SweepInterval,
		PoolSize:               cfg.WorkerPoolSize,
		DefaultThreshold:       cfg.DefaultAlertThreshold,
		DefaultIntervalMinutes: cfg.DefaultIntervalMinutes,
	})
	aggregator := analytics.New(analyticsRepo, evaluator)
	sweeper := retention.New(observationRepo, cfg.Retention())

	// Background pipeline
	jobs := cron.New()
	if _, err := jobs.AddFunc(cfg.RetentionSchedule, sweeper.Run); err != nil {
		slog.Error("invalid retention schedule", "schedule", cfg.RetentionSchedule, "error", err)
		os.Exit(1)
	}

	schedCtx, cancelSched := context.WithCancel(ctx)
	defer cancelSched()
	var pipelineStarted atomic.Bool
	schedDone := make(chan struct{})

	startPipeline := func() error {
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		if err := sched.RestoreState(ctx); err != nil {
			slog.Error("failed to restore alert state", "error", err)
		}
		pipelineStarted.Store(true)
		go func() {
			defer close(schedDone)
			sched.Run(schedCtx)
		}()
		jobs.Start()
		return nil
	}

	if !degraded.Load() {
		if err := startPipeline(); err != nil {
			slog.Error("migration failed", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("pipeline not started, waiting for database")
		go func() {
			if err := database.AwaitReady(ctx, pool, cfg.DBConnectDelay); err != nil {
				return
			}
			if err := startPipeline(); err != nil {
				slog.Error("failed to leave degraded mode", "error", err)
				return
			}
			degraded.Store(false)
			slog.Info("database recovered, pipeline started")
		}()
	}

	// Handlers
	healthHandler := handler.NewHealthHandler(degraded.Load)
	analyticsHandler := handler.NewAnalyticsHandler(aggregator)
	monHandler := handler.NewMonitorHandler(monitorRepo, observationRepo, alertRepo, aggregator, sched, evaluator)
	pipelineHandler := handler.NewPipelineHandler(sched)
	wsHandler := handler.NewWSHandler(wsHub)

	// Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS(cfg.CORSAllowOrigin...))

	healthHandler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		analyticsHandler.RegisterRoutes(r)
		monHandler.RegisterRoutes(r)
		pipelineHandler.RegisterRoutes(r)
		wsHandler.RegisterRoutes(r)
	})

	// Server with graceful shutdown
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.ServerPort, "degraded", degraded.Load())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	// Stop timers, then let in-flight checks finish
	<-jobs.Stop().Done()
	cancelSched()
	if pipelineStarted.Load() {
		<-schedDone
	}
	sched.Wait()
	wsHub.Close()

	// Give in-flight requests time to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}
