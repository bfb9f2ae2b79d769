package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/codevoicehq/codevoice/internal/collab"
	"github.com/codevoicehq/codevoice/internal/config"
	"github.com/codevoicehq/codevoice/internal/generation"
	"github.com/codevoicehq/codevoice/internal/httpapi"
	"github.com/codevoicehq/codevoice/internal/notify"
	"github.com/codevoicehq/codevoice/internal/observability"
	"github.com/codevoicehq/codevoice/internal/quota"
	"github.com/codevoicehq/codevoice/internal/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	collabStore, err := collab.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("session store init failed: %v", err)
	}
	defer collabStore.Close()

	taskStore, err := generation.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("task store init failed: %v", err)
	}
	defer taskStore.Close()

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Printf("no DATABASE_URL configured; sessions and tasks are in-memory only")
	}

	// The notification backend is best-effort: a missing or broken Redis
	// degrades to in-process push plus the polling fallback, never to a
	// startup failure for collaboration itself.
	var notifier notify.Notifier
	var guard quota.Guard
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisNotifier, err := notify.NewRedisNotifier(ctx, cfg.RedisURL, cfg.TaskChannelPrefix)
		if err != nil {
			log.Printf("redis notifier unavailable, using in-process notifications: %v", err)
		} else {
			notifier = redisNotifier
			guard = quota.NewRedisGuard(redisNotifier.Client(), cfg.QuotaDefault)
			defer redisNotifier.Close()
			log.Printf("notification backend: redis (%s:*)", cfg.TaskChannelPrefix)
		}
	}
	if notifier == nil {
		notifier = notify.NewLocalNotifier()
		log.Printf("notification backend: in-process")
	}
	if guard == nil {
		guard = quota.NewLocalGuard(cfg.QuotaDefault)
	}

	var pipeline generation.Pipeline
	if strings.TrimSpace(cfg.GeneratorURL) != "" {
		pipeline = generation.NewHTTPPipeline(cfg.GeneratorURL, cfg.GeneratorTimeout)
		log.Printf("generation pipeline: http (%s)", cfg.GeneratorURL)
	} else {
		pipeline = &generation.MockPipeline{}
		log.Printf("generation pipeline: mock (GENERATOR_HTTP_URL not configured)")
	}

	sessions := collab.NewManager(collabStore, cfg.SessionCapacity, cfg.InviteTTL)
	reg := registry.New(sessions, metrics)

	queue := generation.NewQueue()
	tasks := generation.NewManager(taskStore, queue, metrics)
	worker := generation.NewWorker(tasks, queue, pipeline, notifier, cfg.WorkerIdleSleep, metrics)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go worker.Run(runCtx)

	api := httpapi.New(cfg, sessions, reg, tasks, notifier, guard, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
