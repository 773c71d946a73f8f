// Package main is the entrypoint for the narration API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/slidecast/slidecast/internal/api"
	"github.com/slidecast/slidecast/internal/api/handler"
	mw "github.com/slidecast/slidecast/internal/api/middleware"
	"github.com/slidecast/slidecast/internal/assembler"
	"github.com/slidecast/slidecast/internal/cache"
	"github.com/slidecast/slidecast/internal/cleanup"
	"github.com/slidecast/slidecast/internal/config"
	"github.com/slidecast/slidecast/internal/converter"
	"github.com/slidecast/slidecast/internal/orchestrator"
	"github.com/slidecast/slidecast/internal/storage"
	"github.com/slidecast/slidecast/internal/store"
	"github.com/slidecast/slidecast/internal/tts"
	"github.com/slidecast/slidecast/internal/tts/openvoice"
)

const (
	shutdownTimeout = 30 * time.Second
	maxUploadBytes  = 200 << 20
	cleanupInterval = 6 * time.Hour
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "workers", cfg.Pipeline.SynthesisWorkers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Object storage gateway
	gateway, err := storage.NewMinioGateway(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create storage gateway: %w", err)
	}
	slog.Info("object storage connected", "endpoint", cfg.Storage.Endpoint)

	// 6. Pipeline collaborators
	pgStore := store.NewPostgresStore(pool)
	convClient := converter.NewHTTPClient(cfg.Converter.BaseURL, cfg.Converter.Timeout)
	asmClient := assembler.NewHTTPClient(cfg.Assembler.BaseURL, cfg.Assembler.Timeout)
	synth := openvoice.NewProvider(cfg.TTS)
	engine := tts.NewEngine(synth, cfg.TTS.SoftTimeout, cfg.TTS.SilenceDuration)

	orch := orchestrator.New(pgStore, redisCache, gateway, convClient, engine, asmClient, orchestrator.Config{
		Workers:           cfg.Pipeline.SynthesisWorkers,
		QueueCapacity:     cfg.Pipeline.QueueCapacity,
		HardTimeout:       cfg.TTS.HardTimeout,
		SilenceDuration:   cfg.TTS.SilenceDuration,
		ReconcileInterval: cfg.Pipeline.ReconcileInterval,
		StatusCacheTTL:    cfg.Pipeline.StatusCacheTTL,
		StorageRetries:    cfg.TTS.Retries,
	})
	if err := orch.Run(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	defer orch.Shutdown(shutdownTimeout)

	// 7. Retention cleanup
	retention := time.Duration(cfg.Cleanup.RetentionDays) * 24 * time.Hour
	cleaner := cleanup.NewService(pgStore, gateway, retention)
	go cleaner.Run(ctx, cleanupInterval)

	// 8. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, 60),

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache),

		CreatePresentation: handler.NewCreatePresentationHandler(pgStore, gateway, orch, maxUploadBytes),
		ListPresentations:  handler.NewListPresentationsHandler(pgStore),
		GetPresentation:    handler.NewGetPresentationHandler(pgStore, redisCache, cfg.Pipeline.StatusCacheTTL),
		DownloadVideo:      handler.NewDownloadVideoHandler(pgStore, gateway),
		CancelPresentation: handler.NewCancelPresentationHandler(orch),

		CreateVoice:        handler.NewCreateVoiceHandler(pgStore, gateway, maxUploadBytes),
		CreateBuiltinVoice: handler.NewCreateBuiltinVoiceHandler(pgStore),
		ListVoices:         handler.NewListVoicesHandler(pgStore),

		CleanupOld:     handler.NewCleanupOldHandler(cleaner),
		CleanupJobs:    handler.NewCleanupJobsHandler(cleaner),
		CleanupPreview: handler.NewCleanupPreviewHandler(cleaner),

		DashboardStats: handler.NewDashboardStatsHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
