package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stemsi/savetest-backend/internal/config"
	"github.com/stemsi/savetest-backend/internal/database"
	"github.com/stemsi/savetest-backend/internal/handler"
	"github.com/stemsi/savetest-backend/internal/lifecycle"
	"github.com/stemsi/savetest-backend/internal/lock"
	"github.com/stemsi/savetest-backend/internal/logger"
	"github.com/stemsi/savetest-backend/internal/middleware"
	"github.com/stemsi/savetest-backend/internal/model"
	"github.com/stemsi/savetest-backend/internal/repository"
	"github.com/stemsi/savetest-backend/internal/router"
	"github.com/stemsi/savetest-backend/internal/service"
	"github.com/stemsi/savetest-backend/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreBackend).
		Str("lock", cfg.LockBackend).
		Str("scope", cfg.AttemptScope).
		Str("ordering", cfg.AttemptOrdering).
		Msg("Starting SaveTest Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.New()
	health := make(map[string]router.HealthCheck)

	// ─── Initialize Repositories ───────────────────────────────────────
	var (
		attemptRepo  service.AttemptRepository
		settingsRepo service.TaskSettingsRepository
	)
	switch cfg.StoreBackend {
	case "memory":
		mem := repository.NewMemoryStoreWithClock(clk)
		attemptRepo, settingsRepo = mem, mem.Settings()
		log.Warn().Msg("Using in-memory store; attempts are lost on restart")
	default:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		health["postgres"] = pool.Ping
		attemptRepo = repository.NewAttemptRepository(pool)
		settingsRepo = repository.NewTaskSettingsRepository(pool)
	}

	// ─── Initialize Resolution Lock ────────────────────────────────────
	var locker lock.Locker
	switch cfg.LockBackend {
	case "redis":
		rdb, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		locker = lock.NewRedis(rdb, cfg.LockTTL)
	default:
		locker = lock.NewLocal()
	}

	// ─── Initialize Services ──────────────────────────────────────────
	manager := lifecycle.NewManager(attemptRepo, locker, lifecycle.Options{
		Scope:    lifecycle.Scope(cfg.AttemptScope),
		OrderBy:  model.Ordering(cfg.AttemptOrdering),
		Clock:    clk,
		Settings: settingsRepo,
	}, log)
	authService := service.NewAuthService(cfg)
	attemptService := service.NewAttemptService(attemptRepo, manager, clk, log)
	settingsService := service.NewTaskSettingsService(settingsRepo, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt:      handler.NewAttemptHandler(attemptService, log),
		TaskSettings: handler.NewTaskSettingsHandler(settingsService),
	}

	opts := router.Options{
		Log:    logger.Component(log, "http"),
		Health: health,
	}
	stopSweep := make(chan struct{})
	if cfg.RateLimitPerMinute > 0 {
		opts.RateLimiter = middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute, clk)
		go opts.RateLimiter.Run(stopSweep)
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, opts)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	close(stopSweep)

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
