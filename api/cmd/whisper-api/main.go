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

	"github.com/irgordon/whisper/api/internal/api/handlers"
	"github.com/irgordon/whisper/api/internal/api/middleware"
	"github.com/irgordon/whisper/api/internal/api/router"
	"github.com/irgordon/whisper/api/internal/config"
	"github.com/irgordon/whisper/api/internal/core/domain"
	"github.com/irgordon/whisper/api/internal/core/services"
	"github.com/irgordon/whisper/api/internal/db"
	"github.com/irgordon/whisper/api/internal/metrics"
	"github.com/irgordon/whisper/api/internal/telemetry"
	"github.com/irgordon/whisper/api/internal/workers"
)

func main() {
	// --- 1. Core Telemetry & Configuration ---
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("🚀 Booting Whisper relay...", "env", cfg.Environment, "store", cfg.StoreBackend)

	// --- 2. Outbound Infrastructure ---
	store, closeStore, err := db.Open(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("FATAL: secret store failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// --- 3. Dependency Injection ---
	telemetryHub := telemetry.NewHub()
	m := metrics.New()

	tokenService := services.NewTokenService(cfg.JWTSecret, nil)
	relayService := services.NewRelayService(
		store,
		tokenService,
		domain.Publishers{telemetryHub, m}, // receipts and counters see the same events
		nil,
		logger,
	)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, m.RateLimited)

	// --- 4. Background Workers ---
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	sweeper := workers.NewSweeper(store, logger, cfg.SweepInterval, m)
	go sweeper.Start(workerCtx)
	go limiter.StartCleanup(workerCtx, time.Minute, 3*time.Minute)

	// --- 5. HTTP Gateway ---
	mux := router.NewRouter(router.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		SecretHandler:  handlers.NewSecretHandler(relayService),
		ReceiptHandler: handlers.NewReceiptHandler(relayService, telemetryHub, logger),
		HealthHandler:  handlers.NewHealthHandler(store),
		RateLimiter:    limiter,
		Metrics:        m,
		Logger:         logger,
	})

	// WriteTimeout stays zero: receipt streams are long-lived. Plain routes carry
	// their own 30s chi timeout.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// --- 6. Graceful Exit ---
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("🌐 Whisper relay active", "port", cfg.Port, "public_url", cfg.PublicURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("CRITICAL: Server crashed", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	logger.Info("🛑 Shutting down...")
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ERROR: Forced shutdown", "error", err)
	}
	logger.Info("✅ Whisper relay shutdown.")
}
