// Package main is the entry point for the AlphaPulse risk server.
// It downloads daily prices into a local cache, runs Monte Carlo portfolio
// simulations on request and serves the results over HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/alphapulse/internal/config"
	"github.com/aristath/alphapulse/internal/di"
	"github.com/aristath/alphapulse/internal/server"
	"github.com/aristath/alphapulse/pkg/logger"
)

// getEnv retrieves an environment variable value, returning a fallback if the variable
// is not set or is empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	version := getEnv("VERSION", "dev")
	log.Info().
		Str("version", version).
		Str("data_dir", cfg.DataDir).
		Int("workers", cfg.Simulation.Workers).
		Msg("Starting AlphaPulse")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, _, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:             log,
		HistoryDB:       container.HistoryDB,
		Tickers:         container.HistoryCache,
		Scheduler:       container.Scheduler,
		AnalysisHandler: container.AnalysisHandler,
		Port:            cfg.Port,
		DevMode:         cfg.DevMode,
		Version:         version,
		WriteTimeout:    cfg.RequestTimeout + 15*time.Second,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	container.Scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	container.Scheduler.Stop()

	log.Info().Msg("Server stopped")
}
