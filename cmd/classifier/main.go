package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"device-classifier/internal/cfg"
	"device-classifier/internal/logging"
	"device-classifier/internal/metrics"
	"device-classifier/internal/ml"
	"device-classifier/internal/storage"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// A missing .env file is fine; the environment may already be set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env file")
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	closer, err := logging.Setup(c.LogLevel, c.LogFile)
	if err != nil {
		log.Fatal().Err(err).Msg("logging setup failed")
	}
	defer closer.Close()

	log.Info().
		Str("model_path", c.ModelPath).
		Str("encoder_path", c.EncoderPath).
		Str("policy", string(c.Policy)).
		Int("port", c.HTTPPort).
		Msg("starting classifier")

	// Initialize components
	m := metrics.New()
	mw := metrics.NewWrapper(m)
	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	predictor := ml.NewWithMetrics(ml.Config{
		ModelPath:           c.ModelPath,
		EncoderPath:         c.EncoderPath,
		Policy:              c.Policy,
		TargetEncoder:       c.TargetEncoder,
		EnableProbabilities: c.EnableProbabilities,
		CacheSize:           c.CacheSize,
	}, mw)

	serverConfig := ml.ServerConfig{
		Port:           c.HTTPPort,
		RequestTimeout: c.RequestTimeout,
		MaxBodyBytes:   c.MaxBodyBytes,
	}
	if store != nil {
		serverConfig.History = store
	}
	server := ml.NewModelServer(predictor, serverConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("model server failed")
			cancel()
		}
	}()

	waitForShutdown(ctx, server)
}

// initializeStorage initializes storage if DATA_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath != "" {
		store, err := storage.New(c.DataPath)
		if err != nil {
			log.Warn().Err(err).Msg("storage initialization failed, continuing without prediction history")
			return nil
		}
		return store
	}
	return nil
}

// waitForShutdown waits for shutdown signals and handles graceful shutdown
func waitForShutdown(ctx context.Context, server *ml.ModelServer) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
		return
	}
	log.Info().Msg("server stopped")
}
