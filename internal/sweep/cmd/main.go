package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/eraguessr/roundsync/internal/dbconfig"
	"github.com/eraguessr/roundsync/internal/sweep"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	gatewayURL := getEnv("GATEWAY_URL", "http://localhost:8081")
	pollInterval := getEnvDuration("SWEEP_POLL_INTERVAL", 30*time.Second)

	dbCfg := dbconfig.NewConfigFromEnv()

	db, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	log.Info().
		Str("database", dbCfg.Database).
		Str("gateway_url", gatewayURL).
		Dur("poll_interval", pollInterval).
		Msg("starting deadline sweeper")

	cfg := sweep.DefaultConfig()
	cfg.PollInterval = pollInterval

	worker := sweep.NewWorker(
		sweep.NewDeadlineRepository(db),
		sweep.NewNotifier(gatewayURL, 5*time.Second),
		cfg,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := worker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start sweep worker")
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	cancel()
	if err := worker.Stop(); err != nil {
		log.Error().Err(err).Msg("sweep worker stop failed")
	}

	log.Info().Msg("deadline sweeper shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
