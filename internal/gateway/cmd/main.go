package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"gopkg.in/yaml.v3"

	"github.com/eraguessr/roundsync/internal/dbconfig"
	"github.com/eraguessr/roundsync/internal/events"
	"github.com/eraguessr/roundsync/internal/gateway"
	"github.com/eraguessr/roundsync/internal/models"
	"github.com/eraguessr/roundsync/internal/roster"
	"github.com/eraguessr/roundsync/internal/snapshots"
	"github.com/eraguessr/roundsync/internal/sweep"
	"github.com/eraguessr/roundsync/internal/timerstore"
)

// Config is the optional YAML config file (ROUNDSYNC_CONFIG); env vars win
// for connection settings.
type Config struct {
	Rounds struct {
		GracePeriodSec int `yaml:"grace_period_sec"`
	} `yaml:"rounds"`
	Feed struct {
		StreamName string `yaml:"stream_name"`
	} `yaml:"feed"`
}

func loadConfig(path string) (*Config, error) {
	var config Config
	if path == "" {
		return &config, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

// snapshotStore adapts the snapshots repository to the host's interface.
type snapshotStore struct {
	repo *snapshots.Repository
}

func (s snapshotStore) UpsertSnapshot(ctx context.Context, req gateway.SnapshotRequest) (*models.PeerRoundSnapshot, error) {
	return s.repo.UpsertSnapshot(ctx, snapshots.UpsertSnapshotRequest{
		RoomID:           req.RoomID,
		RoundNumber:      req.RoundNumber,
		UserID:           req.UserID,
		DisplayName:      req.DisplayName,
		XPTotal:          req.XPTotal,
		XPDebt:           req.XPDebt,
		AccDebt:          req.AccDebt,
		TimeAccuracy:     req.TimeAccuracy,
		LocationAccuracy: req.LocationAccuracy,
		DistanceKm:       req.DistanceKm,
		GuessYear:        req.GuessYear,
		GuessPayload:     req.GuessPayload,
		HintsUsed:        req.HintsUsed,
		SubmittedAt:      req.SubmittedAt,
	})
}

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	port := getEnv("GATEWAY_PORT", "8081")
	natsURL := getEnv("NATS_URL", "nats://localhost:4222")

	config, err := loadConfig(os.Getenv("ROUNDSYNC_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	gracePeriod := 10 * time.Second
	if config.Rounds.GracePeriodSec > 0 {
		gracePeriod = time.Duration(config.Rounds.GracePeriodSec) * time.Second
	}

	dbCfg := dbconfig.NewConfigFromEnv()

	// database/sql pool for the repository layer
	db, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	// pgx pool for the hot timer-store path
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pgx pool")
	}
	defer pool.Close()

	log.Info().
		Str("database", dbCfg.Database).
		Str("nats_url", natsURL).
		Str("port", port).
		Msg("starting round gateway")

	publisherCfg := events.DefaultJetStreamPublisherConfig()
	publisherCfg.URL = natsURL
	if config.Feed.StreamName != "" {
		publisherCfg.StreamName = config.Feed.StreamName
	}
	publisher, err := events.NewJetStreamPublisher(ctx, publisherCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create feed publisher")
	}
	defer publisher.Close()

	clock := clockwork.NewRealClock()
	timerClient := timerstore.NewClient(timerstore.NewRepository(pool), timerstore.DefaultRetryPolicy(), clock)

	host := gateway.NewRoomHost(gateway.RoomHostConfig{
		Timers:      timerClient,
		Roster:      roster.NewRepository(db),
		Snapshots:   snapshotStore{repo: snapshots.NewRepository(db)},
		Deadlines:   sweep.NewDeadlineRepository(db),
		Publisher:   publisher,
		Clock:       clock,
		GracePeriod: gracePeriod,
	})

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.JetStreamConfig.URL = natsURL
	if config.Feed.StreamName != "" {
		gatewayConfig.JetStreamConfig.StreamName = config.Feed.StreamName
	}

	gatewayService, err := gateway.NewService(gatewayConfig, host, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway service")
	}

	mux := http.NewServeMux()
	gatewayService.RegisterRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		stats := gatewayService.GetStats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"round-gateway","connections":%d}`, stats["total_connections"])
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start gateway service (event consumer and connection manager)
	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()

	// Give services time to clean up
	time.Sleep(1 * time.Second)

	log.Info().Msg("round gateway shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
