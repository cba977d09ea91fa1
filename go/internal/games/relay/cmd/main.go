package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsweeper/go/internal/dbconfig"
	"github.com/mcdev12/coopsweeper/go/internal/games"
	"github.com/mcdev12/coopsweeper/go/internal/games/relay"
)

func main() {
	// load .env
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	cfg := dbconfig.NewConfigFromEnv()
	dsn := cfg.DSN()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("ping database")
	}
	log.Info().Str("database", cfg.Redacted()).Msg("connected to database")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// JetStream publisher
	jsCfg := relay.DefaultJetStreamConfig()
	if url := os.Getenv("NATS_URL"); url != "" {
		jsCfg.URL = url
	}
	publisher, err := relay.NewJetStreamPublisher(ctx, jsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create JetStream publisher")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("close publisher")
		}
	}()

	relayCfg := relay.DefaultConfig()
	relayCfg.DatabaseURL = dsn
	if iv := os.Getenv("FALLBACK_INTERVAL"); iv != "" {
		if d, err := time.ParseDuration(iv); err == nil {
			relayCfg.FallbackInterval = d
		}
	}

	listener, err := relay.NewPQListener(relayCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create listener")
	}

	repo := games.NewRepository(db)
	r := relay.NewRelay(repo, listener, publisher, relayCfg)

	mux := http.NewServeMux()
	mux.Handle("GET /health", relay.NewHealthChecker(r, db, repo, publisher.IsConnected, 2*relayCfg.FallbackInterval))
	healthServer := &http.Server{
		Addr:              ":" + getEnv("RELAY_HEALTH_PORT", "8082"),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server failed")
		}
	}()
	defer healthServer.Close()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msg("starting snapshot relay")
		errCh <- r.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		select {
		case err := <-errCh:
			if err != nil {
				log.Error().Err(err).Msg("relay stopped with error")
			}
		case <-time.After(5 * time.Second):
			log.Warn().Msg("relay did not stop in time")
		}
		log.Info().Msg("graceful shutdown complete")
	case err := <-errCh:
		log.Error().Err(err).Msg("relay exited unexpectedly")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
