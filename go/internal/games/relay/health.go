package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// BacklogCounter reports games whose latest version is not yet published.
type BacklogCounter interface {
	CountUnpublished(ctx context.Context) (int64, error)
}

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	Published         uint64    `json:"published"`
	LastPublished     time.Time `json:"last_published"`
	PendingGames      int64     `json:"pending_games"`
	DatabaseConnected bool      `json:"database_connected"`
	NATSConnected     bool      `json:"nats_connected"`
	RelayRunning      bool      `json:"relay_running"`
	Errors            []string  `json:"errors"`
}

type HealthChecker struct {
	relay     *Relay
	db        Pinger
	backlog   BacklogCounter
	nats      func() bool
	clock     clockwork.Clock
	threshold time.Duration // Max time without a publish while games are pending
}

func NewHealthChecker(relay *Relay, db Pinger, backlog BacklogCounter, natsConnected func() bool, threshold time.Duration) *HealthChecker {
	return &HealthChecker{
		relay:     relay,
		db:        db,
		backlog:   backlog,
		nats:      natsConnected,
		clock:     relay.clock,
		threshold: threshold,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	stats := h.relay.Stats()
	status := HealthStatus{
		Healthy:       true,
		Published:     stats.Published,
		LastPublished: stats.LastPublished,
		RelayRunning:  stats.Running,
		Errors:        []string{},
	}

	if err := h.db.PingContext(ctx); err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
	} else {
		status.DatabaseConnected = true
	}

	if h.nats != nil {
		status.NATSConnected = h.nats()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	if !status.RelayRunning {
		status.Healthy = false
		status.Errors = append(status.Errors, "relay not running")
	}

	if status.DatabaseConnected {
		pending, err := h.backlog.CountUnpublished(ctx)
		if err != nil {
			status.Errors = append(status.Errors, fmt.Sprintf("failed to count pending games: %v", err))
		} else {
			status.PendingGames = pending
		}
	}

	// A backlog is only a problem if nothing has gone out for a while.
	if status.PendingGames > 0 && !status.LastPublished.IsZero() {
		if idle := h.clock.Since(status.LastPublished); idle > h.threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("no snapshots published for %s", idle.Round(time.Second)))
		}
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to encode health status")
	}
}
