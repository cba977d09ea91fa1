package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsweeper/go/internal/games/events"
	"github.com/mcdev12/coopsweeper/go/internal/models"
)

// NewPQListener opens a LISTEN connection on cfg.NotifyChannel.
func NewPQListener(cfg Config) (*pq.Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")
	return l, nil
}

// Relay forwards committed snapshot versions from Postgres to the message bus.
// Notifications carry the game id; a periodic sweep catches anything missed
// while the LISTEN connection was down.
type Relay struct {
	store     Store
	source    NotificationSource
	publisher Publisher
	cfg       Config
	clock     clockwork.Clock

	mu            sync.Mutex
	running       bool
	published     uint64
	lastPublished time.Time
}

// Stats is a point-in-time view of relay progress.
type Stats struct {
	Running       bool
	Published     uint64
	LastPublished time.Time
}

type Option func(*Relay)

func WithClock(clock clockwork.Clock) Option {
	return func(r *Relay) { r.clock = clock }
}

func NewRelay(store Store, source NotificationSource, publisher Publisher, cfg Config, opts ...Option) *Relay {
	r := &Relay{
		store:     store,
		source:    source,
		publisher: publisher,
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Start(ctx context.Context) error {
	r.setRunning(true)
	defer r.setRunning(false)

	log.Info().
		Str("channel", r.cfg.NotifyChannel).
		Dur("ping_interval", r.cfg.PingInterval).
		Dur("fallback_interval", r.cfg.FallbackInterval).
		Msg("relay started")

	pingTicker := r.clock.NewTicker(r.cfg.PingInterval)
	fallbackTicker := r.clock.NewTicker(r.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	// Catch up on anything committed while we were down.
	if err := r.processUnpublished(ctx); err != nil {
		log.Error().Err(err).Msg("failed to process unpublished games")
	}

	notify := r.source.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay shutting down")
			return r.Stop()
		case note := <-notify:
			if note == nil {
				// Connection was re-established; notifications may have been lost.
				if err := r.processUnpublished(ctx); err != nil {
					log.Error().Err(err).Msg("failed to process unpublished games")
				}
				continue
			}
			if err := r.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Str("game_id", note.Extra).Msg("failed to handle notification")
			}
		case <-fallbackTicker.Chan():
			if err := r.processUnpublished(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unpublished games")
			}
		case <-pingTicker.Chan():
			if err := r.source.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (r *Relay) Stop() error {
	return r.source.Close()
}

func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Running: r.running, Published: r.published, LastPublished: r.lastPublished}
}

func (r *Relay) setRunning(running bool) {
	r.mu.Lock()
	r.running = running
	r.mu.Unlock()
}

func (r *Relay) recordPublished() {
	r.mu.Lock()
	r.published++
	r.lastPublished = r.clock.Now()
	r.mu.Unlock()
}

// handleNotification publishes the current snapshot of the notified game.
func (r *Relay) handleNotification(ctx context.Context, gameID string) error {
	game, err := r.store.GetGame(ctx, gameID)
	if err != nil {
		if errors.Is(err, models.ErrGameNotFound) {
			log.Warn().Str("game_id", gameID).Msg("notification for unknown game")
			return nil
		}
		return fmt.Errorf("failed to fetch game: %w", err)
	}

	if err := r.publishWithRetry(ctx, game.ID, game.Snapshot); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

// processUnpublished sweeps games whose latest version has not been published.
func (r *Relay) processUnpublished(ctx context.Context) error {
	pending, err := r.store.FetchUnpublished(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch unpublished games: %w", err)
	}

	for _, g := range pending {
		if err := r.publishWithRetry(ctx, g.GameID, g.Snapshot); err != nil {
			log.Error().Err(err).Str("game_id", g.GameID).Msg("failed to publish snapshot")
			continue
		}
	}
	return nil
}

// publishWithRetry publishes one snapshot version with linear backoff and
// records it as published on success.
func (r *Relay) publishWithRetry(ctx context.Context, gameID string, snap models.Snapshot) error {
	event := events.NewSnapshotEvent(gameID, snap, r.clock.Now())
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(delay):
			}
		}

		if err := r.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.ID).
				Msg("failed to publish, retrying")
			continue
		}

		if err := r.store.MarkPublished(ctx, gameID, snap.Version); err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Msg("failed to mark game published")
			return err
		}
		r.recordPublished()

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", event.ID).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}
