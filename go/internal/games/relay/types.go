package relay

import (
	"context"
	"time"

	"github.com/lib/pq"

	"github.com/mcdev12/coopsweeper/go/internal/games"
	"github.com/mcdev12/coopsweeper/go/internal/games/events"
	"github.com/mcdev12/coopsweeper/go/internal/models"
)

// Store is what the relay needs from the games repository.
type Store interface {
	GetGame(ctx context.Context, id string) (*models.Game, error)
	FetchUnpublished(ctx context.Context, limit int32) ([]games.UnpublishedGame, error)
	MarkPublished(ctx context.Context, id string, version int64) error
}

// Publisher hands snapshot events to the message bus.
type Publisher interface {
	Publish(ctx context.Context, event events.GameEvent) error
}

// NotificationSource delivers Postgres notifications. *pq.Listener satisfies it.
type NotificationSource interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

type Config struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to sweep for unpublished versions
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int32 // Max games per sweep
}

func DefaultConfig() Config {
	return Config{
		NotifyChannel:    events.NotifyChannel,
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}
