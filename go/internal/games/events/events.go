package events

import (
	"fmt"
	"time"

	"github.com/mcdev12/coopsweeper/go/internal/models"
)

const (
	// StreamName is the JetStream stream carrying snapshot events.
	StreamName = "GAME_SNAPSHOTS"
	// SubjectPrefix is followed by the game id.
	SubjectPrefix = "games.snapshots"
	// NotifyChannel is the Postgres channel fired on every games row change.
	NotifyChannel = "game_snapshots"
)

// EventType names the kind of game event.
type EventType string

const (
	EventTypeSnapshot EventType = "snapshot"
)

// GameEvent is the envelope published to JetStream and forwarded verbatim
// to websocket subscribers.
type GameEvent struct {
	ID        string          `json:"id"`
	GameID    string          `json:"game_id"`
	Type      EventType       `json:"type"`
	Version   int64           `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Data      models.Snapshot `json:"data"`
}

// NewSnapshotEvent wraps a stored snapshot.
func NewSnapshotEvent(gameID string, snap models.Snapshot, at time.Time) GameEvent {
	return GameEvent{
		ID:        MsgID(gameID, snap.Version),
		GameID:    gameID,
		Type:      EventTypeSnapshot,
		Version:   snap.Version,
		Timestamp: at.UTC(),
		Data:      snap,
	}
}

// Subject returns the JetStream subject for a game.
func Subject(gameID string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, gameID)
}

// SubjectFilter matches every game subject.
func SubjectFilter() string {
	return SubjectPrefix + ".>"
}

// MsgID identifies one version of one game, so republishing it is deduplicated.
func MsgID(gameID string, version int64) string {
	return fmt.Sprintf("%s:%d", gameID, version)
}
