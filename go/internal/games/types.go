package games

import (
	"github.com/mcdev12/coopsweeper/go/internal/models"
)

// CreateGameRequest selects a preset by name, or by explicit dimensions
// that must match one of the configured presets.
type CreateGameRequest struct {
	Difficulty string `json:"difficulty,omitempty"`
	Rows       int    `json:"rows,omitempty"`
	Cols       int    `json:"cols,omitempty"`
	Mines      int    `json:"mines,omitempty"`
}

// SaveSnapshotRequest overwrites a game's snapshot.
type SaveSnapshotRequest struct {
	Snapshot     models.Snapshot `json:"snapshot"`
	CheckVersion bool            `json:"check_version"`
}

// SaveSnapshotResponse carries the version assigned by the store.
type SaveSnapshotResponse struct {
	Version int64 `json:"version"`
}

// JoinGameResponse confirms a joinable game.
type JoinGameResponse struct {
	GameID     string            `json:"game_id"`
	GameStatus models.GameStatus `json:"game_status"`
}

// NewGameParams is what the repository persists for a new game.
type NewGameParams struct {
	Rows     int
	Cols     int
	Mines    int
	Snapshot models.Snapshot
}

// UnpublishedGame is a stored snapshot not yet handed to the event stream.
type UnpublishedGame struct {
	GameID   string
	Snapshot models.Snapshot
}
