package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type Game struct {
	ID               uuid.UUID             `json:"id"`
	Rows             int32                 `json:"rows"`
	Cols             int32                 `json:"cols"`
	Mines            int32                 `json:"mines"`
	Board            json.RawMessage       `json:"board"`
	GameStatus       string                `json:"game_status"`
	PlayerScores     pqtype.NullRawMessage `json:"player_scores"`
	Version          int64                 `json:"version"`
	PublishedVersion int64                 `json:"published_version"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}
