package models

import (
	"time"
)

// GameStatus defines the status of a game.
type GameStatus string

const (
	GameStatusPlaying  GameStatus = "playing"
	GameStatusGameOver GameStatus = "game_over"
	GameStatusWin      GameStatus = "win"
)

// Terminal reports whether no further reveals are accepted.
func (s GameStatus) Terminal() bool {
	return s == GameStatusGameOver || s == GameStatusWin
}

// Valid reports whether s is a known status.
func (s GameStatus) Valid() bool {
	switch s {
	case GameStatusPlaying, GameStatusGameOver, GameStatusWin:
		return true
	}
	return false
}

// PlayerID is an opaque per-game player token.
type PlayerID string

// PlayerScores maps a player to the number of safe cells they revealed.
type PlayerScores map[PlayerID]int

// Clone returns an independent copy. A nil receiver yields an empty map.
func (s PlayerScores) Clone() PlayerScores {
	cp := make(PlayerScores, len(s))
	for id, score := range s {
		cp[id] = score
	}
	return cp
}

// Snapshot is the unit of synchronization: the complete state of one game.
// Snapshots are always replaced in full, never merged.
type Snapshot struct {
	Board        *Board       `json:"board"`
	Status       GameStatus   `json:"game_status"`
	PlayerScores PlayerScores `json:"player_scores"`
	Version      int64        `json:"version"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	cp := s
	if s.Board != nil {
		cp.Board = s.Board.Clone()
	}
	cp.PlayerScores = s.PlayerScores.Clone()
	return cp
}

// Game is a stored game row.
type Game struct {
	ID        string    `json:"id"`
	Rows      int       `json:"rows"`
	Cols      int       `json:"cols"`
	Mines     int       `json:"mines"`
	Snapshot  Snapshot  `json:"snapshot"`
	CreatedAt time.Time `json:"created_at"`
}

// Difficulty is a named board preset.
type Difficulty struct {
	Name  string `json:"name" yaml:"name"`
	Rows  int    `json:"rows" yaml:"rows"`
	Cols  int    `json:"cols" yaml:"cols"`
	Mines int    `json:"mines" yaml:"mines"`
}

// Validate checks that the preset describes a playable board.
func (d Difficulty) Validate() error {
	if d.Rows < 1 || d.Cols < 1 || d.Mines < 0 || d.Mines >= d.Rows*d.Cols {
		return ErrInvalidConfiguration
	}
	return nil
}

// DefaultDifficulties are the built-in presets.
var DefaultDifficulties = []Difficulty{
	{Name: "easy", Rows: 8, Cols: 8, Mines: 10},
	{Name: "medium", Rows: 12, Cols: 12, Mines: 24},
	{Name: "hard", Rows: 16, Cols: 16, Mines: 40},
}
