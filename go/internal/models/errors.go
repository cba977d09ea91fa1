package models

import "errors"

var (
	// ErrGameNotFound is returned when no game exists for an id
	ErrGameNotFound = errors.New("game not found")

	// ErrVersionConflict is returned when a save is based on a stale snapshot version
	ErrVersionConflict = errors.New("snapshot version conflict")

	// ErrGameOver is returned when joining a game that already ended on a mine
	ErrGameOver = errors.New("game is over")

	// ErrInvalidConfiguration is returned for board dimensions that cannot be played
	ErrInvalidConfiguration = errors.New("invalid board configuration")

	// ErrUnknownDifficulty is returned for a difficulty name with no preset
	ErrUnknownDifficulty = errors.New("unknown difficulty")
)
