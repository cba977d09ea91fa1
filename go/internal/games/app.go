package games

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsweeper/go/internal/engine"
	"github.com/mcdev12/coopsweeper/go/internal/models"
)

// ErrInvalidSnapshot is returned when a submitted snapshot does not fit its game.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// GameRepository defines what the app layer needs from the repository
type GameRepository interface {
	CreateGame(ctx context.Context, params NewGameParams) (*models.Game, error)
	GetGame(ctx context.Context, id string) (*models.Game, error)
	SaveSnapshot(ctx context.Context, id string, snap models.Snapshot, checkVersion bool) (int64, error)
}

// App handles game store business logic
type App struct {
	repo    GameRepository
	presets []models.Difficulty
	clock   clockwork.Clock
	genOpts []engine.Option
}

// AppOption configures an App.
type AppOption func(*App)

func WithAppClock(clock clockwork.Clock) AppOption {
	return func(a *App) { a.clock = clock }
}

// WithGeneratorOptions passes options to the board generator.
func WithGeneratorOptions(opts ...engine.Option) AppOption {
	return func(a *App) { a.genOpts = opts }
}

// NewApp creates a new games App. Empty presets fall back to models.DefaultDifficulties.
func NewApp(repo GameRepository, presets []models.Difficulty, opts ...AppOption) *App {
	if len(presets) == 0 {
		presets = models.DefaultDifficulties
	}
	a := &App{
		repo:    repo,
		presets: presets,
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Presets returns the configured difficulties.
func (a *App) Presets() []models.Difficulty {
	out := make([]models.Difficulty, len(a.presets))
	copy(out, a.presets)
	return out
}

// CreateGame generates a board for the requested preset and stores it at version 1.
func (a *App) CreateGame(ctx context.Context, req CreateGameRequest) (*models.Game, error) {
	preset, err := a.resolvePreset(req)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	game, err := a.repo.CreateGame(ctx, NewGameParams{
		Rows:  preset.Rows,
		Cols:  preset.Cols,
		Mines: preset.Mines,
		Snapshot: models.Snapshot{
			Board:        engine.Generate(preset.Rows, preset.Cols, preset.Mines, a.genOpts...),
			Status:       models.GameStatusPlaying,
			PlayerScores: models.PlayerScores{},
			Version:      1,
			UpdatedAt:    a.clock.Now(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}

	log.Info().
		Str("game_id", game.ID).
		Str("difficulty", preset.Name).
		Int("rows", preset.Rows).
		Int("cols", preset.Cols).
		Int("mines", preset.Mines).
		Msg("created game")
	return game, nil
}

func (a *App) resolvePreset(req CreateGameRequest) (models.Difficulty, error) {
	if req.Difficulty != "" {
		for _, p := range a.presets {
			if strings.EqualFold(p.Name, req.Difficulty) {
				return p, nil
			}
		}
		return models.Difficulty{}, fmt.Errorf("%w: %q", models.ErrUnknownDifficulty, req.Difficulty)
	}
	for _, p := range a.presets {
		if p.Rows == req.Rows && p.Cols == req.Cols && p.Mines == req.Mines {
			return p, nil
		}
	}
	return models.Difficulty{}, fmt.Errorf("%w: %dx%d with %d mines matches no preset",
		models.ErrInvalidConfiguration, req.Rows, req.Cols, req.Mines)
}

// GetSnapshot returns the current snapshot of a game.
func (a *App) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	game, err := a.repo.GetGame(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return &game.Snapshot, nil
}

// JoinGame checks that a game exists and has not ended on a mine.
// Won games stay joinable so a late player can view the final board.
func (a *App) JoinGame(ctx context.Context, id string) (*JoinGameResponse, error) {
	game, err := a.repo.GetGame(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	if game.Snapshot.Status == models.GameStatusGameOver {
		return nil, models.ErrGameOver
	}
	return &JoinGameResponse{GameID: game.ID, GameStatus: game.Snapshot.Status}, nil
}

// SaveSnapshot overwrites a game's snapshot, stamped with the app clock, and
// returns the new version.
func (a *App) SaveSnapshot(ctx context.Context, id string, req SaveSnapshotRequest) (int64, error) {
	game, err := a.repo.GetGame(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to get game: %w", err)
	}
	if err := validateSnapshot(game, req.Snapshot); err != nil {
		return 0, fmt.Errorf("validation failed: %w", err)
	}

	snap := req.Snapshot
	snap.UpdatedAt = a.clock.Now()
	version, err := a.repo.SaveSnapshot(ctx, id, snap, req.CheckVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to save snapshot: %w", err)
	}

	log.Debug().
		Str("game_id", id).
		Int64("version", version).
		Str("status", string(req.Snapshot.Status)).
		Bool("check_version", req.CheckVersion).
		Msg("saved snapshot")
	return version, nil
}

func validateSnapshot(game *models.Game, snap models.Snapshot) error {
	if snap.Board == nil {
		return fmt.Errorf("%w: board is required", ErrInvalidSnapshot)
	}
	if snap.Board.Rows() != game.Rows || snap.Board.Cols() != game.Cols {
		return fmt.Errorf("%w: board is %dx%d, game is %dx%d",
			ErrInvalidSnapshot, snap.Board.Rows(), snap.Board.Cols(), game.Rows, game.Cols)
	}
	if !snap.Status.Valid() {
		return fmt.Errorf("%w: unknown game_status %q", ErrInvalidSnapshot, snap.Status)
	}
	return nil
}
