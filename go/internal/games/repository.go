package games

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcdev12/coopsweeper/go/internal/games/db"
	"github.com/mcdev12/coopsweeper/go/internal/models"
	"github.com/mcdev12/coopsweeper/go/internal/sqlutil"
)

// Repository implements game data access on Postgres. Every committed row
// change fires NOTIFY game_snapshots from a table trigger.
type Repository struct {
	database *sql.DB
	queries  *db.Queries
}

// NewRepository creates a new games repository
func NewRepository(database *sql.DB) *Repository {
	return &Repository{
		database: database,
		queries:  db.New(database),
	}
}

// CreateGame inserts a new game row.
func (r *Repository) CreateGame(ctx context.Context, params NewGameParams) (*models.Game, error) {
	board, err := json.Marshal(params.Snapshot.Board)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal board: %w", err)
	}
	scores, err := sqlutil.ToNullRawMessage(params.Snapshot.PlayerScores)
	if err != nil {
		return nil, err
	}

	row, err := r.queries.CreateGame(ctx, db.CreateGameParams{
		ID:           uuid.New(),
		Rows:         int32(params.Rows),
		Cols:         int32(params.Cols),
		Mines:        int32(params.Mines),
		Board:        board,
		GameStatus:   string(params.Snapshot.Status),
		PlayerScores: scores,
		CreatedAt:    sqlutil.ToSqlTime(params.Snapshot.UpdatedAt),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}
	return dbGameToModel(row)
}

// GetGame retrieves a game by ID. Unknown or malformed ids yield models.ErrGameNotFound.
func (r *Repository) GetGame(ctx context.Context, id string) (*models.Game, error) {
	gameID, err := uuid.Parse(id)
	if err != nil {
		return nil, models.ErrGameNotFound
	}
	row, err := r.queries.GetGame(ctx, gameID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return dbGameToModel(row)
}

// SaveSnapshot overwrites the snapshot columns and bumps the version. With
// checkVersion the write only applies if the stored version equals snap.Version.
// A zero snap.UpdatedAt stamps the row with the database clock.
func (r *Repository) SaveSnapshot(ctx context.Context, id string, snap models.Snapshot, checkVersion bool) (int64, error) {
	gameID, err := uuid.Parse(id)
	if err != nil {
		return 0, models.ErrGameNotFound
	}
	board, err := json.Marshal(snap.Board)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal board: %w", err)
	}
	scores, err := sqlutil.ToNullRawMessage(snap.PlayerScores)
	if err != nil {
		return 0, err
	}

	var version int64
	err = sqlutil.Run(ctx, r.database, r.queries.WithTx, func(q *db.Queries) error {
		var err error
		if !checkVersion {
			version, err = q.UpdateGameSnapshot(ctx, db.UpdateGameSnapshotParams{
				ID:           gameID,
				Board:        board,
				GameStatus:   string(snap.Status),
				PlayerScores: scores,
				UpdatedAt:    sqlutil.ToSqlTime(snap.UpdatedAt),
			})
			if errors.Is(err, sql.ErrNoRows) {
				return models.ErrGameNotFound
			}
			return err
		}

		version, err = q.UpdateGameSnapshotIfVersion(ctx, db.UpdateGameSnapshotIfVersionParams{
			ID:           gameID,
			Board:        board,
			GameStatus:   string(snap.Status),
			PlayerScores: scores,
			UpdatedAt:    sqlutil.ToSqlTime(snap.UpdatedAt),
			Version:      snap.Version,
		})
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		// No row matched: either the game is gone or the version moved on.
		if _, err := q.GetGameVersion(ctx, gameID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return models.ErrGameNotFound
			}
			return err
		}
		return models.ErrVersionConflict
	})
	if err != nil {
		if errors.Is(err, models.ErrGameNotFound) || errors.Is(err, models.ErrVersionConflict) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to save snapshot: %w", err)
	}
	return version, nil
}

// FetchUnpublished returns games whose latest version has not been published.
func (r *Repository) FetchUnpublished(ctx context.Context, limit int32) ([]UnpublishedGame, error) {
	rows, err := r.queries.FetchUnpublishedGames(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unpublished games: %w", err)
	}
	out := make([]UnpublishedGame, 0, len(rows))
	for _, row := range rows {
		game, err := dbGameToModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, UnpublishedGame{GameID: game.ID, Snapshot: game.Snapshot})
	}
	return out, nil
}

// CountUnpublished reports how many games have a version not yet on the event stream.
func (r *Repository) CountUnpublished(ctx context.Context) (int64, error) {
	count, err := r.queries.CountUnpublishedGames(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count unpublished games: %w", err)
	}
	return count, nil
}

// MarkPublished records that version has reached the event stream.
func (r *Repository) MarkPublished(ctx context.Context, id string, version int64) error {
	gameID, err := uuid.Parse(id)
	if err != nil {
		return models.ErrGameNotFound
	}
	if err := r.queries.MarkGamePublished(ctx, db.MarkGamePublishedParams{ID: gameID, Version: version}); err != nil {
		return fmt.Errorf("failed to mark game published: %w", err)
	}
	return nil
}

func dbGameToModel(row db.Game) (*models.Game, error) {
	var board models.Board
	if err := json.Unmarshal(row.Board, &board); err != nil {
		return nil, fmt.Errorf("failed to unmarshal board for game %s: %w", row.ID, err)
	}
	scores := models.PlayerScores{}
	if err := sqlutil.FromNullRawMessage(row.PlayerScores, &scores); err != nil {
		return nil, err
	}
	if scores == nil {
		scores = models.PlayerScores{}
	}

	return &models.Game{
		ID:    row.ID.String(),
		Rows:  int(row.Rows),
		Cols:  int(row.Cols),
		Mines: int(row.Mines),
		Snapshot: models.Snapshot{
			Board:        &board,
			Status:       models.GameStatus(row.GameStatus),
			PlayerScores: scores,
			Version:      row.Version,
			UpdatedAt:    row.UpdatedAt,
		},
		CreatedAt: row.CreatedAt,
	}, nil
}
