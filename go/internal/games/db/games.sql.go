package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const gameColumns = `id, rows, cols, mines, board, game_status, player_scores, version, published_version, created_at, updated_at`

func scanGame(row interface{ Scan(...interface{}) error }) (Game, error) {
	var i Game
	err := row.Scan(
		&i.ID,
		&i.Rows,
		&i.Cols,
		&i.Mines,
		&i.Board,
		&i.GameStatus,
		&i.PlayerScores,
		&i.Version,
		&i.PublishedVersion,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createGame = `-- name: CreateGame :one
INSERT INTO games (id, rows, cols, mines, board, game_status, player_scores, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()), COALESCE($8, NOW()))
RETURNING ` + gameColumns

type CreateGameParams struct {
	ID           uuid.UUID             `json:"id"`
	Rows         int32                 `json:"rows"`
	Cols         int32                 `json:"cols"`
	Mines        int32                 `json:"mines"`
	Board        json.RawMessage       `json:"board"`
	GameStatus   string                `json:"game_status"`
	PlayerScores pqtype.NullRawMessage `json:"player_scores"`
	CreatedAt    sql.NullTime          `json:"created_at"`
}

func (q *Queries) CreateGame(ctx context.Context, arg CreateGameParams) (Game, error) {
	row := q.db.QueryRowContext(ctx, createGame,
		arg.ID,
		arg.Rows,
		arg.Cols,
		arg.Mines,
		arg.Board,
		arg.GameStatus,
		arg.PlayerScores,
		arg.CreatedAt,
	)
	return scanGame(row)
}

const getGame = `-- name: GetGame :one
SELECT ` + gameColumns + `
FROM games
WHERE id = $1`

func (q *Queries) GetGame(ctx context.Context, id uuid.UUID) (Game, error) {
	row := q.db.QueryRowContext(ctx, getGame, id)
	return scanGame(row)
}

const getGameVersion = `-- name: GetGameVersion :one
SELECT version FROM games WHERE id = $1`

func (q *Queries) GetGameVersion(ctx context.Context, id uuid.UUID) (int64, error) {
	row := q.db.QueryRowContext(ctx, getGameVersion, id)
	var version int64
	err := row.Scan(&version)
	return version, err
}

const updateGameSnapshot = `-- name: UpdateGameSnapshot :one
UPDATE games
SET board = $2, game_status = $3, player_scores = $4, version = version + 1, updated_at = COALESCE($5, NOW())
WHERE id = $1
RETURNING version`

type UpdateGameSnapshotParams struct {
	ID           uuid.UUID             `json:"id"`
	Board        json.RawMessage       `json:"board"`
	GameStatus   string                `json:"game_status"`
	PlayerScores pqtype.NullRawMessage `json:"player_scores"`
	UpdatedAt    sql.NullTime          `json:"updated_at"`
}

func (q *Queries) UpdateGameSnapshot(ctx context.Context, arg UpdateGameSnapshotParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, updateGameSnapshot,
		arg.ID,
		arg.Board,
		arg.GameStatus,
		arg.PlayerScores,
		arg.UpdatedAt,
	)
	var version int64
	err := row.Scan(&version)
	return version, err
}

const updateGameSnapshotIfVersion = `-- name: UpdateGameSnapshotIfVersion :one
UPDATE games
SET board = $2, game_status = $3, player_scores = $4, version = version + 1, updated_at = COALESCE($5, NOW())
WHERE id = $1 AND version = $6
RETURNING version`

type UpdateGameSnapshotIfVersionParams struct {
	ID           uuid.UUID             `json:"id"`
	Board        json.RawMessage       `json:"board"`
	GameStatus   string                `json:"game_status"`
	PlayerScores pqtype.NullRawMessage `json:"player_scores"`
	UpdatedAt    sql.NullTime          `json:"updated_at"`
	Version      int64                 `json:"version"`
}

func (q *Queries) UpdateGameSnapshotIfVersion(ctx context.Context, arg UpdateGameSnapshotIfVersionParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, updateGameSnapshotIfVersion,
		arg.ID,
		arg.Board,
		arg.GameStatus,
		arg.PlayerScores,
		arg.UpdatedAt,
		arg.Version,
	)
	var version int64
	err := row.Scan(&version)
	return version, err
}

const fetchUnpublishedGames = `-- name: FetchUnpublishedGames :many
SELECT ` + gameColumns + `
FROM games
WHERE published_version < version
ORDER BY updated_at
LIMIT $1`

func (q *Queries) FetchUnpublishedGames(ctx context.Context, limit int32) ([]Game, error) {
	rows, err := q.db.QueryContext(ctx, fetchUnpublishedGames, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Game
	for rows.Next() {
		i, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countUnpublishedGames = `-- name: CountUnpublishedGames :one
SELECT COUNT(*) FROM games WHERE published_version < version`

func (q *Queries) CountUnpublishedGames(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countUnpublishedGames)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const markGamePublished = `-- name: MarkGamePublished :exec
UPDATE games
SET published_version = GREATEST(published_version, $2)
WHERE id = $1`

type MarkGamePublishedParams struct {
	ID      uuid.UUID `json:"id"`
	Version int64     `json:"version"`
}

func (q *Queries) MarkGamePublished(ctx context.Context, arg MarkGamePublishedParams) error {
	_, err := q.db.ExecContext(ctx, markGamePublished, arg.ID, arg.Version)
	return err
}
