package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/mcdev12/coopsweeper/go/internal/dbconfig"
	"github.com/mcdev12/coopsweeper/go/internal/engine"
	"github.com/mcdev12/coopsweeper/go/internal/games/db"
	"github.com/mcdev12/coopsweeper/go/internal/models"
)

// migrate applies the games schema. With SEED_DEMO_GAMES=true it also
// inserts one fresh game per built-in difficulty and prints their ids.
func main() {
	_ = godotenv.Load()
	ctx := context.Background()

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// No arguments, so pgx sends the whole script over the simple protocol.
	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		fmt.Fprintf(os.Stderr, "apply schema: %v\n", err)
		os.Exit(1)
	}

	var games int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM games`).Scan(&games); err != nil {
		fmt.Fprintf(os.Stderr, "count games: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Schema applied to %s: %d existing games\n", cfg.Redacted(), games)

	if os.Getenv("SEED_DEMO_GAMES") != "true" {
		return
	}

	var inserted, errs int
	for _, d := range models.DefaultDifficulties {
		id, err := insertGame(ctx, pool, d)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting %s game: %v\n", d.Name, err)
			errs++
			continue
		}
		fmt.Printf("  %-6s %dx%d/%d  %s\n", d.Name, d.Rows, d.Cols, d.Mines, id)
		inserted++
	}

	fmt.Printf("Demo seed complete: %d inserted, %d errors\n", inserted, errs)
}

func insertGame(ctx context.Context, pool *pgxpool.Pool, d models.Difficulty) (string, error) {
	board, err := json.Marshal(engine.Generate(d.Rows, d.Cols, d.Mines))
	if err != nil {
		return "", fmt.Errorf("marshal board: %w", err)
	}

	id := uuid.New().String()
	_, err = pool.Exec(ctx, `
        INSERT INTO games (id, rows, cols, mines, board, game_status, player_scores)
        VALUES ($1, $2, $3, $4, $5, $6, '{}'::jsonb)
    `, id, d.Rows, d.Cols, d.Mines, board, string(models.GameStatusPlaying))
	if err != nil {
		return "", err
	}
	return id, nil
}
