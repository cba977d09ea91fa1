package engine

import (
	"math/rand/v2"

	"github.com/mcdev12/coopsweeper/go/internal/models"
)

// maxAttemptsPerCell bounds rejection sampling to maxAttemptsPerCell * rows * cols draws.
const maxAttemptsPerCell = 16

type generatorConfig struct {
	rng *rand.Rand
}

// Option configures Generate.
type Option func(*generatorConfig)

// WithRand sets the random source used for mine placement.
func WithRand(rng *rand.Rand) Option {
	return func(c *generatorConfig) {
		c.rng = rng
	}
}

// Generate builds a board with exactly mineCount mines and fills in neighbor counts.
// Rows and cols below 1 are raised to 1 and mineCount is clamped into [0, rows*cols-1].
func Generate(rows, cols, mineCount int, opts ...Option) *models.Board {
	cfg := &generatorConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.rng == nil {
		cfg.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	board := models.NewBoard(rows, cols)
	mineCount = min(max(mineCount, 0), board.Size()-1)

	placeMines(board, mineCount, cfg.rng)
	calculateNeighbors(board)

	return board
}

func placeMines(b *models.Board, count int, rng *rand.Rand) {
	placed := 0
	for attempts := maxAttemptsPerCell * b.Size(); placed < count && attempts > 0; attempts-- {
		cell := b.At(rng.IntN(b.Rows()), rng.IntN(b.Cols()))
		if !cell.IsMine {
			cell.IsMine = true
			placed++
		}
	}

	// Out of attempts: fill the first free cells in row-major order.
	b.Each(func(_, _ int, cell *models.Cell) {
		if placed < count && !cell.IsMine {
			cell.IsMine = true
			placed++
		}
	})
}

func calculateNeighbors(b *models.Board) {
	b.Each(func(row, col int, cell *models.Cell) {
		if cell.IsMine {
			return
		}
		count := 0
		for _, n := range b.Neighbors(row, col) {
			if b.At(n.Row, n.Col).IsMine {
				count++
			}
		}
		cell.NeighborMineCount = count
	})
}
