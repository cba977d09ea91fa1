package engine

import (
	"github.com/mcdev12/coopsweeper/go/internal/models"
)

// Outcome is the result of a reveal attempt. When Committed is false the
// fields hold the unchanged inputs.
type Outcome struct {
	Board     *models.Board
	Status    models.GameStatus
	Scores    models.PlayerScores
	Committed bool
	// Revealed lists cells whose IsRevealed flipped from false to true, in reveal order.
	Revealed []models.Pos
}

// Reveal applies one player's reveal at (row, col). Inputs are never mutated.
//
// A reveal is rejected when the game is not playing, the target is off the
// board, or the target is already revealed or flagged. A mine ends the game
// and exposes every mine. A safe cell scores one point, and a zero-count cell
// flood fills its connected zero region plus that region's numbered border,
// scoring one point per cell. Once every safe cell is revealed the game is won
// and all mines are flagged.
func Reveal(board *models.Board, status models.GameStatus, scores models.PlayerScores, row, col int, player models.PlayerID) Outcome {
	rejected := Outcome{Board: board, Status: status, Scores: scores}

	if status != models.GameStatusPlaying {
		return rejected
	}
	target := board.At(row, col)
	if target == nil || target.IsRevealed || target.IsFlagged {
		return rejected
	}

	next := board.Clone()
	nextScores := scores.Clone()
	if _, ok := nextScores[player]; !ok {
		nextScores[player] = 0
	}
	out := Outcome{
		Board:     next,
		Status:    status,
		Scores:    nextScores,
		Committed: true,
	}

	cell := next.At(row, col)
	revealCell(cell, player)
	out.Revealed = append(out.Revealed, models.Pos{Row: row, Col: col})

	if cell.IsMine {
		out.Status = models.GameStatusGameOver
		next.Each(func(_, _ int, c *models.Cell) {
			if c.IsMine {
				c.IsRevealed = true
			}
		})
		return out
	}

	nextScores[player]++
	if cell.NeighborMineCount == 0 {
		out.Revealed = append(out.Revealed, floodFill(next, nextScores, row, col, player)...)
	}

	if allSafeRevealed(next) {
		out.Status = models.GameStatusWin
		next.Each(func(_, _ int, c *models.Cell) {
			if c.IsMine {
				c.IsFlagged = true
			}
		})
	}
	return out
}

// RevealSnapshot runs Reveal against a snapshot. The returned snapshot keeps
// the input's Version and UpdatedAt; the store assigns new ones on save.
func RevealSnapshot(snap models.Snapshot, row, col int, player models.PlayerID) (models.Snapshot, bool) {
	if snap.Board == nil {
		return snap, false
	}
	out := Reveal(snap.Board, snap.Status, snap.PlayerScores, row, col, player)
	if !out.Committed {
		return snap, false
	}
	next := snap
	next.Board = out.Board
	next.Status = out.Status
	next.PlayerScores = out.Scores
	return next, true
}

func revealCell(c *models.Cell, player models.PlayerID) {
	c.IsRevealed = true
	id := player
	c.RevealedBy = &id
}

// floodFill expands from a zero-count origin using an explicit worklist.
func floodFill(b *models.Board, scores models.PlayerScores, row, col int, player models.PlayerID) []models.Pos {
	var revealed []models.Pos
	queue := []models.Pos{{Row: row, Col: col}}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, n := range b.Neighbors(p.Row, p.Col) {
			c := b.At(n.Row, n.Col)
			if c.IsRevealed || c.IsFlagged || c.IsMine {
				continue
			}
			revealCell(c, player)
			scores[player]++
			revealed = append(revealed, n)
			if c.NeighborMineCount == 0 {
				queue = append(queue, n)
			}
		}
	}
	return revealed
}

func allSafeRevealed(b *models.Board) bool {
	return b.Count(func(c models.Cell) bool {
		return !c.IsMine && !c.IsRevealed
	}) == 0
}
