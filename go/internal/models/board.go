package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Cell is one board position.
type Cell struct {
	IsMine            bool      `json:"isMine"`
	IsRevealed        bool      `json:"isRevealed"`
	IsFlagged         bool      `json:"isFlagged"`
	NeighborMineCount int       `json:"neighborMineCount"`
	RevealedBy        *PlayerID `json:"revealedBy"`
}

// Board is a fixed rows x cols grid of cells stored row-major.
type Board struct {
	rows  int
	cols  int
	cells []Cell
}

// NewBoard allocates a board of default cells. Dimensions below 1 are raised to 1.
func NewBoard(rows, cols int) *Board {
	rows = max(rows, 1)
	cols = max(cols, 1)
	return &Board{
		rows:  rows,
		cols:  cols,
		cells: make([]Cell, rows*cols),
	}
}

// Rows returns the number of rows.
func (b *Board) Rows() int { return b.rows }

// Cols returns the number of columns.
func (b *Board) Cols() int { return b.cols }

// Size returns the number of cells.
func (b *Board) Size() int { return len(b.cells) }

// InBounds reports whether (row, col) lies on the board.
func (b *Board) InBounds(row, col int) bool {
	return row >= 0 && row < b.rows && col >= 0 && col < b.cols
}

// At returns a pointer to the cell at (row, col), or nil when out of bounds.
func (b *Board) At(row, col int) *Cell {
	if !b.InBounds(row, col) {
		return nil
	}
	return &b.cells[row*b.cols+col]
}

// Set replaces the cell at (row, col). It returns false when out of bounds.
func (b *Board) Set(row, col int, c Cell) bool {
	if !b.InBounds(row, col) {
		return false
	}
	b.cells[row*b.cols+col] = c
	return true
}

// Pos is a board coordinate.
type Pos struct {
	Row int
	Col int
}

// Neighbors returns the in-bounds Chebyshev-adjacent positions of (row, col).
func (b *Board) Neighbors(row, col int) []Pos {
	out := make([]Pos, 0, 8)
	for r := row - 1; r <= row+1; r++ {
		for c := col - 1; c <= col+1; c++ {
			if (r == row && c == col) || !b.InBounds(r, c) {
				continue
			}
			out = append(out, Pos{Row: r, Col: c})
		}
	}
	return out
}

// Count returns the number of cells matching pred.
func (b *Board) Count(pred func(Cell) bool) int {
	n := 0
	for _, c := range b.cells {
		if pred(c) {
			n++
		}
	}
	return n
}

// Each calls fn for every cell in row-major order with a mutable pointer.
func (b *Board) Each(fn func(row, col int, c *Cell)) {
	for i := range b.cells {
		fn(i/b.cols, i%b.cols, &b.cells[i])
	}
}

// Clone returns a deep copy of the board.
func (b *Board) Clone() *Board {
	cp := &Board{
		rows:  b.rows,
		cols:  b.cols,
		cells: make([]Cell, len(b.cells)),
	}
	copy(cp.cells, b.cells)
	for i := range cp.cells {
		if by := cp.cells[i].RevealedBy; by != nil {
			id := *by
			cp.cells[i].RevealedBy = &id
		}
	}
	return cp
}

// MarshalJSON encodes the board as rows of cells.
func (b *Board) MarshalJSON() ([]byte, error) {
	grid := make([][]Cell, b.rows)
	for r := range grid {
		grid[r] = b.cells[r*b.cols : (r+1)*b.cols]
	}
	return json.Marshal(grid)
}

// UnmarshalJSON decodes rows of cells. Rows must be non-empty and of equal length.
func (b *Board) UnmarshalJSON(data []byte) error {
	var grid [][]Cell
	if err := json.Unmarshal(data, &grid); err != nil {
		return err
	}
	if len(grid) == 0 || len(grid[0]) == 0 {
		return fmt.Errorf("board must have at least one row and column")
	}
	cols := len(grid[0])
	cells := make([]Cell, 0, len(grid)*cols)
	for i, row := range grid {
		if len(row) != cols {
			return fmt.Errorf("board row %d has %d cells, expected %d", i, len(row), cols)
		}
		cells = append(cells, row...)
	}
	b.rows = len(grid)
	b.cols = cols
	b.cells = cells
	return nil
}

// String renders the board for debugging: "-" hidden, "F" flagged, "*" mine, "." empty.
func (b *Board) String() string {
	var sb strings.Builder
	for r := 0; r < b.rows; r++ {
		for c := 0; c < b.cols; c++ {
			cell := b.cells[r*b.cols+c]
			switch {
			case cell.IsRevealed && cell.IsMine:
				sb.WriteByte('*')
			case cell.IsFlagged:
				sb.WriteByte('F')
			case !cell.IsRevealed:
				sb.WriteByte('-')
			case cell.NeighborMineCount == 0:
				sb.WriteByte('.')
			default:
				sb.WriteByte(byte('0' + cell.NeighborMineCount))
			}
			if c < b.cols-1 {
				sb.WriteByte(' ')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
