// internal/board/grid.go
// Provides the Cell value type and the Grid holding the most recent Cell at every position.
package board

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Cell is one grid position's color, the identity that painted it and when.
// Cells are values; a change is always a new Cell.
type Cell struct {
	Row   int
	Col   int
	Owner string
	Color Color
	Time  int64 // unix milliseconds, advisory only
}

// NewCell builds a Cell stamped with the current time.
func NewCell(row, col int, owner string, color Color) Cell {
	return Cell{
		Row:   row,
		Col:   col,
		Owner: owner,
		Color: color,
		Time:  time.Now().UnixMilli(),
	}
}

// String renders the cell the way the original board tooltips did.
func (c Cell) String() string {
	if c.Owner == "" {
		return fmt.Sprintf("(%d, %d) %s", c.Row, c.Col, c.Color.Name())
	}
	return fmt.Sprintf("(%d, %d) %s by %s at %s", c.Row, c.Col, c.Color.Name(), c.Owner,
		time.UnixMilli(c.Time).Format(time.RFC3339))
}

// Grid is a fixed Width x Height array of cells. It is safe for concurrent use.
type Grid struct {
	mu     sync.RWMutex
	width  int
	height int
	cells  []Cell
}

// NewGrid creates a grid where every cell holds DefaultColor and no owner.
func NewGrid(width, height int) (*Grid, error) {
	if width < 1 || height < 1 {
		return nil, ErrInvalidDimensions
	}
	g := &Grid{}
	g.reset(width, height, nil)
	return g, nil
}

// NewSquareGrid creates a dim x dim grid.
func NewSquareGrid(dim int) (*Grid, error) {
	return NewGrid(dim, dim)
}

func (g *Grid) reset(width, height int, cells []Cell) {
	g.width = width
	g.height = height
	g.cells = make([]Cell, width*height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			g.cells[row*width+col] = Cell{Row: row, Col: col, Color: DefaultColor}
		}
	}
	for _, c := range cells {
		if g.contains(c.Row, c.Col) {
			g.cells[c.Row*width+c.Col] = c
		}
	}
}

// Width returns the number of columns.
func (g *Grid) Width() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.width
}

// Height returns the number of rows.
func (g *Grid) Height() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.height
}

// Contains reports whether (row, col) lies inside the grid.
func (g *Grid) Contains(row, col int) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.contains(row, col)
}

func (g *Grid) contains(row, col int) bool {
	return row >= 0 && row < g.height && col >= 0 && col < g.width
}

// Get returns the cell at (row, col).
func (g *Grid) Get(row, col int) (Cell, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.contains(row, col) {
		return Cell{}, ErrOutOfBounds
	}
	return g.cells[row*g.width+col], nil
}

// Set overwrites the cell at (cell.Row, cell.Col). Color and owner are not validated.
func (g *Grid) Set(cell Cell) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.contains(cell.Row, cell.Col) {
		return ErrOutOfBounds
	}
	g.cells[cell.Row*g.width+cell.Col] = cell
	return nil
}

// Snapshot returns a row-major copy of every cell.
func (g *Grid) Snapshot() []Cell {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Cell, len(g.cells))
	copy(out, g.cells)
	return out
}

// Replace overwrites the whole grid, dimensions included. Cells outside the new
// dimensions are ignored; positions with no cell keep the default.
func (g *Grid) Replace(width, height int, cells []Cell) error {
	if width < 1 || height < 1 {
		return ErrInvalidDimensions
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reset(width, height, cells)
	return nil
}

// String renders one line per row with each cell's palette index in hex.
func (g *Grid) String() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var sb strings.Builder
	for row := 0; row < g.height; row++ {
		for col := 0; col < g.width; col++ {
			if col > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%X", uint8(g.cells[row*g.width+col].Color))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
