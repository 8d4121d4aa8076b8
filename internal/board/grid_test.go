package board

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGridDefaults(t *testing.T) {
	g, err := NewSquareGrid(3)
	require.NoError(t, err)
	require.Equal(t, 3, g.Width())
	require.Equal(t, 3, g.Height())
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			c, err := g.Get(row, col)
			require.NoError(t, err)
			assert.Equal(t, Cell{Row: row, Col: col, Color: DefaultColor}, c)
		}
	}
}

func TestNewGridRejectsBadDimensions(t *testing.T) {
	_, err := NewSquareGrid(0)
	require.ErrorIs(t, err, ErrInvalidDimensions)
	_, err = NewGrid(4, -1)
	require.ErrorIs(t, err, ErrInvalidDimensions)
}

func TestSetThenGet(t *testing.T) {
	g, err := NewGrid(4, 2)
	require.NoError(t, err)
	for row := 0; row < 2; row++ {
		for col := 0; col < 4; col++ {
			cell := Cell{Row: row, Col: col, Owner: "alice", Color: Color((row*4 + col) % NumColors), Time: 42}
			require.NoError(t, g.Set(cell))
			got, err := g.Get(row, col)
			require.NoError(t, err)
			require.Equal(t, cell, got)
		}
	}
}

func TestOutOfBounds(t *testing.T) {
	g, err := NewGrid(3, 2)
	require.NoError(t, err)
	cases := []struct{ row, col int }{
		{-1, 0}, {0, -1}, {2, 0}, {0, 3}, {5, 5},
	}
	for _, tc := range cases {
		_, err := g.Get(tc.row, tc.col)
		assert.ErrorIs(t, err, ErrOutOfBounds, "get %d,%d", tc.row, tc.col)
		err = g.Set(Cell{Row: tc.row, Col: tc.col, Color: Red})
		assert.ErrorIs(t, err, ErrOutOfBounds, "set %d,%d", tc.row, tc.col)
	}
	// nothing changed
	for _, c := range g.Snapshot() {
		assert.Equal(t, DefaultColor, c.Color)
	}
}

func TestReplaceInstallsSnapshot(t *testing.T) {
	src, err := NewSquareGrid(2)
	require.NoError(t, err)
	require.NoError(t, src.Set(Cell{Row: 1, Col: 0, Owner: "bob", Color: Navy, Time: 7}))

	mirror, err := NewSquareGrid(1)
	require.NoError(t, err)
	require.NoError(t, mirror.Replace(src.Width(), src.Height(), src.Snapshot()))
	require.Equal(t, src.Snapshot(), mirror.Snapshot())
	require.Equal(t, "3 3\nC 3\n", mirror.String())
}

func TestConcurrentSetsAreSafe(t *testing.T) {
	g, err := NewSquareGrid(8)
	require.NoError(t, err)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(row int) {
			defer wg.Done()
			for col := 0; col < 8; col++ {
				_ = g.Set(Cell{Row: row, Col: col, Color: Color(row)})
				_ = g.Snapshot()
			}
		}(i)
	}
	wg.Wait()
	for _, c := range g.Snapshot() {
		require.Equal(t, Color(c.Row), c.Color)
	}
}
