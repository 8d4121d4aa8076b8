package board

import "github.com/pkg/errors"

// ErrOutOfBounds indicates a coordinate outside the grid dimensions.
var ErrOutOfBounds = errors.New("board: coordinate out of bounds")

// ErrInvalidColor indicates a color index outside the palette.
var ErrInvalidColor = errors.New("board: invalid color index")

// ErrInvalidDimensions indicates a grid was requested with a non-positive size.
var ErrInvalidDimensions = errors.New("board: dimensions must be at least 1")
