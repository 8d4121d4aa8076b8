// internal/board/palette.go
// Defines the fixed color palette every cell is painted from.
package board

import "fmt"

// Color is an index into the fixed palette.
type Color uint8

const (
	Black Color = iota
	Gray
	Silver
	White
	Maroon
	Red
	Olive
	Yellow
	Green
	Lime
	Teal
	Aqua
	Navy
	Blue
	Purple
	Fuchsia
)

// NumColors is the size of the palette.
const NumColors = 16

// DefaultColor is the color every cell holds before anyone paints it.
const DefaultColor = White

type paletteEntry struct {
	name    string
	r, g, b uint8
}

var palette = [NumColors]paletteEntry{
	Black:   {"black", 0, 0, 0},
	Gray:    {"gray", 128, 128, 128},
	Silver:  {"silver", 192, 192, 192},
	White:   {"white", 255, 255, 255},
	Maroon:  {"maroon", 128, 0, 0},
	Red:     {"red", 255, 0, 0},
	Olive:   {"olive", 128, 128, 0},
	Yellow:  {"yellow", 255, 255, 0},
	Green:   {"green", 0, 128, 0},
	Lime:    {"lime", 0, 255, 0},
	Teal:    {"teal", 0, 128, 128},
	Aqua:    {"aqua", 0, 255, 255},
	Navy:    {"navy", 0, 0, 128},
	Blue:    {"blue", 0, 0, 255},
	Purple:  {"purple", 128, 0, 128},
	Fuchsia: {"fuchsia", 255, 0, 255},
}

// ParseColor converts a palette index into a Color.
// It returns ErrInvalidColor for anything outside 0..NumColors-1.
func ParseColor(index int) (Color, error) {
	if index < 0 || index >= NumColors {
		return 0, ErrInvalidColor
	}
	return Color(index), nil
}

// Valid reports whether c is part of the palette.
func (c Color) Valid() bool {
	return int(c) < NumColors
}

// Name returns the human-readable color name.
func (c Color) Name() string {
	if !c.Valid() {
		return "unknown"
	}
	return palette[c].name
}

// RGB returns the red, green and blue components.
func (c Color) RGB() (r, g, b uint8) {
	if !c.Valid() {
		return 0, 0, 0
	}
	p := palette[c]
	return p.r, p.g, p.b
}

// Hex returns the color as #rrggbb.
func (c Color) Hex() string {
	r, g, b := c.RGB()
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

func (c Color) String() string {
	return c.Name()
}

// Palette returns every color in index order.
func Palette() []Color {
	out := make([]Color, NumColors)
	for i := range out {
		out[i] = Color(i)
	}
	return out
}
