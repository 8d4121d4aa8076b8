// Package console is the plain-text front end of the client: it reads
// "row col color" commands and prints the board after every update.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/erilali/place/internal/board"
	"github.com/pkg/errors"
)

// QuitCommand ends the console session.
const QuitCommand = "-1"

// Session is the part of a client session the console drives.
type Session interface {
	Change(ctx context.Context, row, col, color int) error
	Grid() *board.Grid
	Close() error
}

// Console renders a session's mirror and feeds it user commands.
type Console struct {
	session Session
	in      io.Reader

	mu  sync.Mutex
	out io.Writer
}

// New creates a Console.
func New(session Session, in io.Reader, out io.Writer) *Console {
	return &Console{session: session, in: in, out: out}
}

// Intro prints the palette legend, the current board and the usage line.
func (c *Console) Intro(welcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if welcome != "" {
		fmt.Fprintln(c.out, welcome)
	}
	fmt.Fprintln(c.out, "Colors:")
	for _, col := range board.Palette() {
		fmt.Fprintf(c.out, "  %2d %-8s %s\n", int(col), col.Name(), col.Hex())
	}
	if g := c.session.Grid(); g != nil {
		fmt.Fprint(c.out, g.String())
	}
	fmt.Fprintln(c.out, "You may change tiles by entering three integers: [row] [column] [color]")
}

// Changed prints the board after a broadcast. It is meant to be passed to client.OnChange.
func (c *Console) Changed(cell board.Cell) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s painted (%d, %d) %s\n", cell.Owner, cell.Row, cell.Col, cell.Color.Name())
	if g := c.session.Grid(); g != nil {
		fmt.Fprint(c.out, g.String())
	}
}

// Rejected reports a change the server refused. It is meant to be passed to client.OnReject.
func (c *Console) Rejected(reason string) {
	c.printf("Change rejected: %s\n", reason)
}

// Run reads commands until the quit command, end of input, or the session
// closing. Malformed commands are reported and skipped.
func (c *Console) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if fields[0] == QuitCommand {
			c.printf("Shutting down...\n")
			return c.session.Close()
		}
		row, col, color, err := parseCommand(fields)
		if err != nil {
			c.printf("Unrecognizable command. Usage: [row] [col] [color]\n")
			continue
		}
		err = c.session.Change(ctx, row, col, color)
		switch {
		case err == nil:
		case errors.Is(err, board.ErrOutOfBounds):
			c.printf("Argument out of bounds. Row and Column can only be 0-%d\n", c.maxIndex())
		case errors.Is(err, board.ErrInvalidColor):
			c.printf("Unrecognizable color. Enter only numbers 0-%d.\n", board.NumColors-1)
		default:
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read input failed")
	}
	return c.session.Close()
}

func (c *Console) maxIndex() int {
	g := c.session.Grid()
	if g == nil {
		return 0
	}
	return g.Height() - 1
}

func (c *Console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func parseCommand(fields []string) (row, col, color int, err error) {
	if len(fields) != 3 {
		return 0, 0, 0, errors.New("want three integers")
	}
	var vals [3]int
	for i, f := range fields {
		if vals[i], err = strconv.Atoi(f); err != nil {
			return 0, 0, 0, errors.Wrapf(err, "parse %q failed", f)
		}
	}
	return vals[0], vals[1], vals[2], nil
}
