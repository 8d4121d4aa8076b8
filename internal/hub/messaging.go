// internal/hub/messaging.go
package hub

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/erilali/place/internal/board"
	"github.com/erilali/place/internal/message"
	"github.com/pkg/errors"
)

// MaxIdentityLen is the longest identity accepted at login, in runes.
// Identities become cell owners, so they also stay within message.MaxOwnerLen bytes.
const MaxIdentityLen = 32

var (
	errEmptyIdentity   = errors.New("identity must not be empty")
	errLongIdentity    = fmt.Errorf("identity must be valid UTF-8 of at most %d characters", MaxIdentityLen)
	errIdentityCharset = errors.New("identity must not contain control characters")
)

// validateIdentity checks the login name: non-blank, bounded, printable.
// Interior spaces are allowed.
func validateIdentity(identity string) error {
	if strings.TrimSpace(identity) == "" {
		return errEmptyIdentity
	}
	if !utf8.ValidString(identity) || utf8.RuneCountInString(identity) > MaxIdentityLen ||
		len(identity) > message.MaxOwnerLen {
		return errLongIdentity
	}
	for _, r := range identity {
		if !unicode.IsPrint(r) {
			return errIdentityCharset
		}
	}
	return nil
}

// validateChange checks a client-supplied cell against the grid and palette.
func (h *Hub) validateChange(cell board.Cell) error {
	if !h.Grid.Contains(cell.Row, cell.Col) {
		return errors.Wrapf(board.ErrOutOfBounds, "(%d, %d) outside %dx%d grid",
			cell.Row, cell.Col, h.Grid.Width(), h.Grid.Height())
	}
	if !cell.Color.Valid() {
		return errors.Wrapf(board.ErrInvalidColor, "color %d", cell.Color)
	}
	return nil
}

// greeting builds the handshake reply. It runs under the registry lock, so
// the snapshot is consistent with every broadcast the new member will see.
func (h *Hub) greeting(identity string) func() []message.Message {
	return func() []message.Message {
		return []message.Message{
			message.LoginAccepted{Text: fmt.Sprintf("User %s successfully logged in.", identity)},
			message.SnapshotOf(h.Grid),
		}
	}
}

// rejectLogin queues a LoginRejected for c.
func rejectLogin(c *Client, reason string) {
	_ = c.Deliver(message.LoginRejected{Reason: reason})
}

// rejectChange queues a ChangeRejected for c.
func rejectChange(c *Client, err error) {
	_ = c.Deliver(message.ChangeRejected{Reason: err.Error()})
}
