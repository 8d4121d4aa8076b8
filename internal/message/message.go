// internal/message/message.go
// Contains the messages exchanged between clients and the server.
package message

import (
	"github.com/erilali/place/internal/board"
	"github.com/pkg/errors"
)

// ErrProtocolViolation indicates a message variant that is not allowed in the current state.
var ErrProtocolViolation = errors.New("protocol violation")

// Type identifies a message variant on the wire.
type Type uint8

const (
	TypeLogin           Type = 0x01 // client -> server
	TypeLoginAccepted   Type = 0x02 // server -> client
	TypeLoginRejected   Type = 0x03 // server -> client
	TypeGridSnapshot    Type = 0x04 // server -> client
	TypeChangeRequest   Type = 0x05 // client -> server
	TypeChangeBroadcast Type = 0x06 // server -> all clients
	TypeChangeRejected  Type = 0x07 // server -> client
)

// String returns the string representation of the message type.
func (t Type) String() string {
	switch t {
	case TypeLogin:
		return "Login"
	case TypeLoginAccepted:
		return "LoginAccepted"
	case TypeLoginRejected:
		return "LoginRejected"
	case TypeGridSnapshot:
		return "GridSnapshot"
	case TypeChangeRequest:
		return "ChangeRequest"
	case TypeChangeBroadcast:
		return "ChangeBroadcast"
	case TypeChangeRejected:
		return "ChangeRejected"
	default:
		return "Unknown"
	}
}

// Message is one of the variants below. The Type fully determines the payload.
type Message interface {
	Type() Type
}

// Login asks the server to admit Identity.
type Login struct {
	Identity string
}

// LoginAccepted confirms a login.
type LoginAccepted struct {
	Text string
}

// LoginRejected refuses a login; the server closes the connection right after.
type LoginRejected struct {
	Reason string
}

// GridSnapshot carries the whole grid in row-major order.
type GridSnapshot struct {
	Width  int
	Height int
	Cells  []board.Cell
}

// ChangeRequest proposes a new cell.
type ChangeRequest struct {
	Cell board.Cell
}

// ChangeBroadcast announces an accepted cell to every client.
type ChangeBroadcast struct {
	Cell board.Cell
}

// ChangeRejected tells a client its change request was not applied.
type ChangeRejected struct {
	Reason string
}

func (Login) Type() Type           { return TypeLogin }
func (LoginAccepted) Type() Type   { return TypeLoginAccepted }
func (LoginRejected) Type() Type   { return TypeLoginRejected }
func (GridSnapshot) Type() Type    { return TypeGridSnapshot }
func (ChangeRequest) Type() Type   { return TypeChangeRequest }
func (ChangeBroadcast) Type() Type { return TypeChangeBroadcast }
func (ChangeRejected) Type() Type  { return TypeChangeRejected }

// SnapshotOf captures g as a GridSnapshot.
func SnapshotOf(g *board.Grid) GridSnapshot {
	return GridSnapshot{
		Width:  g.Width(),
		Height: g.Height(),
		Cells:  g.Snapshot(),
	}
}

// Unexpected wraps ErrProtocolViolation with the variant that was received.
func Unexpected(got Message, want ...Type) error {
	name := "nil"
	if got != nil {
		name = got.Type().String()
	}
	if len(want) == 0 {
		return errors.Wrapf(ErrProtocolViolation, "unexpected %s", name)
	}
	return errors.Wrapf(ErrProtocolViolation, "expected %s, got %s", want[0], name)
}
