// internal/message/codec.go
// Binary encoding of messages: a one-byte type tag followed by a variant-specific payload.
//
// Strings are a uvarint length followed by UTF-8 bytes. A cell is
//
//	row:int32 | col:int32 | owner:string | color:int8 | time:int64
//
// with fixed-width integers in big-endian order. A snapshot is
//
//	width:uint32 | height:uint32 | count:uint32 | count x cell
package message

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/erilali/place/internal/board"
	"github.com/pkg/errors"
)

const (
	// MaxStringLen bounds identities and free text.
	MaxStringLen = 4096

	// MaxOwnerLen bounds the owner of a cell in bytes.
	MaxOwnerLen = 128

	// MaxCells bounds the number of cells in a snapshot.
	MaxCells = 1 << 22

	// MaxCellSize is the encoded size of a cell whose owner is MaxOwnerLen bytes long.
	// The length prefix of such an owner takes two bytes.
	MaxCellSize = 4 + 4 + 2 + MaxOwnerLen + 1 + 8

	// SnapshotHeaderSize is the encoded size of a snapshot without cells, tag included.
	SnapshotHeaderSize = 1 + 4 + 4 + 4

	// minCellSize is the encoded size of a cell with an empty owner.
	minCellSize = 4 + 4 + 1 + 1 + 8
)

// Codec errors.
var (
	ErrUnknownType      = errors.New("message: unknown type")
	ErrTrailingBytes    = errors.New("message: trailing bytes after payload")
	ErrStringTooLong    = errors.New("message: string exceeds limit")
	ErrTooManyCells     = errors.New("message: snapshot exceeds cell limit")
	ErrVarintOverflow   = errors.New("message: varint overflow")
	ErrCoordinateRange  = errors.New("message: coordinate does not fit int32")
	ErrInvalidDimension = errors.New("message: invalid snapshot dimensions")
)

// Encode serializes m.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("message: encode nil message")
	}
	e := &encoder{buf: make([]byte, 0, 64)}
	e.writeByte(byte(m.Type()))
	switch v := m.(type) {
	case Login:
		e.writeString(v.Identity)
	case LoginAccepted:
		e.writeString(v.Text)
	case LoginRejected:
		e.writeString(v.Reason)
	case ChangeRejected:
		e.writeString(v.Reason)
	case ChangeRequest:
		e.writeCell(v.Cell)
	case ChangeBroadcast:
		e.writeCell(v.Cell)
	case GridSnapshot:
		if v.Width < 1 || v.Height < 1 || uint64(v.Width)*uint64(v.Height) > MaxCells {
			return nil, ErrInvalidDimension
		}
		if len(v.Cells) > MaxCells {
			return nil, ErrTooManyCells
		}
		e.grow(12 + len(v.Cells)*(minCellSize+8))
		e.writeUint32(uint32(v.Width))
		e.writeUint32(uint32(v.Height))
		e.writeUint32(uint32(len(v.Cells)))
		for _, c := range v.Cells {
			e.writeCell(c)
		}
	default:
		return nil, errors.Wrapf(ErrUnknownType, "encode %T", m)
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

// Decode parses exactly one message from b.
func Decode(b []byte) (Message, error) {
	d := &decoder{buf: b}
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	var m Message
	switch Type(tag) {
	case TypeLogin:
		s, err := d.readString()
		if err != nil {
			return nil, err
		}
		m = Login{Identity: s}
	case TypeLoginAccepted:
		s, err := d.readString()
		if err != nil {
			return nil, err
		}
		m = LoginAccepted{Text: s}
	case TypeLoginRejected:
		s, err := d.readString()
		if err != nil {
			return nil, err
		}
		m = LoginRejected{Reason: s}
	case TypeChangeRejected:
		s, err := d.readString()
		if err != nil {
			return nil, err
		}
		m = ChangeRejected{Reason: s}
	case TypeChangeRequest:
		c, err := d.readCell()
		if err != nil {
			return nil, err
		}
		m = ChangeRequest{Cell: c}
	case TypeChangeBroadcast:
		c, err := d.readCell()
		if err != nil {
			return nil, err
		}
		m = ChangeBroadcast{Cell: c}
	case TypeGridSnapshot:
		snap, err := d.readSnapshot()
		if err != nil {
			return nil, err
		}
		m = snap
	default:
		return nil, errors.Wrapf(ErrUnknownType, "tag 0x%02x", tag)
	}
	if d.remaining() != 0 {
		return nil, ErrTrailingBytes
	}
	return m, nil
}

type encoder struct {
	buf []byte
	err error
}

func (e *encoder) grow(n int) {
	if cap(e.buf)-len(e.buf) < n {
		nb := make([]byte, len(e.buf), len(e.buf)+n)
		copy(nb, e.buf)
		e.buf = nb
	}
}

func (e *encoder) writeByte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *encoder) writeUvarint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

func (e *encoder) writeUint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *encoder) writeInt32(v int) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		e.err = ErrCoordinateRange
		return
	}
	e.writeUint32(uint32(int32(v)))
}

func (e *encoder) writeInt64(v int64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v))
}

func (e *encoder) writeString(s string) {
	if len(s) > MaxStringLen {
		e.err = ErrStringTooLong
		return
	}
	e.writeUvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) writeCell(c board.Cell) {
	if len(c.Owner) > MaxOwnerLen {
		e.err = ErrStringTooLong
		return
	}
	e.writeInt32(c.Row)
	e.writeInt32(c.Col)
	e.writeString(c.Owner)
	e.writeByte(byte(c.Color))
	e.writeInt64(c.Time)
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.pos
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	switch {
	case n == 0:
		return 0, io.ErrUnexpectedEOF
	case n < 0:
		return 0, ErrVarintOverflow
	}
	d.pos += n
	return v, nil
}

func (d *decoder) readUint32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) readInt32() (int, error) {
	v, err := d.readUint32()
	if err != nil {
		return 0, err
	}
	return int(int32(v)), nil
}

func (d *decoder) readInt64() (int64, error) {
	if d.remaining() < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return int64(v), nil
}

func (d *decoder) readString() (string, error) {
	n, err := d.readUvarint()
	if err != nil {
		return "", err
	}
	if n > MaxStringLen {
		return "", ErrStringTooLong
	}
	if n > uint64(d.remaining()) {
		return "", io.ErrUnexpectedEOF
	}
	s := string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

func (d *decoder) readCell() (board.Cell, error) {
	var c board.Cell
	var err error
	if c.Row, err = d.readInt32(); err != nil {
		return c, err
	}
	if c.Col, err = d.readInt32(); err != nil {
		return c, err
	}
	if c.Owner, err = d.readString(); err != nil {
		return c, err
	}
	if len(c.Owner) > MaxOwnerLen {
		return c, ErrStringTooLong
	}
	color, err := d.readByte()
	if err != nil {
		return c, err
	}
	c.Color = board.Color(color)
	if c.Time, err = d.readInt64(); err != nil {
		return c, err
	}
	return c, nil
}

func (d *decoder) readSnapshot() (GridSnapshot, error) {
	width, err := d.readUint32()
	if err != nil {
		return GridSnapshot{}, err
	}
	height, err := d.readUint32()
	if err != nil {
		return GridSnapshot{}, err
	}
	count, err := d.readUint32()
	if err != nil {
		return GridSnapshot{}, err
	}
	if width == 0 || height == 0 || uint64(width)*uint64(height) > MaxCells {
		return GridSnapshot{}, ErrInvalidDimension
	}
	if count > MaxCells || uint64(count) > uint64(width)*uint64(height) {
		return GridSnapshot{}, ErrTooManyCells
	}
	// every cell needs at least minCellSize bytes, so a lying count cannot force a large allocation
	if uint64(count)*minCellSize > uint64(d.remaining()) {
		return GridSnapshot{}, io.ErrUnexpectedEOF
	}
	snap := GridSnapshot{
		Width:  int(width),
		Height: int(height),
		Cells:  make([]board.Cell, 0, count),
	}
	for i := uint32(0); i < count; i++ {
		c, err := d.readCell()
		if err != nil {
			return GridSnapshot{}, err
		}
		snap.Cells = append(snap.Cells, c)
	}
	return snap, nil
}
