package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

const (
	headerSize = 8 // type (int32) + payload length (int32).

	MaxPayloadSize  = 8 * 1024 * 1024
	MaxStringLength = 1<<16 - 1
)

var (
	ErrFrameTooLarge     = errors.New("frame too large")
	ErrProtocolViolation = errors.New("protocol violation")
)

// Encode builds the frame carrying cmd under the given request id.
func Encode(requestId int64, cmd Command) ([]byte, error) {
	e := &encoder{buf: make([]byte, headerSize, 64)}
	if cmd.Type() != TypeKeepAlive {
		e.putInt64(requestId)
	}
	cmd.encode(e)
	if e.err != nil {
		return nil, e.err
	}

	payloadSize := len(e.buf) - headerSize
	if payloadSize > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrFrameTooLarge, payloadSize, MaxPayloadSize)
	}
	binary.BigEndian.PutUint32(e.buf[0:4], uint32(cmd.Type()))
	binary.BigEndian.PutUint32(e.buf[4:8], uint32(payloadSize))
	return e.buf, nil
}

// Decode parses a complete frame, returning the command and its request id.
// KeepAlive frames carry no request id and decode with id 0.
func Decode(frame []byte) (Command, int64, error) {
	if len(frame) < headerSize {
		return nil, 0, fmt.Errorf("%w: frame of %d bytes is shorter than its header", ErrProtocolViolation, len(frame))
	}

	typ := CommandType(int32(binary.BigEndian.Uint32(frame[0:4])))
	payloadSize := int32(binary.BigEndian.Uint32(frame[4:8]))
	if err := checkPayloadSize(payloadSize); err != nil {
		return nil, 0, err
	}
	if int(payloadSize) != len(frame)-headerSize {
		return nil, 0, fmt.Errorf("%w: header declares %d payload bytes, frame has %d",
			ErrProtocolViolation, payloadSize, len(frame)-headerSize)
	}

	d := &decoder{buf: frame[headerSize:]}
	var requestId int64
	if typ != TypeKeepAlive {
		requestId = d.int64()
	}

	var cmd Command
	switch {
	case typ == TypeUpdateSegmentAttribute:
		cmd = decodeUpdateSegmentAttribute(d)
	case typ == TypeSegmentAttributeUpdated:
		cmd = decodeSegmentAttributeUpdated(d)
	case typ == TypeKeepAlive:
		cmd = KeepAlive{}
	case typ.IsFailure():
		cmd = decodeFailure(typ, d)
	default:
		return nil, 0, fmt.Errorf("%w: unknown command type %d", ErrProtocolViolation, int32(typ))
	}

	if d.err != nil {
		return nil, 0, fmt.Errorf("%w (decoding %v)", d.err, typ)
	}
	if d.pos != len(d.buf) {
		return nil, 0, fmt.Errorf("%w: %d trailing bytes after %v", ErrProtocolViolation, len(d.buf)-d.pos, typ)
	}
	return cmd, requestId, nil
}

// ReadFrame reads one whole frame from r. Transport errors are returned as is.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	payloadSize := int32(binary.BigEndian.Uint32(header[4:8]))
	if err := checkPayloadSize(payloadSize); err != nil {
		return nil, err
	}

	frame := make([]byte, headerSize+int(payloadSize))
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[headerSize:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

func WriteFrame(w io.Writer, frame []byte) error {
	_, err := w.Write(frame)
	return err
}

func checkPayloadSize(size int32) error {
	if size < 0 || size > MaxPayloadSize {
		return fmt.Errorf("%w: invalid payload length %d", ErrProtocolViolation, size)
	}
	return nil
}

type encoder struct {
	buf []byte
	err error
}

func (e *encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *encoder) putInt64(v int64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v))
}

func (e *encoder) putBool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

func (e *encoder) putUUID(id uuid.UUID) {
	e.buf = append(e.buf, id[:]...)
}

func (e *encoder) putString(s string) {
	if len(s) > MaxStringLength {
		e.fail(fmt.Errorf("%w: string of %d bytes exceeds the %d byte length prefix", ErrFrameTooLarge, len(s), MaxStringLength))
		return
	}
	e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(len(s)))
	e.buf = append(e.buf, s...)
}

type decoder struct {
	buf []byte
	pos int
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf)-d.pos < n {
		d.err = fmt.Errorf("%w: truncated frame", ErrProtocolViolation)
		return nil
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *decoder) int64() int64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (d *decoder) bool() bool {
	b := d.take(1)
	if b == nil {
		return false
	}
	switch b[0] {
	case 0:
		return false
	case 1:
		return true
	default:
		d.err = fmt.Errorf("%w: invalid boolean byte 0x%02x", ErrProtocolViolation, b[0])
		return false
	}
}

func (d *decoder) uuid() uuid.UUID {
	var id uuid.UUID
	if b := d.take(16); b != nil {
		copy(id[:], b)
	}
	return id
}

func (d *decoder) string() string {
	b := d.take(2)
	if b == nil {
		return ""
	}
	return string(d.take(int(binary.BigEndian.Uint16(b))))
}
