package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
)

var attr1 = uuid.MustParse("00000000-0000-0000-0000-000000000001")

func TestEncodeUpdateSegmentAttributeLayout(t *testing.T) {
	frame, err := Encode(1, UpdateSegmentAttribute{
		Segment:       "scope/stream/0.#epoch.0",
		Attribute:     attr1,
		NewValue:      20,
		ExpectedValue: 10,
		Token:         "tok",
	})
	assert.NilError(t, err)

	var expected []byte
	expected = append(expected, 0, 0, 0, 13)                                       // Type.
	expected = append(expected, 0, 0, 0, 70)                                       // Payload length.
	expected = append(expected, 0, 0, 0, 0, 0, 0, 0, 1)                            // Request id.
	expected = append(expected, 0, 23)                                             // Segment length.
	expected = append(expected, "scope/stream/0.#epoch.0"...)                      // Segment.
	expected = append(expected, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1)    // Attribute.
	expected = append(expected, 0, 0, 0, 0, 0, 0, 0, 20)                           // New value.
	expected = append(expected, 0, 0, 0, 0, 0, 0, 0, 10)                           // Expected value.
	expected = append(expected, 0, 3)                                              // Token length.
	expected = append(expected, "tok"...)                                          // Token.
	assert.DeepEqual(t, frame, expected)
}

func TestEncodeSentinels(t *testing.T) {
	frame, err := Encode(7, UpdateSegmentAttribute{
		Segment:       "s",
		Attribute:     attr1,
		NewValue:      NoValue,
		ExpectedValue: ForceValue,
	})
	assert.NilError(t, err)

	valuesOffset := headerSize + 8 + 2 + 1 + 16
	assert.DeepEqual(t, frame[valuesOffset:valuesOffset+8], []byte{0x80, 0, 0, 0, 0, 0, 0, 0})
	assert.DeepEqual(t, frame[valuesOffset+8:valuesOffset+16], []byte{0x80, 0, 0, 0, 0, 0, 0, 1})
}

func TestEncodeIsDeterministic(t *testing.T) {
	cmd := UpdateSegmentAttribute{
		Segment:       "scope/stream/3.#epoch.1",
		Attribute:     uuid.New(),
		NewValue:      -5,
		ExpectedValue: NoValue,
		Token:         "secret",
	}
	a, err := Encode(42, cmd)
	assert.NilError(t, err)
	b, err := Encode(42, cmd)
	assert.NilError(t, err)
	assert.DeepEqual(t, a, b)
}

func TestDecodeRequest(t *testing.T) {
	cmd := UpdateSegmentAttribute{
		Segment:       "scope/stream/0.#epoch.0",
		Attribute:     uuid.New(),
		NewValue:      1 << 40,
		ExpectedValue: -1,
		Token:         "tok",
	}
	frame, err := Encode(99, cmd)
	assert.NilError(t, err)

	decoded, requestId, err := Decode(frame)
	assert.NilError(t, err)
	assert.Equal(t, requestId, int64(99))
	assert.Equal(t, decoded, Command(cmd))
}

func TestDecodeReplies(t *testing.T) {
	updated := SegmentAttributeUpdated{Attribute: attr1, Success: false, CurrentValue: 20}
	frame, err := Encode(3, updated)
	assert.NilError(t, err)
	decoded, requestId, err := Decode(frame)
	assert.NilError(t, err)
	assert.Equal(t, requestId, int64(3))
	assert.Equal(t, decoded, Command(updated))

	failure := Failure{Code: TypeWrongHost, Segment: "a/b/0", Detail: "node2:9999"}
	frame, err = Encode(4, failure)
	assert.NilError(t, err)
	decoded, requestId, err = Decode(frame)
	assert.NilError(t, err)
	assert.Equal(t, requestId, int64(4))
	assert.Equal(t, decoded, Command(failure))
}

func TestKeepAliveHasNoRequestId(t *testing.T) {
	frame, err := Encode(12, KeepAlive{})
	assert.NilError(t, err)
	assert.DeepEqual(t, frame, []byte{0, 0, 0, 100, 0, 0, 0, 0})

	cmd, requestId, err := Decode(frame)
	assert.NilError(t, err)
	assert.Equal(t, requestId, int64(0))
	assert.Equal(t, cmd, Command(KeepAlive{}))
}

func TestEncodeSegmentNameTooLong(t *testing.T) {
	_, err := Encode(1, UpdateSegmentAttribute{
		Segment:   strings.Repeat("s", MaxStringLength+1),
		Attribute: attr1,
	})
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestEncodeTokenTooLong(t *testing.T) {
	_, err := Encode(1, UpdateSegmentAttribute{
		Segment:   "s",
		Attribute: attr1,
		Token:     strings.Repeat("t", MaxStringLength+1),
	})
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = Encode(1, UpdateSegmentAttribute{
		Segment:   "s",
		Attribute: attr1,
		Token:     strings.Repeat("t", MaxStringLength),
	})
	assert.NilError(t, err)
}

func TestEncodeRejectsNonFailureCode(t *testing.T) {
	_, err := Encode(1, Failure{Code: TypeSegmentAttributeUpdated})
	assert.ErrorContains(t, err, "not a failure reply")
}

func TestDecodeTruncatedFrame(t *testing.T) {
	frame, err := Encode(1, SegmentAttributeUpdated{Attribute: attr1, Success: true, CurrentValue: 1})
	assert.NilError(t, err)

	truncated := append([]byte(nil), frame[:len(frame)-1]...)
	binary.BigEndian.PutUint32(truncated[4:8], uint32(len(truncated)-headerSize))
	_, _, err = Decode(truncated)
	assert.ErrorIs(t, err, ErrProtocolViolation)

	_, _, err = Decode(frame[:len(frame)-1]) // Header disagrees with frame.
	assert.ErrorIs(t, err, ErrProtocolViolation)

	_, _, err = Decode(frame[:4])
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestDecodeTrailingBytes(t *testing.T) {
	frame, err := Encode(1, SegmentAttributeUpdated{Attribute: attr1, Success: true, CurrentValue: 1})
	assert.NilError(t, err)

	padded := append(append([]byte(nil), frame...), 0xff)
	binary.BigEndian.PutUint32(padded[4:8], uint32(len(padded)-headerSize))
	_, _, err = Decode(padded)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestDecodeUnknownType(t *testing.T) {
	frame := []byte{0, 0, 0, 77, 0, 0, 0, 8, 0, 0, 0, 0, 0, 0, 0, 1}
	_, _, err := Decode(frame)
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.ErrorContains(t, err, "unknown command type 77")
}

func TestDecodeInvalidBoolean(t *testing.T) {
	frame, err := Encode(1, SegmentAttributeUpdated{Attribute: attr1, Success: true, CurrentValue: 1})
	assert.NilError(t, err)

	frame[headerSize+8+16] = 2
	_, _, err = Decode(frame)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestReadFrame(t *testing.T) {
	first, err := Encode(1, SegmentAttributeUpdated{Attribute: attr1, Success: true, CurrentValue: 1})
	assert.NilError(t, err)
	second, err := Encode(2, Failure{Code: TypeNoSuchSegment, Segment: "x"})
	assert.NilError(t, err)

	buf := new(bytes.Buffer)
	assert.NilError(t, WriteFrame(buf, first))
	assert.NilError(t, WriteFrame(buf, second))

	frame, err := ReadFrame(buf)
	assert.NilError(t, err)
	assert.DeepEqual(t, frame, first)

	frame, err = ReadFrame(buf)
	assert.NilError(t, err)
	assert.DeepEqual(t, frame, second)

	_, err = ReadFrame(buf)
	assert.Assert(t, errors.Is(err, io.EOF))
}

func TestReadFrameShortPayload(t *testing.T) {
	frame, err := Encode(1, SegmentAttributeUpdated{Attribute: attr1, Success: true, CurrentValue: 1})
	assert.NilError(t, err)

	_, err = ReadFrame(bytes.NewReader(frame[:len(frame)-3]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	header := []byte{0, 0, 0, 14, 0x7f, 0xff, 0xff, 0xff}
	_, err := ReadFrame(bytes.NewReader(header))
	assert.ErrorIs(t, err, ErrProtocolViolation)

	header = []byte{0, 0, 0, 14, 0xff, 0xff, 0xff, 0xff}
	_, err = ReadFrame(bytes.NewReader(header))
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestParseEndpoint(t *testing.T) {
	e, err := ParseEndpoint("localhost:12345", 9999)
	assert.NilError(t, err)
	assert.Equal(t, e, Endpoint{Host: "localhost", Port: 12345})
	assert.Equal(t, e.String(), "localhost:12345")

	e, err = ParseEndpoint("segmentstore-0", 9999)
	assert.NilError(t, err)
	assert.Equal(t, e, Endpoint{Host: "segmentstore-0", Port: 9999})

	e, err = ParseEndpoint("[::1]:80", 0)
	assert.NilError(t, err)
	assert.Equal(t, e.String(), "[::1]:80")

	_, err = ParseEndpoint("segmentstore-0", 0)
	assert.ErrorContains(t, err, "invalid endpoint")

	_, err = ParseEndpoint("host:0", 0)
	assert.ErrorContains(t, err, "out of range")

	_, err = ParseEndpoint("host:abc", 0)
	assert.ErrorContains(t, err, "invalid port")
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, FormatValue(NoValue), "<none>")
	assert.Equal(t, FormatValue(ForceValue), "<force>")
	assert.Equal(t, FormatValue(-3), "-3")
}
