package wire

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Attribute value sentinels. Both are part of the wire contract.
const (
	// NoValue denotes an attribute without a value. As an expected value it
	// requires the attribute to be absent, as a new value it removes the attribute.
	NoValue int64 = math.MinInt64

	// ForceValue as an expected value skips the comparison entirely.
	ForceValue int64 = math.MinInt64 + 1
)

type CommandType int32

const (
	TypeUpdateSegmentAttribute  CommandType = 13
	TypeSegmentAttributeUpdated CommandType = 14
	TypeWrongHost               CommandType = 50
	TypeSegmentIsSealed         CommandType = 51
	TypeNoSuchSegment           CommandType = 53
	TypeNoSuchAttribute         CommandType = 54
	TypeAuthTokenCheckFailed    CommandType = 60
	TypeErrorMessage            CommandType = 61
	TypeKeepAlive               CommandType = 100
)

func (t CommandType) String() string {
	switch t {
	case TypeUpdateSegmentAttribute:
		return "UpdateSegmentAttribute"
	case TypeSegmentAttributeUpdated:
		return "SegmentAttributeUpdated"
	case TypeWrongHost:
		return "WrongHost"
	case TypeSegmentIsSealed:
		return "SegmentIsSealed"
	case TypeNoSuchSegment:
		return "NoSuchSegment"
	case TypeNoSuchAttribute:
		return "NoSuchAttribute"
	case TypeAuthTokenCheckFailed:
		return "AuthTokenCheckFailed"
	case TypeErrorMessage:
		return "ErrorMessage"
	case TypeKeepAlive:
		return "KeepAlive"
	default:
		return fmt.Sprintf("CommandType(%d)", int32(t))
	}
}

// IsFailure reports whether t is one of the typed failure replies.
func (t CommandType) IsFailure() bool {
	switch t {
	case TypeWrongHost, TypeSegmentIsSealed, TypeNoSuchSegment, TypeNoSuchAttribute,
		TypeAuthTokenCheckFailed, TypeErrorMessage:
		return true
	default:
		return false
	}
}

// Command is anything that can travel in a frame. The request id is not part of
// a command; it is supplied when encoding and returned when decoding.
type Command interface {
	Type() CommandType
	encode(e *encoder)
}

// UpdateSegmentAttribute asks the node owning Segment to set Attribute to
// NewValue if it currently holds ExpectedValue.
type UpdateSegmentAttribute struct {
	Segment       string
	Attribute     uuid.UUID
	NewValue      int64
	ExpectedValue int64
	Token         string
}

func (c UpdateSegmentAttribute) Type() CommandType {
	return TypeUpdateSegmentAttribute
}

func (c UpdateSegmentAttribute) encode(e *encoder) {
	e.putString(c.Segment)
	e.putUUID(c.Attribute)
	e.putInt64(c.NewValue)
	e.putInt64(c.ExpectedValue)
	e.putString(c.Token)
}

// String never includes the token.
func (c UpdateSegmentAttribute) String() string {
	return fmt.Sprintf("UpdateSegmentAttribute(segment=%s, attribute=%s, newValue=%s, expectedValue=%s)",
		c.Segment, c.Attribute, FormatValue(c.NewValue), FormatValue(c.ExpectedValue))
}

func decodeUpdateSegmentAttribute(d *decoder) UpdateSegmentAttribute {
	return UpdateSegmentAttribute{
		Segment:       d.string(),
		Attribute:     d.uuid(),
		NewValue:      d.int64(),
		ExpectedValue: d.int64(),
		Token:         d.string(),
	}
}

// SegmentAttributeUpdated is the reply to UpdateSegmentAttribute. CurrentValue
// is the value held after the update when Success is set, and the value that
// prevented the update otherwise.
type SegmentAttributeUpdated struct {
	Attribute    uuid.UUID
	Success      bool
	CurrentValue int64
}

func (c SegmentAttributeUpdated) Type() CommandType {
	return TypeSegmentAttributeUpdated
}

func (c SegmentAttributeUpdated) encode(e *encoder) {
	e.putUUID(c.Attribute)
	e.putBool(c.Success)
	e.putInt64(c.CurrentValue)
}

func (c SegmentAttributeUpdated) String() string {
	return fmt.Sprintf("SegmentAttributeUpdated(attribute=%s, success=%t, currentValue=%s)",
		c.Attribute, c.Success, FormatValue(c.CurrentValue))
}

func decodeSegmentAttributeUpdated(d *decoder) SegmentAttributeUpdated {
	return SegmentAttributeUpdated{
		Attribute:    d.uuid(),
		Success:      d.bool(),
		CurrentValue: d.int64(),
	}
}

// Failure is a typed failure reply. Code selects which failure occurred. For
// TypeWrongHost, Detail holds the address of the node that owns the segment.
type Failure struct {
	Code    CommandType
	Segment string
	Detail  string
}

func (c Failure) Type() CommandType {
	return c.Code
}

func (c Failure) encode(e *encoder) {
	if !c.Code.IsFailure() {
		e.fail(fmt.Errorf("%v is not a failure reply", c.Code))
		return
	}
	e.putString(c.Segment)
	e.putString(c.Detail)
}

func (c Failure) String() string {
	if c.Detail == "" {
		return fmt.Sprintf("%v(segment=%s)", c.Code, c.Segment)
	}
	return fmt.Sprintf("%v(segment=%s, detail=%s)", c.Code, c.Segment, c.Detail)
}

func decodeFailure(code CommandType, d *decoder) Failure {
	return Failure{
		Code:    code,
		Segment: d.string(),
		Detail:  d.string(),
	}
}

type KeepAlive struct{}

func (KeepAlive) Type() CommandType {
	return TypeKeepAlive
}

func (KeepAlive) encode(*encoder) {}

// FormatValue renders an attribute value, naming the sentinels.
func FormatValue(v int64) string {
	switch v {
	case NoValue:
		return "<none>"
	case ForceValue:
		return "<force>"
	default:
		return fmt.Sprintf("%d", v)
	}
}
