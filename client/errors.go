package client

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mizosoft/segattr/wire"
)

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrSegmentNotFound    = errors.New("segment not found")
	ErrAttributeNotFound  = errors.New("attribute not found")
	ErrSegmentSealed      = errors.New("segment is sealed")
	ErrWrongHost          = errors.New("wrong host")
	ErrAuthFailed         = errors.New("auth token check failed")
	ErrServerError        = errors.New("server error")

	// ErrUnavailable covers lost connections, timeouts and unreachable
	// endpoints. Callers may retry against a freshly resolved endpoint.
	ErrUnavailable = errors.New("unavailable")

	ErrProtocolViolation = wire.ErrProtocolViolation
	ErrFrameTooLarge     = wire.ErrFrameTooLarge
)

// PreconditionFailedError reports that the attribute did not hold the expected
// value. Actual is the value the node reported, wire.NoValue if it has none.
type PreconditionFailedError struct {
	Segment   string
	Attribute uuid.UUID
	Expected  int64
	Actual    int64
}

func (e *PreconditionFailedError) Error() string {
	return fmt.Sprintf("%v: segment %s attribute %s expected %s, actual %s",
		ErrPreconditionFailed, e.Segment, e.Attribute, wire.FormatValue(e.Expected), wire.FormatValue(e.Actual))
}

func (e *PreconditionFailedError) Is(target error) bool {
	return target == ErrPreconditionFailed
}

// WrongHostError reports that the contacted node does not own the segment.
// CorrectHost is the owner as known to that node, possibly empty.
type WrongHostError struct {
	Segment     string
	CorrectHost string
}

func (e *WrongHostError) Error() string {
	if e.CorrectHost == "" {
		return fmt.Sprintf("%v: segment %s", ErrWrongHost, e.Segment)
	}
	return fmt.Sprintf("%v: segment %s is owned by %s", ErrWrongHost, e.Segment, e.CorrectHost)
}

func (e *WrongHostError) Is(target error) bool {
	return target == ErrWrongHost
}

func failureError(failure wire.Failure) error {
	switch failure.Code {
	case wire.TypeNoSuchSegment:
		return fmt.Errorf("%w: %s", ErrSegmentNotFound, failure.Segment)
	case wire.TypeNoSuchAttribute:
		return fmt.Errorf("%w: %v", ErrAttributeNotFound, failure)
	case wire.TypeSegmentIsSealed:
		return fmt.Errorf("%w: %s", ErrSegmentSealed, failure.Segment)
	case wire.TypeWrongHost:
		return &WrongHostError{Segment: failure.Segment, CorrectHost: failure.Detail}
	case wire.TypeAuthTokenCheckFailed:
		return fmt.Errorf("%w: %v", ErrAuthFailed, failure)
	case wire.TypeErrorMessage:
		return fmt.Errorf("%w: %v", ErrServerError, failure)
	default:
		return fmt.Errorf("%w: unexpected failure reply %v", ErrProtocolViolation, failure)
	}
}
