package segmentstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mizosoft/segattr/wire"
	"go.uber.org/zap"
)

var (
	ErrNoSuchSegment   = errors.New("no such segment")
	ErrNoSuchAttribute = errors.New("no such attribute")
	ErrSegmentSealed   = errors.New("segment is sealed")
	ErrSegmentExists   = errors.New("segment already exists")
	ErrReservedValue   = errors.New("reserved attribute value")
)

// BadAttributeUpdateError reports a failed comparison. Actual is wire.NoValue
// when the attribute is absent.
type BadAttributeUpdateError struct {
	Actual int64
}

func (e *BadAttributeUpdateError) Error() string {
	return fmt.Sprintf("bad attribute update, actual value %s", wire.FormatValue(e.Actual))
}

// Store holds segments and their attributes.
type Store interface {
	CreateSegment(segment string) error
	SealSegment(segment string) error

	// UpdateAttribute applies a conditional update and returns the value held
	// afterwards, wire.NoValue if the attribute was removed.
	UpdateAttribute(segment string, attribute uuid.UUID, newValue int64, expectedValue int64) (int64, error)

	// GetAttribute returns wire.NoValue for an absent attribute.
	GetAttribute(segment string, attribute uuid.UUID) (int64, error)

	Close() error
}

// checkUpdate decides whether an attribute holding current may be updated.
func checkUpdate(current int64, newValue int64, expectedValue int64) error {
	switch {
	case newValue == wire.ForceValue:
		return fmt.Errorf("%w: %d", ErrReservedValue, newValue)
	case expectedValue == wire.ForceValue, expectedValue == current:
		return nil
	case current == wire.NoValue:
		return ErrNoSuchAttribute
	default:
		return &BadAttributeUpdateError{Actual: current}
	}
}

type memorySegment struct {
	sealed     bool
	attributes map[uuid.UUID]int64
}

type memoryStore struct {
	segments map[string]*memorySegment
	logger   *zap.SugaredLogger
	mut      sync.RWMutex
}

func NewMemoryStore(logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &memoryStore{
		segments: make(map[string]*memorySegment),
		logger:   logger.With(zap.String("name", "memoryStore")).Sugar(),
	}
}

func (s *memoryStore) CreateSegment(segment string) error {
	s.logger.Infow("CreateSegment", zap.String("segment", segment))

	s.mut.Lock()
	defer s.mut.Unlock()

	if _, ok := s.segments[segment]; ok {
		return fmt.Errorf("%w: %s", ErrSegmentExists, segment)
	}
	s.segments[segment] = &memorySegment{attributes: make(map[uuid.UUID]int64)}
	return nil
}

func (s *memoryStore) SealSegment(segment string) error {
	s.logger.Infow("SealSegment", zap.String("segment", segment))

	s.mut.Lock()
	defer s.mut.Unlock()

	seg, ok := s.segments[segment]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchSegment, segment)
	}
	seg.sealed = true
	return nil
}

func (s *memoryStore) UpdateAttribute(segment string, attribute uuid.UUID, newValue int64, expectedValue int64) (int64, error) {
	s.logger.Infow("UpdateAttribute",
		zap.String("segment", segment), zap.Stringer("attribute", attribute),
		zap.Int64("newValue", newValue), zap.Int64("expectedValue", expectedValue))

	s.mut.Lock()
	defer s.mut.Unlock()

	seg, ok := s.segments[segment]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoSuchSegment, segment)
	}
	if seg.sealed {
		return 0, fmt.Errorf("%w: %s", ErrSegmentSealed, segment)
	}

	current, ok := seg.attributes[attribute]
	if !ok {
		current = wire.NoValue
	}
	if err := checkUpdate(current, newValue, expectedValue); err != nil {
		return 0, err
	}

	if newValue == wire.NoValue {
		delete(seg.attributes, attribute)
	} else {
		seg.attributes[attribute] = newValue
	}
	return newValue, nil
}

func (s *memoryStore) GetAttribute(segment string, attribute uuid.UUID) (int64, error) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	seg, ok := s.segments[segment]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoSuchSegment, segment)
	}
	value, ok := seg.attributes[attribute]
	if !ok {
		return wire.NoValue, nil
	}
	return value, nil
}

func (s *memoryStore) Close() error {
	return nil
}
