package segmentstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mizosoft/segattr/wire"
	"go.uber.org/zap"
)

const (
	segmentPrefix   = "segment:"
	attributePrefix = "attribute:"

	segmentOpen   byte = 0
	segmentSealed byte = 1
)

type badgerStore struct {
	db     *badger.DB
	logger *zap.SugaredLogger

	// Serializes read-modify-write transactions so they never conflict.
	mut sync.Mutex
}

func OpenBadgerStore(dir string, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &badgerStore{
		db:     db,
		logger: logger.With(zap.String("name", "badgerStore")).Sugar(),
	}, nil
}

func segmentKey(segment string) []byte {
	return []byte(segmentPrefix + segment)
}

// The id is a fixed 16 byte suffix, so the key stays unambiguous whatever
// bytes the segment name holds. The NUL only keeps keys readable.
func attributeKey(segment string, attribute uuid.UUID) []byte {
	key := make([]byte, 0, len(attributePrefix)+len(segment)+1+len(attribute))
	key = append(key, attributePrefix...)
	key = append(key, segment...)
	key = append(key, 0)
	return append(key, attribute[:]...)
}

// segmentStateInTxn returns the sealed flag of segment.
func (s *badgerStore) segmentStateInTxn(txn *badger.Txn, segment string) (byte, error) {
	item, err := txn.Get(segmentKey(segment))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrNoSuchSegment, segment)
		}
		return 0, err
	}

	var state byte
	err = item.Value(func(val []byte) error {
		if len(val) != 1 {
			return fmt.Errorf("corrupt state for segment %s", segment)
		}
		state = val[0]
		return nil
	})
	return state, err
}

func (s *badgerStore) attributeInTxn(txn *badger.Txn, segment string, attribute uuid.UUID) (int64, error) {
	item, err := txn.Get(attributeKey(segment, attribute))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return wire.NoValue, nil
		}
		return 0, err
	}

	var value int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt value for attribute %s of segment %s", attribute, segment)
		}
		value = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return value, err
}

func (s *badgerStore) CreateSegment(segment string) error {
	s.logger.Infow("CreateSegment", zap.String("segment", segment))

	s.mut.Lock()
	defer s.mut.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := s.segmentStateInTxn(txn, segment)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrSegmentExists, segment)
		}
		if !errors.Is(err, ErrNoSuchSegment) {
			return err
		}
		return txn.Set(segmentKey(segment), []byte{segmentOpen})
	})
}

func (s *badgerStore) SealSegment(segment string) error {
	s.logger.Infow("SealSegment", zap.String("segment", segment))

	s.mut.Lock()
	defer s.mut.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := s.segmentStateInTxn(txn, segment); err != nil {
			return err
		}
		return txn.Set(segmentKey(segment), []byte{segmentSealed})
	})
}

func (s *badgerStore) UpdateAttribute(segment string, attribute uuid.UUID, newValue int64, expectedValue int64) (int64, error) {
	s.logger.Infow("UpdateAttribute",
		zap.String("segment", segment), zap.Stringer("attribute", attribute),
		zap.Int64("newValue", newValue), zap.Int64("expectedValue", expectedValue))

	s.mut.Lock()
	defer s.mut.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		state, err := s.segmentStateInTxn(txn, segment)
		if err != nil {
			return err
		}
		if state == segmentSealed {
			return fmt.Errorf("%w: %s", ErrSegmentSealed, segment)
		}

		current, err := s.attributeInTxn(txn, segment, attribute)
		if err != nil {
			return err
		}
		if err := checkUpdate(current, newValue, expectedValue); err != nil {
			return err
		}

		key := attributeKey(segment, attribute)
		if newValue == wire.NoValue {
			return txn.Delete(key)
		}
		return txn.Set(key, binary.BigEndian.AppendUint64(nil, uint64(newValue)))
	})
	if err != nil {
		return 0, err
	}
	return newValue, nil
}

func (s *badgerStore) GetAttribute(segment string, attribute uuid.UUID) (int64, error) {
	var value int64
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := s.segmentStateInTxn(txn, segment); err != nil {
			return err
		}

		var err error
		value, err = s.attributeInTxn(txn, segment, attribute)
		return err
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}
