package objectstore

import (
	"context"
	"errors"
	"time"
)

// Store is the versioned object store façade described in §4.A. It owns
// merge and revision policy; Repository only persists rows.
type Store struct {
	repo  Repository
	locks *keyLockTable

	// Clock is overridable in tests; defaults to time.Now.
	Clock func() time.Time
}

// NewStore constructs a Store over repo.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:  repo,
		locks: newKeyLockTable(),
		Clock: time.Now,
	}
}

// Get returns the stored object for (serial, key), or nil if absent.
func (s *Store) Get(ctx context.Context, serial, key string) (*Object, error) {
	obj, err := s.repo.Get(ctx, serial, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return obj, nil
}

// GetAllForDevice returns serial's objects keyed by object_key.
func (s *Store) GetAllForDevice(ctx context.Context, serial string) (map[string]Object, error) {
	objects, err := s.repo.GetAllForDevice(ctx, serial)
	if err != nil {
		return nil, err
	}
	result := make(map[string]Object, len(objects))
	for _, obj := range objects {
		result[obj.ObjectKey] = obj
	}
	return result, nil
}

// Upsert merges incomingValue into the existing (serial, key) object,
// applies fan-timer preservation, computes the next revision, and persists
// the result. Writes to the same (serial, key) are serialized so concurrent
// upserts observe a consistent existing value.
func (s *Store) Upsert(ctx context.Context, serial, key string, incomingRevision, incomingTimestamp int64, incomingValue Value) (*Object, error) {
	unlock := s.locks.lock(serial, key)
	defer unlock()

	existing, err := s.repo.Get(ctx, serial, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.Clock()
	nowMS := now.UnixMilli()

	var (
		currentValue    Value
		currentRevision int64
	)
	if existing != nil {
		currentValue = existing.Value
		currentRevision = existing.ObjectRevision
	} else {
		currentValue = Null
	}

	merged := MergeValues(currentValue, incomingValue)
	if existing != nil {
		merged = applyFanTimerPreservation(currentValue, incomingValue, merged, nowMS)
	}

	revision := incomingRevision
	if existing != nil {
		if valuesEqual(currentValue, merged) {
			revision = maxInt64(currentRevision, incomingRevision)
		} else if incomingRevision <= currentRevision {
			revision = currentRevision + 1
		}
	}

	obj := &Object{
		Serial:          serial,
		ObjectKey:       key,
		ObjectRevision:  revision,
		ObjectTimestamp: incomingTimestamp,
		Value:           merged,
		UpdatedAt:       now,
	}

	if err := s.repo.Upsert(ctx, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// MergeValues exposes the store's merge rule (§4.A) as a method, for
// callers that need to compute a merge without going through a full
// upsert. It is the package-level MergeValues, without fan-timer
// preservation.
func (s *Store) MergeValues(current, incoming Value) Value {
	return MergeValues(current, incoming)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// valuesEqual reports structural equality between two Values. Used only to
// decide revision policy (§4.A "unchanged" case), not for merge itself.
func valuesEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindNumber:
		return a.Number == b.Number
	case KindString:
		return a.String == b.String
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !valuesEqual(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.Object) != len(b.Object) {
			return false
		}
		for k, av := range a.Object {
			bv, ok := b.Object[k]
			if !ok || !valuesEqual(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
