package devicestate

import (
	"context"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/logging"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/objectstore"
)

// Change is the event dispatched to observers after a store commit, per
// §4.D's `DeviceStateChange{serial, objectKey, value, revision, timestamp}`.
type Change struct {
	Serial    string
	ObjectKey string
	Value     objectstore.Value
	Revision  int64
	Timestamp int64
}

// Observer receives every device state change. Implementations must not
// block indefinitely; Service treats a panicking observer as a logged
// failure, never a raised error (§4.D, §7 "Observer errors").
type Observer interface {
	OnDeviceStateChange(ctx context.Context, change Change)
}

// Service is the §4.D façade. Its observer list is built once at
// construction, in the fixed order §5 requires: watchdog, then
// subscription, then integrations.
type Service struct {
	store     *objectstore.Store
	observers []Observer
	logger    *logging.Logger
}

// New constructs a Service whose observers fire in the given order on every
// successful upsert. Callers assemble observers as watchdogObserver,
// subscriptionObserver, then the integration bus, per §5's ordering
// guarantee.
func New(store *objectstore.Store, logger *logging.Logger, observers ...Observer) *Service {
	return &Service{store: store, observers: observers, logger: logger}
}

// Get passes through to the store.
func (s *Service) Get(ctx context.Context, serial, key string) (*objectstore.Object, error) {
	return s.store.Get(ctx, serial, key)
}

// GetAllForDevice passes through to the store.
func (s *Service) GetAllForDevice(ctx context.Context, serial string) (map[string]objectstore.Object, error) {
	return s.store.GetAllForDevice(ctx, serial)
}

// Upsert writes through the store, then dispatches to every observer in
// order. Observer failures are logged and never propagated; the store
// remains authoritative regardless of observer outcome.
func (s *Service) Upsert(ctx context.Context, serial, key string, incomingRevision, incomingTimestamp int64, incomingValue objectstore.Value) (*objectstore.Object, error) {
	obj, err := s.store.Upsert(ctx, serial, key, incomingRevision, incomingTimestamp, incomingValue)
	if err != nil {
		return nil, err
	}

	change := Change{
		Serial:    obj.Serial,
		ObjectKey: obj.ObjectKey,
		Value:     obj.Value,
		Revision:  obj.ObjectRevision,
		Timestamp: obj.ObjectTimestamp,
	}
	for _, observer := range s.observers {
		s.dispatch(ctx, observer, change)
	}

	return obj, nil
}

func (s *Service) dispatch(ctx context.Context, observer Observer, change Change) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Error("observer panicked on device state change",
				"serial", change.Serial, "object_key", change.ObjectKey, "panic", r)
		}
	}()
	observer.OnDeviceStateChange(ctx, change)
}
