package devicestate

import (
	"context"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/objectstore"
)

// availabilityMarker is the subset of availability.Watchdog Service depends
// on, so tests can substitute a fake without pulling in the real watchdog.
type availabilityMarker interface {
	MarkSeen(serial string)
}

// WatchdogObserver adapts an availability.Watchdog to the Observer
// interface: every state change counts as evidence the device is alive.
type WatchdogObserver struct {
	watchdog availabilityMarker
}

// NewWatchdogObserver wraps watchdog for use as the first entry in a
// Service's observer list.
func NewWatchdogObserver(watchdog availabilityMarker) *WatchdogObserver {
	return &WatchdogObserver{watchdog: watchdog}
}

func (o *WatchdogObserver) OnDeviceStateChange(_ context.Context, change Change) {
	o.watchdog.MarkSeen(change.Serial)
}

// notifier is the subset of subscription.Manager Service depends on.
type notifier interface {
	Notify(serial, objectKey string, updatedObject objectstore.Object) int
}

// SubscriptionObserver adapts a subscription.Manager to the Observer
// interface: every state change wakes matching long-poll waiters.
type SubscriptionObserver struct {
	manager notifier
}

// NewSubscriptionObserver wraps manager for use as the second entry in a
// Service's observer list.
func NewSubscriptionObserver(manager notifier) *SubscriptionObserver {
	return &SubscriptionObserver{manager: manager}
}

func (o *SubscriptionObserver) OnDeviceStateChange(_ context.Context, change Change) {
	o.manager.Notify(change.Serial, change.ObjectKey, objectstore.Object{
		Serial:          change.Serial,
		ObjectKey:       change.ObjectKey,
		ObjectRevision:  change.Revision,
		ObjectTimestamp: change.Timestamp,
		Value:           change.Value,
	})
}
