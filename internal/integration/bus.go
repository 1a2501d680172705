package integration

import (
	"context"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/devicestate"
)

// Bus is one running integration instance, scoped to a single user. The
// device state service fans every mutation of a serial the user owns or is
// shared to every matching Bus.
type Bus interface {
	// Initialize connects the instance (e.g. to its MQTT broker) and
	// performs the initial device-set reconciliation.
	Initialize(ctx context.Context) error

	// Shutdown disconnects the instance and stops its background work.
	// It must be safe to call more than once.
	Shutdown(ctx context.Context) error

	// OnDeviceStateChange is called for every committed change to a
	// serial in the instance's device set.
	OnDeviceStateChange(ctx context.Context, change devicestate.Change)

	// OnDeviceConnected and OnDeviceDisconnected mirror availability
	// transitions for a serial in the instance's device set.
	OnDeviceConnected(serial string)
	OnDeviceDisconnected(serial string)
}

// BridgeFactory constructs a Bus for a user from its resolved settings.
// Manager depends on this indirection rather than the concrete MQTTBridge
// type so tests can substitute a fake bus.
type BridgeFactory func(userID string, settings MQTTSettings) (Bus, error)
