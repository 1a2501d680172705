package influxdb

import (
	"context"
	"strings"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/devicestate"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/objectstore"
)

// TelemetryObserver adapts a Client to devicestate.Observer: every numeric
// field of a device.* object write is recorded as a point, so historical
// temperature/humidity/setpoint trends survive outside the live object
// store. Non-device object keys (user., shared., schedule., structure.) and
// non-numeric fields are skipped.
type TelemetryObserver struct {
	client *Client
}

// NewTelemetryObserver wraps client for use as an observer on the device
// state service. client must be non-nil; a connected-then-closed client
// silently drops writes.
func NewTelemetryObserver(client *Client) *TelemetryObserver {
	return &TelemetryObserver{client: client}
}

func (o *TelemetryObserver) OnDeviceStateChange(_ context.Context, change devicestate.Change) {
	if !strings.HasPrefix(change.ObjectKey, "device.") {
		return
	}
	if change.Value.Kind != objectstore.KindObject {
		return
	}
	for field, v := range change.Value.Object {
		if v.Kind != objectstore.KindNumber {
			continue
		}
		o.client.WriteSerialMetric(change.Serial, field, v.Number)
	}
}
