package mqtt

import "fmt"

// Topics builds the topic hierarchy §4.F's MQTT bridge publishes and
// subscribes to. Every topic is rooted at a per-instance prefix (e.g.
// "nest") rather than a single deployment-wide namespace, since each
// bridge instance fronts one user's device set.
//
//	topics := mqtt.Topics{Prefix: "nest", DiscoveryPrefix: "homeassistant"}
//	topics.Status()                     // "nest/status"
//	topics.RawState("D1", "device")     // "nest/D1/device"
//	topics.RawField("D1", "device", "temperature") // "nest/D1/device/temperature"
type Topics struct {
	// Prefix is the per-instance device topic root, e.g. "nest".
	Prefix string
	// DiscoveryPrefix is the Home Assistant discovery root, e.g.
	// "homeassistant".
	DiscoveryPrefix string
}

// Status returns the instance-wide LWT/online-status topic.
func (t Topics) Status() string {
	return fmt.Sprintf("%s/status", t.Prefix)
}

// Availability returns the per-serial availability topic.
//
// Example: nest/D1/availability
func (t Topics) Availability(serial string) string {
	return fmt.Sprintf("%s/%s/availability", t.Prefix, serial)
}

// RawState returns the topic for the full value of one object mutation.
//
// Example: nest/D1/device
func (t Topics) RawState(serial, objectType string) string {
	return fmt.Sprintf("%s/%s/%s", t.Prefix, serial, objectType)
}

// RawField returns the topic for a single top-level field of an object.
//
// Example: nest/D1/device/temperature
func (t Topics) RawField(serial, objectType, field string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Prefix, serial, objectType, field)
}

// RawCommandFilter returns the subscription pattern for inbound raw field
// commands: "«prefix»/+/«t»/«field»/set" collapsed to a single wildcard
// filter covering every type/field, parsed by the handler.
//
// Pattern: nest/+/+/+/set
func (t Topics) RawCommandFilter() string {
	return fmt.Sprintf("%s/+/+/+/set", t.Prefix)
}

// DerivedState returns the topic for one derived (Home Assistant-style)
// field.
//
// Example: nest/D1/ha/mode
func (t Topics) DerivedState(serial, field string) string {
	return fmt.Sprintf("%s/%s/ha/%s", t.Prefix, serial, field)
}

// DerivedCommandFilter returns the subscription pattern for inbound
// derived commands.
//
// Pattern: nest/+/ha/+/set
func (t Topics) DerivedCommandFilter() string {
	return fmt.Sprintf("%s/+/ha/+/set", t.Prefix)
}

// DiscoveryConfig returns the Home Assistant discovery config topic for a
// climate entity.
//
// Example: homeassistant/climate/D1/config
func (t Topics) DiscoveryConfig(serial string) string {
	return fmt.Sprintf("%s/climate/%s/config", t.DiscoveryPrefix, serial)
}

// DiscoverySensorConfig returns the discovery config topic for an
// auxiliary sensor entity attached to a device.
//
// Example: homeassistant/sensor/D1_outdoor_temperature/config
func (t Topics) DiscoverySensorConfig(serial, sensor string) string {
	return fmt.Sprintf("%s/sensor/%s_%s/config", t.DiscoveryPrefix, serial, sensor)
}
