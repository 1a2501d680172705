package integration

import (
	"encoding/json"

	mqttinfra "github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/mqtt"
)

type mqttTopics = mqttinfra.Topics

// discoveryDevice is the "device" block Home Assistant attaches every
// entity to, so all of one thermostat's entities group under one card.
// Grounded on the {Id, Name, Model, Manufacturer} device shape common to
// MQTT discovery integrations.
type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// climateDiscoveryPayload is the config payload for an HA MQTT climate
// entity, published retained to Topics.DiscoveryConfig(serial).
type climateDiscoveryPayload struct {
	Name                string          `json:"name"`
	UniqueID            string          `json:"unique_id"`
	Device              discoveryDevice `json:"device"`
	AvailabilityTopic   string          `json:"availability_topic"`
	ModeStateTopic      string          `json:"mode_state_topic"`
	ModeCommandTopic    string          `json:"mode_command_topic"`
	Modes               []string        `json:"modes"`
	ActionTopic         string          `json:"action_topic"`
	TemperatureStateTopic   string      `json:"temperature_state_topic"`
	TemperatureCommandTopic string      `json:"temperature_command_topic"`
	TemperatureLowStateTopic    string  `json:"temperature_low_state_topic"`
	TemperatureLowCommandTopic  string  `json:"temperature_low_command_topic"`
	TemperatureHighStateTopic   string  `json:"temperature_high_state_topic"`
	TemperatureHighCommandTopic string  `json:"temperature_high_command_topic"`
	CurrentTemperatureTopic string      `json:"current_temperature_topic"`
	CurrentHumidityTopic    string      `json:"current_humidity_topic"`
	FanModeStateTopic       string      `json:"fan_mode_state_topic"`
	FanModeCommandTopic     string      `json:"fan_mode_command_topic"`
	FanModes                []string    `json:"fan_modes"`
	PresetModeStateTopic    string      `json:"preset_mode_state_topic"`
	PresetModeCommandTopic  string      `json:"preset_mode_command_topic"`
	PresetModes             []string    `json:"preset_modes"`
	TemperatureUnit     string          `json:"temperature_unit"`
}

// sensorDiscoveryPayload is the config payload for an auxiliary sensor
// entity (e.g. outdoor temperature) attached to the same device.
type sensorDiscoveryPayload struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	Device            discoveryDevice `json:"device"`
	AvailabilityTopic string          `json:"availability_topic"`
	StateTopic        string          `json:"state_topic"`
	UnitOfMeasurement string          `json:"unit_of_measurement,omitempty"`
	DeviceClass       string          `json:"device_class,omitempty"`
}

func buildClimatePayload(topics mqttTopics, serial string) []byte {
	device := discoveryDevice{
		Identifiers:  []string{serial},
		Name:         serial,
		Manufacturer: "NoLongerEvil",
		Model:        "Thermostat",
	}
	payload := climateDiscoveryPayload{
		Name:                    serial,
		UniqueID:                serial + "_climate",
		Device:                  device,
		AvailabilityTopic:       topics.Availability(serial),
		ModeStateTopic:          topics.DerivedState(serial, "mode"),
		ModeCommandTopic:        topics.DerivedState(serial, "mode") + "/set",
		Modes:                   []string{"off", "heat", "cool", "heat_cool"},
		ActionTopic:             topics.DerivedState(serial, "action"),
		TemperatureStateTopic:       topics.DerivedState(serial, "target_temperature"),
		TemperatureCommandTopic:     topics.DerivedState(serial, "target_temperature") + "/set",
		TemperatureLowStateTopic:    topics.DerivedState(serial, "target_temperature_low"),
		TemperatureLowCommandTopic:  topics.DerivedState(serial, "target_temperature_low") + "/set",
		TemperatureHighStateTopic:   topics.DerivedState(serial, "target_temperature_high"),
		TemperatureHighCommandTopic: topics.DerivedState(serial, "target_temperature_high") + "/set",
		CurrentTemperatureTopic: topics.DerivedState(serial, "current_temperature"),
		CurrentHumidityTopic:    topics.DerivedState(serial, "current_humidity"),
		FanModeStateTopic:       topics.DerivedState(serial, "fan_mode"),
		FanModeCommandTopic:     topics.DerivedState(serial, "fan_mode") + "/set",
		FanModes:                []string{"auto", "on"},
		PresetModeStateTopic:    topics.DerivedState(serial, "preset"),
		PresetModeCommandTopic:  topics.DerivedState(serial, "preset") + "/set",
		PresetModes:             []string{"home", "away", "eco"},
		TemperatureUnit:         "C",
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func buildSensorPayload(topics mqttTopics, serial, sensor, unit, deviceClass string) []byte {
	payload := sensorDiscoveryPayload{
		Name:     serial + " " + sensor,
		UniqueID: serial + "_" + sensor,
		Device: discoveryDevice{
			Identifiers:  []string{serial},
			Name:         serial,
			Manufacturer: "NoLongerEvil",
			Model:        "Thermostat",
		},
		AvailabilityTopic: topics.Availability(serial),
		StateTopic:        topics.DerivedState(serial, sensor),
		UnitOfMeasurement: unit,
		DeviceClass:       deviceClass,
	}
	raw, _ := json.Marshal(payload)
	return raw
}

// auxiliarySensors lists the sensors published alongside the climate
// entity, per §4.F.4.
var auxiliarySensors = []struct {
	Field       string
	Unit        string
	DeviceClass string
}{
	{Field: "outdoor_temperature", Unit: "°C", DeviceClass: "temperature"},
	{Field: "current_humidity", Unit: "%", DeviceClass: "humidity"},
}
