package integration

import (
	"encoding/json"
	"fmt"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/config"
)

// MQTTSettings is the per-user configuration for the MQTT bridge, decoded
// from integrations.config_json. Any zero-valued field falls back to the
// deployment-wide config.MQTTConfig default in resolveMQTTSettings.
type MQTTSettings struct {
	Broker          config.MQTTBrokerConfig `json:"broker,omitempty"`
	Auth            config.MQTTAuthConfig   `json:"auth,omitempty"`
	QoS             int                     `json:"qos,omitempty"`
	TopicPrefix     string                  `json:"topic_prefix,omitempty"`
	DiscoveryPrefix string                  `json:"discovery_prefix,omitempty"`

	// PublishRaw and HomeAssistantDiscovery gate responsibilities 3 and 4.
	// Both default true; use pointers so an explicit "false" in
	// config_json is distinguishable from an absent field.
	PublishRaw             *bool `json:"publish_raw,omitempty"`
	HomeAssistantDiscovery *bool `json:"home_assistant_discovery,omitempty"`
}

func decodeMQTTSettings(configJSON string) (MQTTSettings, error) {
	var s MQTTSettings
	if configJSON == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(configJSON), &s); err != nil {
		return MQTTSettings{}, fmt.Errorf("integration: decode mqtt config: %w", err)
	}
	return s, nil
}

// resolveMQTTSettings fills every unset field from the deployment default,
// per §6's "default broker URL if none provided per-user".
func resolveMQTTSettings(userID string, s MQTTSettings, defaults config.MQTTConfig) MQTTSettings {
	resolved := s

	if resolved.Broker.Host == "" {
		resolved.Broker = defaults.Broker
	}
	if resolved.Broker.ClientID == "" {
		resolved.Broker.ClientID = fmt.Sprintf("%s-%s", defaults.Broker.ClientID, userID)
	}
	if resolved.Auth.Username == "" {
		resolved.Auth = defaults.Auth
	}
	if resolved.QoS == 0 {
		resolved.QoS = defaults.QoS
	}
	if resolved.TopicPrefix == "" {
		resolved.TopicPrefix = defaults.TopicPrefix
	}
	if resolved.DiscoveryPrefix == "" {
		resolved.DiscoveryPrefix = defaults.DiscoveryPrefix
	}
	if resolved.PublishRaw == nil {
		t := true
		resolved.PublishRaw = &t
	}
	if resolved.HomeAssistantDiscovery == nil {
		t := true
		resolved.HomeAssistantDiscovery = &t
	}
	return resolved
}
