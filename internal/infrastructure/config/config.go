package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the thermostat core.
// All configuration is loaded from YAML and can be overridden by environment
// variables.
type Config struct {
	Site         SiteConfig         `yaml:"site"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	API          APIConfig          `yaml:"api"`
	Frontend     FrontendConfig     `yaml:"frontend"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	Security     SecurityConfig     `yaml:"security"`
	Watchdog     WatchdogConfig     `yaml:"watchdog"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Integrations IntegrationsConfig `yaml:"integrations"`
}

// SiteConfig contains deployment-wide information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains the default MQTT broker settings used when a
// per-user integration config does not override them.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// DiscoveryPrefix is the Home Assistant discovery topic prefix
	// (default "homeassistant").
	DiscoveryPrefix string `yaml:"discovery_prefix"`

	// TopicPrefix is the default per-device topic prefix, e.g. "nest".
	TopicPrefix string `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains the device-facing HTTP listener settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// FrontendConfig contains the frontend-facing read-only HTTP listener
// settings. The frontend itself (its auth, its UI) is out of scope; this
// is only the surface the core exposes for it to read from.
type FrontendConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// InfluxDBConfig contains optional telemetry sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT     JWTConfig    `yaml:"jwt"`
	APIKeys APIKeyConfig `yaml:"api_keys"`
}

// JWTConfig contains frontend-session JWT settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// APIKeyConfig contains frontend API key settings.
type APIKeyConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WatchdogConfig contains availability watchdog timing.
type WatchdogConfig struct {
	TimeoutMS       int `yaml:"timeout_ms"`
	CheckIntervalMS int `yaml:"check_interval_ms"`
}

// SubscriptionConfig contains long-poll subscription defaults.
type SubscriptionConfig struct {
	DefaultTimeoutMS int `yaml:"default_timeout_ms"`
}

// IntegrationsConfig contains outbound integration bus settings.
type IntegrationsConfig struct {
	ReconcileIntervalMS   int `yaml:"reconcile_interval_ms"`
	ReconnectDelaySeconds int `yaml:"reconnect_delay_seconds"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NOLONGEREVIL_SECTION_KEY.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults, matching the
// constants named in the protocol and watchdog design.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/nolongerevil.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "nolongerevil-core",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			DiscoveryPrefix: "homeassistant",
			TopicPrefix:     "nest",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  70, // longer than the default long-poll timeout
				Write: 70,
				Idle:  90,
			},
		},
		Frontend: FrontendConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8081,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
		Watchdog: WatchdogConfig{
			TimeoutMS:       300_000,
			CheckIntervalMS: 30_000,
		},
		Subscription: SubscriptionConfig{
			DefaultTimeoutMS: 60_000,
		},
		Integrations: IntegrationsConfig{
			ReconcileIntervalMS:   10_000,
			ReconnectDelaySeconds: 5,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables follow the pattern
// NOLONGEREVIL_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NOLONGEREVIL_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("NOLONGEREVIL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NOLONGEREVIL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NOLONGEREVIL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("NOLONGEREVIL_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("NOLONGEREVIL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// JWT secret (IMPORTANT: always override in production).
	if v := os.Getenv("NOLONGEREVIL_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.Frontend.Enabled && (c.Frontend.Port < 1 || c.Frontend.Port > 65535) {
		errs = append(errs, "frontend.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set NOLONGEREVIL_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if c.Watchdog.TimeoutMS <= 0 {
		errs = append(errs, "watchdog.timeout_ms must be positive")
	}
	if c.Watchdog.CheckIntervalMS <= 0 {
		errs = append(errs, "watchdog.check_interval_ms must be positive")
	}
	if c.Subscription.DefaultTimeoutMS <= 0 {
		errs = append(errs, "subscription.default_timeout_ms must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the device API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the device API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the device API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// WatchdogTimeout returns the watchdog timeout as a Duration.
func (c *Config) WatchdogTimeout() time.Duration {
	return time.Duration(c.Watchdog.TimeoutMS) * time.Millisecond
}

// WatchdogCheckInterval returns the watchdog sweep interval as a Duration.
func (c *Config) WatchdogCheckInterval() time.Duration {
	return time.Duration(c.Watchdog.CheckIntervalMS) * time.Millisecond
}

// SubscriptionDefaultTimeout returns the default long-poll timeout.
func (c *Config) SubscriptionDefaultTimeout() time.Duration {
	return time.Duration(c.Subscription.DefaultTimeoutMS) * time.Millisecond
}

// IntegrationReconcileInterval returns the device-set reconciliation
// interval for outbound integrations.
func (c *Config) IntegrationReconcileInterval() time.Duration {
	return time.Duration(c.Integrations.ReconcileIntervalMS) * time.Millisecond
}
