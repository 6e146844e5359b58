package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. MONOMED_MQTT_HOST.
const EnvPrefix = "MONOMED_"

// Config is the root configuration structure for monomed.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	SerialOSC SerialOSCConfig `yaml:"serialosc" envPrefix:"SERIALOSC_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	MQTT      MQTTConfig      `yaml:"mqtt" envPrefix:"MQTT_"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb" envPrefix:"INFLUXDB_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOG_"`
	Bridge    BridgeConfig    `yaml:"bridge" envPrefix:"BRIDGE_"`
}

// SerialOSCConfig contains the serialosc daemon and local endpoint settings.
type SerialOSCConfig struct {
	// Host is the local interface both endpoints bind to.
	// Default: "localhost"
	Host string `yaml:"host" env:"HOST"`

	// Port receives daemon traffic. 0 picks a random port in [1024, 65535).
	Port int `yaml:"port" env:"PORT"`

	// DevicePort receives traffic from every device. 0 picks a random port.
	DevicePort int `yaml:"device_port" env:"DEVICE_PORT"`

	// DaemonHost and DaemonPort locate serialosc.
	// Default: localhost:12002
	DaemonHost string `yaml:"daemon_host" env:"DAEMON_HOST"`
	DaemonPort int    `yaml:"daemon_port" env:"DAEMON_PORT"`

	// StartDevices runs the /sys handshake for every discovered device.
	// Default: true
	StartDevices bool `yaml:"start_devices" env:"START_DEVICES"`

	// Managed runs serialoscd as a child process.
	Managed ManagedDaemonConfig `yaml:"managed" envPrefix:"MANAGED_"`
}

// ManagedDaemonConfig controls the supervised serialoscd child process.
type ManagedDaemonConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// Binary is the daemon executable. Default: "serialoscd" from PATH.
	Binary string   `yaml:"binary" env:"BINARY"`
	Args   []string `yaml:"args"`

	// RestartDelay between an unexpected exit and the respawn (seconds).
	// Default: 2
	RestartDelay int `yaml:"restart_delay"`

	// MaxRestarts caps consecutive restarts; 0 is unlimited.
	MaxRestarts int `yaml:"max_restarts"`

	// StartupDelayMS is the wait before the registry registers.
	// Default: 500
	StartupDelayMS int `yaml:"startup_delay_ms"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" env:"PATH"`
	WALMode     bool   `yaml:"wal_mode" env:"WAL_MODE"`
	BusyTimeout int    `yaml:"busy_timeout" env:"BUSY_TIMEOUT"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled" env:"ENABLED"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos" env:"QOS"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	TLS      bool   `yaml:"tls" env:"TLS"`
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	URL           string `yaml:"url" env:"URL"`
	Token         string `yaml:"token" env:"TOKEN"`
	Org           string `yaml:"org" env:"ORG"`
	Bucket        string `yaml:"bucket" env:"BUCKET"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	Output string `yaml:"output" env:"OUTPUT"`
}

// BridgeConfig controls how devices are exposed on MQTT.
type BridgeConfig struct {
	// TopicPrefix is the root of every bridge topic.
	// Default: "monome"
	TopicPrefix string `yaml:"topic_prefix" env:"TOPIC_PREFIX"`

	// HealthSchedule is a cron spec for the retained health message.
	// Default: "@every 30s"
	HealthSchedule string `yaml:"health_schedule" env:"HEALTH_SCHEDULE"`

	// RecordInput writes key, tilt and encoder events to InfluxDB.
	RecordInput bool `yaml:"record_input" env:"RECORD_INPUT"`

	// ShutdownTimeout bounds the drain on shutdown, in seconds.
	// Default: 5
	ShutdownTimeout int `yaml:"shutdown_timeout"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults); skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MONOMED_SECTION_KEY
// For example: MONOMED_DATABASE_PATH, MONOMED_SERIALOSC_DAEMON_PORT
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		SerialOSC: SerialOSCConfig{
			Host:         "localhost",
			DaemonHost:   "localhost",
			DaemonPort:   12002,
			StartDevices: true,
			Managed: ManagedDaemonConfig{
				Binary:         "serialoscd",
				RestartDelay:   2,
				StartupDelayMS: 500,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/monomed.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "monomed",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Bridge: BridgeConfig{
			TopicPrefix:     "monome",
			HealthSchedule:  "@every 30s",
			ShutdownTimeout: 5,
		},
	}
}

// Validate checks the configuration for errors. Every problem is reported.
func (c *Config) Validate() error {
	var errs []string

	// Ports of 0 mean "random".
	if !validPort(c.SerialOSC.Port, true) {
		errs = append(errs, "serialosc.port must be between 0 and 65535")
	}
	if !validPort(c.SerialOSC.DevicePort, true) {
		errs = append(errs, "serialosc.device_port must be between 0 and 65535")
	}
	if c.SerialOSC.Port != 0 && c.SerialOSC.Port == c.SerialOSC.DevicePort {
		errs = append(errs, "serialosc.port and serialosc.device_port must differ")
	}
	if c.SerialOSC.DaemonHost == "" {
		errs = append(errs, "serialosc.daemon_host is required")
	}
	if !validPort(c.SerialOSC.DaemonPort, false) {
		errs = append(errs, "serialosc.daemon_port must be between 1 and 65535")
	}

	if c.SerialOSC.Managed.Enabled {
		if c.SerialOSC.Managed.Binary == "" {
			errs = append(errs, "serialosc.managed.binary is required when managed is enabled")
		}
		if c.SerialOSC.Managed.RestartDelay < 0 || c.SerialOSC.Managed.MaxRestarts < 0 || c.SerialOSC.Managed.StartupDelayMS < 0 {
			errs = append(errs, "serialosc.managed delays and limits must not be negative")
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if !validPort(c.MQTT.Broker.Port, false) {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.MQTT.Enabled {
		if c.Bridge.TopicPrefix == "" || strings.ContainsAny(c.Bridge.TopicPrefix, "#+") {
			errs = append(errs, "bridge.topic_prefix must be set and contain no wildcards")
		}
		if c.Bridge.HealthSchedule == "" {
			errs = append(errs, "bridge.health_schedule is required")
		}
	}
	if c.Bridge.RecordInput && !c.InfluxDB.Enabled {
		errs = append(errs, "bridge.record_input requires influxdb.enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}

	return nil
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("configuration errors")

// GetShutdownTimeout returns the bridge drain timeout as a Duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	return time.Duration(c.Bridge.ShutdownTimeout) * time.Second
}

func validPort(p int, allowZero bool) bool {
	if allowZero && p == 0 {
		return true
	}
	return p >= 1 && p <= 65535
}
