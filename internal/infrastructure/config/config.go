package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for a Gray Logic node.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	GPIO      GPIOConfig      `yaml:"gpio"`
	Serial    SerialConfig    `yaml:"serial"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// NodeConfig locates the node document and controls its lifecycle.
type NodeConfig struct {
	// Document is the path to the JSON node document.
	Document string `yaml:"document"`

	// Validate checks the document against the embedded schema before
	// building anything.
	Validate bool `yaml:"validate"`

	// Watch re-applies the document when the file changes on disk.
	Watch bool `yaml:"watch"`

	// WatchDebounce is the quiet period (milliseconds) after the last file
	// event before the document is re-applied.
	WatchDebounce int `yaml:"watch_debounce"`

	// SnapshotOnShutdown stores the serialised graph in the database when
	// the node stops.
	SnapshotOnShutdown bool `yaml:"snapshot_on_shutdown"`
}

// GPIOConfig selects the GPIO driver.
type GPIOConfig struct {
	// Driver is "periph" for real hardware or "memory" for a simulated bank.
	Driver string `yaml:"driver"`
}

// SerialConfig holds defaults for SerialInterface comms that omit them.
type SerialConfig struct {
	BaudRate    int `yaml:"baud_rate"`
	ReadTimeout int `yaml:"read_timeout"` // milliseconds
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
//
// It is used for the node's status connection and as the default for
// MqttComm modules that do not name their own broker.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// TelemetryConfig controls value-change recording.
type TelemetryConfig struct {
	// History records every input and output change in SQLite.
	History bool `yaml:"history"`

	// Retention is how many days of value history to keep. 0 keeps all.
	Retention int `yaml:"retention"`

	// Presses records double and long presses of button inputs. Off by
	// default because it keeps every button's press goroutines running.
	Presses bool `yaml:"presses"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// An empty path skips step 2, so a node can run from defaults and
// environment alone.
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_NODE_DOCUMENT, GRAYLOGIC_GPIO_DRIVER
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Document:           "./node.json",
			Validate:           true,
			WatchDebounce:      250,
			SnapshotOnShutdown: true,
		},
		GPIO: GPIOConfig{
			Driver: "periph",
		},
		Serial: SerialConfig{
			BaudRate:    9600,
			ReadTimeout: 100,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/graylogic-node.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-node",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Telemetry: TelemetryConfig{
			History:   true,
			Retention: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Node
	if v := os.Getenv("GRAYLOGIC_NODE_DOCUMENT"); v != "" {
		cfg.Node.Document = v
	}
	if v := os.Getenv("GRAYLOGIC_NODE_WATCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Node.Watch = b
		}
	}

	// GPIO
	if v := os.Getenv("GRAYLOGIC_GPIO_DRIVER"); v != "" {
		cfg.GPIO.Driver = v
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Node.Document == "" {
		errs = append(errs, "node.document is required")
	}
	if c.Node.WatchDebounce < 0 {
		errs = append(errs, "node.watch_debounce must not be negative")
	}

	switch strings.ToLower(c.GPIO.Driver) {
	case "periph", "memory":
	default:
		errs = append(errs, fmt.Sprintf("gpio.driver %q must be periph or memory", c.GPIO.Driver))
	}

	if c.Serial.BaudRate <= 0 {
		errs = append(errs, "serial.baud_rate must be positive")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the database is enabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Telemetry.Retention < 0 {
		errs = append(errs, "telemetry.retention must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetWatchDebounce returns the document watch debounce as a Duration.
func (c *Config) GetWatchDebounce() time.Duration {
	return time.Duration(c.Node.WatchDebounce) * time.Millisecond
}

// GetSerialReadTimeout returns the default serial read timeout as a Duration.
func (c *Config) GetSerialReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeout) * time.Millisecond
}

// GetRetention returns the value-history retention window. Zero means keep
// everything.
func (c *Config) GetRetention() time.Duration {
	return time.Duration(c.Telemetry.Retention) * 24 * time.Hour
}
