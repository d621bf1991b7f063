package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
node:
  document: "/etc/graylogic/workshop.json"
  watch: true
gpio:
  driver: "memory"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-node"
  qos: 1
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Node.Document != "/etc/graylogic/workshop.json" {
		t.Errorf("Node.Document = %q, want %q", cfg.Node.Document, "/etc/graylogic/workshop.json")
	}
	if !cfg.Node.Watch {
		t.Error("Node.Watch = false, want true")
	}
	if cfg.GPIO.Driver != "memory" {
		t.Errorf("GPIO.Driver = %q, want %q", cfg.GPIO.Driver, "memory")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.ClientID != "test-node" {
		t.Errorf("MQTT.Broker.ClientID = %q, want %q", cfg.MQTT.Broker.ClientID, "test-node")
	}

	// Untouched sections keep their defaults.
	if cfg.Serial.BaudRate != 9600 {
		t.Errorf("Serial.BaudRate = %d, want 9600", cfg.Serial.BaudRate)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	t.Setenv("GRAYLOGIC_GPIO_DRIVER", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.GPIO.Driver != "memory" {
		t.Errorf("GPIO.Driver = %q, want %q", cfg.GPIO.Driver, "memory")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
gpio:
  driver: "sysfs"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for unknown gpio driver, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing document", mutate: func(c *Config) { c.Node.Document = "" }, wantErr: true},
		{name: "negative debounce", mutate: func(c *Config) { c.Node.WatchDebounce = -1 }, wantErr: true},
		{name: "memory driver any case", mutate: func(c *Config) { c.GPIO.Driver = "Memory" }},
		{name: "unknown driver", mutate: func(c *Config) { c.GPIO.Driver = "sysfs" }, wantErr: true},
		{name: "zero baud rate", mutate: func(c *Config) { c.Serial.BaudRate = 0 }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "database disabled without path", mutate: func(c *Config) {
			c.Database.Enabled = false
			c.Database.Path = ""
		}},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.MQTT.Broker.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.MQTT.Broker.Port = 70000 }, wantErr: true},
		{name: "influx enabled without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: true},
		{name: "negative retention", mutate: func(c *Config) { c.Telemetry.Retention = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := &Config{
		Node:      NodeConfig{WatchDebounce: 250},
		Serial:    SerialConfig{ReadTimeout: 100},
		Telemetry: TelemetryConfig{Retention: 2},
	}

	if got := cfg.GetWatchDebounce(); got != 250*time.Millisecond {
		t.Errorf("GetWatchDebounce() = %v, want 250ms", got)
	}
	if got := cfg.GetSerialReadTimeout(); got != 100*time.Millisecond {
		t.Errorf("GetSerialReadTimeout() = %v, want 100ms", got)
	}
	if got := cfg.GetRetention(); got != 48*time.Hour {
		t.Errorf("GetRetention() = %v, want 48h", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_NODE_DOCUMENT", "/srv/node.json")
	t.Setenv("GRAYLOGIC_NODE_WATCH", "true")
	t.Setenv("GRAYLOGIC_GPIO_DRIVER", "memory")
	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLOGIC_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"Node.Document", cfg.Node.Document, "/srv/node.json"},
		{"GPIO.Driver", cfg.GPIO.Driver, "memory"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
	if !cfg.Node.Watch {
		t.Error("Node.Watch = false, want true")
	}
}

func TestApplyEnvOverrides_InvalidBoolIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("GRAYLOGIC_NODE_WATCH", "sometimes")

	applyEnvOverrides(cfg)

	if cfg.Node.Watch {
		t.Error("Node.Watch = true, want default false for unparsable value")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Node.Document == "" {
		t.Error("defaultConfig should have non-empty Node.Document")
	}
	if cfg.GPIO.Driver != "periph" {
		t.Errorf("defaultConfig GPIO.Driver = %q, want periph", cfg.GPIO.Driver)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig does not validate: %v", err)
	}
}
