package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when CONFIG_FILE_PATH is not set.
const DefaultPath = "./config.yaml"

// PathEnvVar names the environment variable holding the config file path.
const PathEnvVar = "CONFIG_FILE_PATH"

// MaxUnitAddr is the highest Modbus unit address a meter can answer on.
const MaxUnitAddr = 247

// Config is the root configuration structure for the bridge.
// The MQTT connection keys sit at the top level of the file; everything
// else is grouped into sections.
type Config struct {
	MQTT       MQTTConfig       `yaml:",inline"`
	Devices    []DeviceConfig   `yaml:"devices"`
	Bus        BusConfig        `yaml:"bus"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Collector  CollectorConfig  `yaml:"collector"`
	Database   DatabaseConfig   `yaml:"database"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:",inline"`
	Auth   MQTTAuthConfig   `yaml:",inline"`

	QoS             int                 `yaml:"mqtt_qos"`
	KeepAlive       time.Duration       `yaml:"mqtt_keepalive"`
	PublishTimeout  time.Duration       `yaml:"mqtt_publish_timeout"`
	RetainDiscovery bool                `yaml:"mqtt_retain_discovery"`
	Reconnect       MQTTReconnectConfig `yaml:"mqtt_reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"mqtt_server_addr"`
	Port     int    `yaml:"mqtt_server_port"`
	TLS      bool   `yaml:"mqtt_tls"`
	ClientID string `yaml:"mqtt_client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"mqtt_username"`
	Password string `yaml:"mqtt_password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	// MaxAttempts bounds consecutive reconnect attempts. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// DeviceConfig is one PZEM-016 meter.
type DeviceConfig struct {
	// Addr is the Modbus unit address.
	Addr uint8 `yaml:"addr"`
	// Port is the gateway address, "host:port" or a full modbus URL.
	Port string `yaml:"port"`
	// Breaker is a free-form label, published as the state label.
	Breaker string `yaml:"breaker"`
}

// BusConfig contains in-process queue sizing.
type BusConfig struct {
	QueueCapacity     int `yaml:"queue_capacity"`
	BroadcastCapacity int `yaml:"broadcast_capacity"`
}

// SupervisorConfig contains task restart and shutdown settings.
type SupervisorConfig struct {
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Restart         RestartConfig `yaml:"restart"`
}

// RestartConfig bounds collector restarts.
type RestartConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxFailures  int           `yaml:"max_failures"`
	Window       time.Duration `yaml:"window"`
	StableAfter  time.Duration `yaml:"stable_after"`
}

// CollectorConfig contains meter polling settings.
type CollectorConfig struct {
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	Speed             uint          `yaml:"speed"`

	// Gateway plus the unit range generate the device list when
	// no devices are configured.
	Gateway   string `yaml:"gateway"`
	FirstUnit uint8  `yaml:"first_unit"`
	LastUnit  uint8  `yaml:"last_unit"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the per-gateway circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Path        string        `yaml:"path"`
	WALMode     bool          `yaml:"wal_mode"`
	BusyTimeout int           `yaml:"busy_timeout"`
	Retention   time.Duration `yaml:"retention"`
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

// APIConfig contains the operator HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// ReadTimeout returns the read timeout as a Duration.
func (t APITimeoutConfig) ReadTimeout() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// WriteTimeout returns the write timeout as a Duration.
func (t APITimeoutConfig) WriteTimeout() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// IdleTimeout returns the idle timeout as a Duration.
func (t APITimeoutConfig) IdleTimeout() time.Duration {
	return time.Duration(t.Idle) * time.Second
}

// WebSocketConfig contains live tap settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PathFromEnv returns the config file path from CONFIG_FILE_PATH, or DefaultPath.
func PathFromEnv() string {
	if v := os.Getenv(PathEnvVar); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PZEM016MQTT_KEY
// For example: PZEM016MQTT_MQTT_SERVER_ADDR, PZEM016MQTT_DATABASE_PATH
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Port:     1883,
				ClientID: "pzem016mqtt",
			},
			QoS:            1,
			KeepAlive:      5 * time.Second,
			PublishTimeout: 3 * time.Second,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Bus: BusConfig{
			QueueCapacity:     512,
			BroadcastCapacity: 16,
		},
		Supervisor: SupervisorConfig{
			ShutdownTimeout: 5 * time.Second,
			Restart: RestartConfig{
				InitialDelay: time.Second,
				MaxDelay:     30 * time.Second,
				MaxFailures:  5,
				Window:       time.Minute,
				StableAfter:  30 * time.Second,
			},
		},
		Collector: CollectorConfig{
			SweepInterval: 50 * time.Millisecond,
			ReadTimeout:   time.Second,
			Speed:         9600,
			FirstUnit:     101,
			LastUnit:      140,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				OpenTimeout: 30 * time.Second,
			},
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/pzem016mqtt.db",
			WALMode:     true,
			BusyTimeout: 5,
			Retention:   7 * 24 * time.Hour,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("PZEM016MQTT_MQTT_SERVER_ADDR"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PZEM016MQTT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PZEM016MQTT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("PZEM016MQTT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("PZEM016MQTT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("PZEM016MQTT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt_server_addr is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt_server_port must be between 1 and 65535")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt_client_id is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt_qos must be 0, 1, or 2")
	}
	if c.MQTT.PublishTimeout <= 0 {
		errs = append(errs, "mqtt_publish_timeout must be positive")
	}

	// Devices
	if len(c.Devices) == 0 {
		if c.Collector.Gateway == "" {
			errs = append(errs, "devices is empty and collector.gateway is not set")
		} else {
			if c.Collector.FirstUnit == 0 || c.Collector.FirstUnit > c.Collector.LastUnit {
				errs = append(errs, "collector.first_unit must be between 1 and collector.last_unit")
			}
			if c.Collector.LastUnit > MaxUnitAddr {
				errs = append(errs, fmt.Sprintf("collector.last_unit must be at most %d", MaxUnitAddr))
			}
		}
	}
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.Addr == 0 || d.Addr > MaxUnitAddr {
			errs = append(errs, fmt.Sprintf("devices[%d].addr must be between 1 and %d", i, MaxUnitAddr))
		}
		if d.Port == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].port is required", i))
		}
		key := fmt.Sprintf("%s/%d", d.Port, d.Addr)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("devices[%d] duplicates unit %d on %s", i, d.Addr, d.Port))
		}
		seen[key] = true
	}

	// Bus
	if c.Bus.QueueCapacity < 1 {
		errs = append(errs, "bus.queue_capacity must be at least 1")
	}
	if c.Bus.BroadcastCapacity < 1 {
		errs = append(errs, "bus.broadcast_capacity must be at least 1")
	}

	// Supervisor
	r := c.Supervisor.Restart
	if r.InitialDelay <= 0 || r.MaxDelay < r.InitialDelay {
		errs = append(errs, "supervisor.restart delays must be positive with max_delay >= initial_delay")
	}
	if r.MaxFailures < 1 {
		errs = append(errs, "supervisor.restart.max_failures must be at least 1")
	}

	// Database
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	// InfluxDB
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ResolvedDevices returns the configured device list, or the legacy unit
// range on collector.gateway when the list is empty.
func (c *Config) ResolvedDevices() []DeviceConfig {
	if len(c.Devices) > 0 {
		out := make([]DeviceConfig, len(c.Devices))
		copy(out, c.Devices)
		return out
	}
	if c.Collector.Gateway == "" || c.Collector.FirstUnit == 0 {
		return nil
	}

	out := make([]DeviceConfig, 0, int(c.Collector.LastUnit)-int(c.Collector.FirstUnit)+1)
	for unit := int(c.Collector.FirstUnit); unit <= int(c.Collector.LastUnit); unit++ {
		out = append(out, DeviceConfig{Addr: uint8(unit), Port: c.Collector.Gateway})
	}
	return out
}
