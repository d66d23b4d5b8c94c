package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for vendorsync.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Vendor   VendorConfig   `yaml:"vendor"`
}

// SiteConfig identifies the installation that measurements belong to.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings for the topology store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// RedisConfig contains the shared key-value store connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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
}

// APIConfig contains the ops HTTP server settings.
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

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`

	// MeasurementSuffix is appended to every series name, e.g. "_test"
	// keeps a staging importer out of production dashboards.
	MeasurementSuffix string `yaml:"measurement_suffix"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// VendorConfig contains the vendor cloud integration settings.
type VendorConfig struct {
	// Name is the capability name attached to parameters created by the importer.
	Name string `yaml:"name"`

	// Timezone is the zone the vendor reports last-update times in.
	Timezone string `yaml:"timezone"`

	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// HealthCheckWindow bounds the gateway-online poll used by check-gateways.
	HealthCheckWindow time.Duration `yaml:"health_check_window"`

	// QueueSize is the number of push frames buffered between the push
	// channel and the ingestion worker.
	QueueSize int `yaml:"queue_size"`

	Servers     map[string]VendorServerConfig `yaml:"servers"`
	PushChannel PushChannelConfig             `yaml:"push_channel"`
}

// VendorServerConfig holds the endpoint and account for one vendor server.
type VendorServerConfig struct {
	Host     string `yaml:"host"`
	WSHost   string `yaml:"ws_host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// PushChannelConfig contains the push channel liveness and reconnect settings.
type PushChannelConfig struct {
	TickInterval            time.Duration `yaml:"tick_interval"`
	FirstTickDelay          time.Duration `yaml:"first_tick_delay"`
	HeartbeatLimit          int           `yaml:"heartbeat_limit"`
	HealthCheckInterval     time.Duration `yaml:"health_check_interval"`
	InitialHealthCheckDelay time.Duration `yaml:"initial_health_check_delay"`
	AliveLogInterval        time.Duration `yaml:"alive_log_interval"`
	InitialReconnectDelay   time.Duration `yaml:"initial_reconnect_delay"`
	ReconnectMultiplier     float64       `yaml:"reconnect_multiplier"`
	ReconnectJitter         float64       `yaml:"reconnect_jitter"`
	MaxReconnectDelay       time.Duration `yaml:"max_reconnect_delay"`
	MaxRetries              int           `yaml:"max_retries"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: VENDORSYNC_SECTION_KEY
// For example: VENDORSYNC_REDIS_ADDR, VENDORSYNC_INFLUXDB_TOKEN
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
		Site: SiteConfig{
			ID:   "site-001",
			Name: "vendorsync",
		},
		Database: DatabaseConfig{
			Path:        "./data/vendorsync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "vendorsync",
			},
			QoS:         1,
			TopicPrefix: "vendorsync",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:    "http://localhost:8086",
			Org:    "energy",
			Bucket: "measurements",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Vendor: VendorConfig{
			Name:              "secure",
			Timezone:          "Europe/London",
			HTTPTimeout:       30 * time.Second,
			HealthCheckWindow: 15 * time.Minute,
			QueueSize:         256,
			PushChannel: PushChannelConfig{
				TickInterval:            60 * time.Second,
				FirstTickDelay:          time.Second,
				HeartbeatLimit:          5,
				HealthCheckInterval:     300 * time.Second,
				InitialHealthCheckDelay: 3 * time.Second,
				AliveLogInterval:        300 * time.Second,
				InitialReconnectDelay:   time.Second,
				ReconnectMultiplier:     2.718,
				ReconnectJitter:         0.119,
				MaxReconnectDelay:       10 * time.Second,
				MaxRetries:              100,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VENDORSYNC_SECTION_KEY.
// Vendor passwords use VENDORSYNC_VENDOR_<SERVER>_PASSWORD.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VENDORSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("VENDORSYNC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("VENDORSYNC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("VENDORSYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VENDORSYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VENDORSYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("VENDORSYNC_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("VENDORSYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	for name, srv := range cfg.Vendor.Servers {
		key := "VENDORSYNC_VENDOR_" + strings.ToUpper(name) + "_PASSWORD"
		if v := os.Getenv(key); v != "" {
			srv.Password = v
			cfg.Vendor.Servers[name] = srv
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "" {
		errs = append(errs, "influxdb.url and influxdb.bucket are required")
	}

	if c.Vendor.Name == "" {
		errs = append(errs, "vendor.name is required")
	}
	if _, err := time.LoadLocation(c.Vendor.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("vendor.timezone %q is not a known zone", c.Vendor.Timezone))
	}
	if len(c.Vendor.Servers) == 0 {
		errs = append(errs, "vendor.servers must list at least one server")
	}
	for _, name := range c.Vendor.ServerNames() {
		srv := c.Vendor.Servers[name]
		if srv.Host == "" || srv.WSHost == "" {
			errs = append(errs, fmt.Sprintf("vendor.servers.%s: host and ws_host are required", name))
		}
		if srv.User == "" || srv.Password == "" {
			errs = append(errs, fmt.Sprintf("vendor.servers.%s: user and password are required", name))
		}
	}

	pc := c.Vendor.PushChannel
	if pc.TickInterval <= 0 || pc.HealthCheckInterval <= 0 {
		errs = append(errs, "vendor.push_channel intervals must be positive")
	}
	if pc.HeartbeatLimit < 1 {
		errs = append(errs, "vendor.push_channel.heartbeat_limit must be at least 1")
	}
	if pc.MaxRetries < 0 {
		errs = append(errs, "vendor.push_channel.max_retries must not be negative")
	}
	if pc.ReconnectMultiplier < 1 {
		errs = append(errs, "vendor.push_channel.reconnect_multiplier must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ServerNames returns the configured vendor server names in sorted order.
func (v VendorConfig) ServerNames() []string {
	names := make([]string, 0, len(v.Servers))
	for name := range v.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
