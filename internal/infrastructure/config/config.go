package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-gateway/internal/retry"
)

// Backend names accepted by subsystems.matter.backend.
const (
	MatterBackendSimulator = "simulator"
)

const (
	minJWTSecretLength = 32
	maxPort            = 65535
	maxQoS             = 2
)

// Config is the root configuration structure for the gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site          SiteConfig          `yaml:"site"`
	Database      DatabaseConfig      `yaml:"database"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	API           APIConfig           `yaml:"api"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	Logging       LoggingConfig       `yaml:"logging"`
	Security      SecurityConfig      `yaml:"security"`
	Stack         StackConfig         `yaml:"stack"`
	Commissioning CommissioningConfig `yaml:"commissioning"`
	Subsystems    SubsystemsConfig    `yaml:"subsystems"`
}

// SiteConfig identifies this gateway installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
//
// Write must exceed the longest commissioning timeout a caller may request,
// since commissioning holds the request open until it finishes.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains API token settings. An empty Secret leaves the API
// unauthenticated, which suits a gateway bound to a trusted LAN.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	// AccessTokenTTL is in minutes.
	AccessTokenTTL int    `yaml:"access_token_ttl"`
	Issuer         string `yaml:"issuer"`
}

// StackConfig tunes the protocol stack executor.
type StackConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// CommissioningConfig contains onboarding defaults.
type CommissioningConfig struct {
	// DefaultTimeout applies when an API caller omits timeout_seconds.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	// MaxTimeout caps caller-supplied timeouts.
	MaxTimeout time.Duration `yaml:"max_timeout"`
	// WindowTimeout is how long an opened commissioning window stays open.
	WindowTimeout time.Duration `yaml:"window_timeout"`
	// MetadataCacheSize bounds discovery metadata held for nodes without a
	// device record.
	MetadataCacheSize int `yaml:"metadata_cache_size"`
	// BrowseTimeout bounds a DNS-SD scan for commissionable nodes.
	BrowseTimeout time.Duration `yaml:"browse_timeout"`
}

// SubsystemsConfig holds one section per network technology.
type SubsystemsConfig struct {
	// StateDir is the root for per-subsystem state, one directory each.
	StateDir string        `yaml:"state_dir"`
	Matter   MatterConfig  `yaml:"matter"`
	Thread   NetworkConfig `yaml:"thread"`
	Zigbee   NetworkConfig `yaml:"zigbee"`
}

// MatterConfig configures the Matter controller subsystem.
type MatterConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Backend       string        `yaml:"backend"`
	VendorID      uint16        `yaml:"vendor_id"`
	ProductID     uint16        `yaml:"product_id"`
	FabricID      uint64        `yaml:"fabric_id"`
	// BridgeNodeID is the gateway's own node, used when a commissioning
	// window is opened without naming a node.
	BridgeNodeID uint64             `yaml:"bridge_node_id"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Simulator    SimulatorConfig    `yaml:"simulator"`
}

// SubscriptionConfig bounds the reporting interval negotiated for reads.
// A zero MinInterval leaves the bounds unchecked.
type SubscriptionConfig struct {
	MinInterval time.Duration `yaml:"min_interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
}

// SimulatorConfig describes the virtual devices served by the simulated
// controller backend.
type SimulatorConfig struct {
	// Latency delays each simulated protocol callback.
	Latency time.Duration           `yaml:"latency"`
	Devices []SimulatedDeviceConfig `yaml:"devices"`
}

// SimulatedDeviceConfig is one virtual Matter device.
type SimulatedDeviceConfig struct {
	Name          string `yaml:"name"`
	NodeID        uint64 `yaml:"node_id"`
	Discriminator uint16 `yaml:"discriminator"`
	Passcode      uint32 `yaml:"passcode"`
	VendorID      uint16 `yaml:"vendor_id"`
	ProductID     uint16 `yaml:"product_id"`

	VendorName            string `yaml:"vendor_name"`
	ProductName           string `yaml:"product_name"`
	HardwareVersion       uint16 `yaml:"hardware_version"`
	SoftwareVersion       uint32 `yaml:"software_version"`
	SoftwareVersionString string `yaml:"software_version_string"`
	SerialNumber          string `yaml:"serial_number"`
	MACAddress            string `yaml:"mac_address"`
	NetworkType           string `yaml:"network_type"`

	// Unsupported lists Basic Information attributes the device rejects,
	// by name (e.g. "serial_number").
	Unsupported []string `yaml:"unsupported"`

	FailCommissioning bool `yaml:"fail_commissioning"`
	FailHandshake     bool `yaml:"fail_handshake"`

	Endpoints  []SimulatedEndpointConfig  `yaml:"endpoints"`
	Attributes []SimulatedAttributeConfig `yaml:"attributes"`
}

// SimulatedEndpointConfig is a Descriptor cluster record.
type SimulatedEndpointConfig struct {
	ID          uint16   `yaml:"id"`
	DeviceTypes []uint32 `yaml:"device_types"`
	Servers     []uint32 `yaml:"servers"`
	Clients     []uint32 `yaml:"clients"`
	Parts       []uint16 `yaml:"parts"`
}

// SimulatedAttributeConfig seeds an attribute value for driver refreshes.
type SimulatedAttributeConfig struct {
	Endpoint  uint16 `yaml:"endpoint"`
	Cluster   uint32 `yaml:"cluster"`
	Attribute uint32 `yaml:"attribute"`
	Value     any    `yaml:"value"`
}

// NetworkConfig configures the Thread and Zigbee subsystems.
type NetworkConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	// ProbeAddress is a host:port the subsystem dials to decide readiness.
	// Empty means ready as soon as the daemon (if managed) is running.
	ProbeAddress string        `yaml:"probe_address"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	Daemon       DaemonConfig  `yaml:"daemon"`
}

// DaemonConfig contains settings for a supervised helper process
// (otbr-agent, the Zigbee HAL daemon).
type DaemonConfig struct {
	// Managed indicates whether the gateway starts the daemon itself.
	// If false, it is expected to run externally (e.g. as a systemd service).
	Managed          bool          `yaml:"managed"`
	Binary           string        `yaml:"binary"`
	Args             []string      `yaml:"args"`
	RestartOnFailure bool          `yaml:"restart_on_failure"`
	RestartDelay     time.Duration `yaml:"restart_delay"`
	MaxRestartDelay  time.Duration `yaml:"max_restart_delay"`
	// MaxRestartAttempts limits restarts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

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

// Default returns a Config with defaults suited to a development gateway:
// simulated Matter backend, Thread and Zigbee disabled, MQTT and InfluxDB off.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "gateway-001",
			Name: "Gray Logic Gateway",
		},
		Database: DatabaseConfig{
			Path:        "./data/gateway.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-gateway",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 330,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
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
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
				Issuer:         "graylogic-gateway",
			},
		},
		Stack: StackConfig{
			QueueSize: 256,
		},
		Commissioning: CommissioningConfig{
			DefaultTimeout:    120 * time.Second,
			MaxTimeout:        300 * time.Second,
			WindowTimeout:     180 * time.Second,
			MetadataCacheSize: 128,
			BrowseTimeout:     5 * time.Second,
		},
		Subsystems: SubsystemsConfig{
			StateDir: "./data/subsystems",
			Matter: MatterConfig{
				Enabled:       true,
				RetryInterval: 10 * time.Second,
				Backend:       MatterBackendSimulator,
				VendorID:      0xFFF1,
				ProductID:     0x8000,
				FabricID:      1,
				BridgeNodeID:  1,
				Subscription: SubscriptionConfig{
					MinInterval: time.Second,
					MaxInterval: 60 * time.Second,
				},
			},
			Thread: NetworkConfig{
				RetryInterval: 10 * time.Second,
				ProbeTimeout:  2 * time.Second,
				Daemon: DaemonConfig{
					Binary:           "/usr/sbin/otbr-agent",
					RestartOnFailure: true,
					RestartDelay:     5 * time.Second,
					MaxRestartDelay:  2 * time.Minute,
				},
			},
			Zigbee: NetworkConfig{
				RetryInterval: 10 * time.Second,
				ProbeTimeout:  2 * time.Second,
				Daemon: DaemonConfig{
					Binary:           "/usr/bin/zigbee-hal-daemon",
					RestartOnFailure: true,
					RestartDelay:     5 * time.Second,
					MaxRestartDelay:  2 * time.Minute,
				},
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > maxQoS {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && (c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > maxPort) {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	if c.API.Port < 1 || c.API.Port > maxPort {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Timeouts.Write > 0 && time.Duration(c.API.Timeouts.Write)*time.Second <= c.Commissioning.MaxTimeout {
		errs = append(errs, "api.timeouts.write must exceed commissioning.max_timeout")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if c.Stack.QueueSize < 1 {
		errs = append(errs, "stack.queue_size must be positive")
	}

	errs = append(errs, c.Commissioning.validate()...)
	errs = append(errs, c.Subsystems.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c CommissioningConfig) validate() []string {
	var errs []string
	if c.DefaultTimeout <= 0 {
		errs = append(errs, "commissioning.default_timeout must be positive")
	}
	if c.MaxTimeout < c.DefaultTimeout {
		errs = append(errs, "commissioning.max_timeout must not be below default_timeout")
	}
	if c.WindowTimeout <= 0 {
		errs = append(errs, "commissioning.window_timeout must be positive")
	}
	if c.MetadataCacheSize < 1 {
		errs = append(errs, "commissioning.metadata_cache_size must be positive")
	}
	return errs
}

func (s SubsystemsConfig) validate() []string {
	var errs []string

	m := s.Matter
	if m.Enabled {
		if m.RetryInterval <= 0 {
			errs = append(errs, "subsystems.matter.retry_interval must be positive")
		}
		if m.Backend != MatterBackendSimulator {
			errs = append(errs, fmt.Sprintf("subsystems.matter.backend %q is not supported", m.Backend))
		}
		if _, err := retry.NewIntervalBounds(m.Subscription.MinInterval, m.Subscription.MaxInterval); err != nil {
			errs = append(errs, fmt.Sprintf("subsystems.matter.subscription: %v", err))
		}
		for i, d := range m.Simulator.Devices {
			if d.NodeID == 0 {
				errs = append(errs, fmt.Sprintf("subsystems.matter.simulator.devices[%d].node_id is required", i))
			}
		}
	}

	networks := []struct {
		name string
		cfg  NetworkConfig
	}{{"thread", s.Thread}, {"zigbee", s.Zigbee}}
	for _, nw := range networks {
		name, n := nw.name, nw.cfg
		if !n.Enabled {
			continue
		}
		if n.RetryInterval <= 0 {
			errs = append(errs, fmt.Sprintf("subsystems.%s.retry_interval must be positive", name))
		}
		if n.Daemon.Managed && n.Daemon.Binary == "" {
			errs = append(errs, fmt.Sprintf("subsystems.%s.daemon.binary is required when managed", name))
		}
		if n.Daemon.Managed && n.Daemon.MaxRestartDelay > 0 && n.Daemon.MaxRestartDelay < n.Daemon.RestartDelay {
			errs = append(errs, fmt.Sprintf("subsystems.%s.daemon.max_restart_delay must not be below restart_delay", name))
		}
	}
	return errs
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
