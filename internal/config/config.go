package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "WATCHPARTY_"

// Transport modes
const (
	TransportUDP      = "udp"
	TransportLoopback = "loopback"
)

// Config represents the complete service configuration
type Config struct {
	Transport   TransportConfig   `yaml:"transport" envPrefix:"TRANSPORT_"`
	Coordinator CoordinatorConfig `yaml:"coordinator" envPrefix:"COORDINATOR_"`
	HTTP        HTTPConfig        `yaml:"http" envPrefix:"HTTP_"`
	Logging     LoggingConfig     `yaml:"logging" envPrefix:"LOGGING_"`
}

// TransportConfig contains peer transport configuration
type TransportConfig struct {
	Mode              string   `yaml:"mode" env:"MODE"`
	PeerName          string   `yaml:"peer_name" env:"PEER_NAME"`
	BindAddress       string   `yaml:"bind_address" env:"BIND_ADDRESS"`
	Port              int      `yaml:"port" env:"PORT"`
	Peers             []string `yaml:"peers" env:"PEERS" envSeparator:","`
	BufferSize        int      `yaml:"buffer_size" env:"BUFFER_SIZE"`
	Workers           int      `yaml:"workers" env:"WORKERS"`
	QueueSize         int      `yaml:"queue_size" env:"QUEUE_SIZE"`
	HeartbeatInterval float64  `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"` // seconds
	PeerTimeout       float64  `yaml:"peer_timeout" env:"PEER_TIMEOUT"`             // seconds
	SessionBuffer     int      `yaml:"session_buffer" env:"SESSION_BUFFER"`
}

// CoordinatorConfig contains lifecycle coordinator tuning
type CoordinatorConfig struct {
	ActivationTimeout float64 `yaml:"activation_timeout" env:"ACTIVATION_TIMEOUT"` // seconds
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port     int    `yaml:"port" env:"PORT"`
	Address  string `yaml:"address" env:"ADDRESS"`
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	WSBuffer int    `yaml:"ws_buffer" env:"WS_BUFFER"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	Output string `yaml:"output" env:"OUTPUT"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Mode:              TransportUDP,
			PeerName:          hostname(),
			BindAddress:       "0.0.0.0",
			Port:              4545,
			BufferSize:        65536,
			Workers:           4,
			QueueSize:         1024,
			HeartbeatInterval: 2,
			PeerTimeout:       10,
			SessionBuffer:     8,
		},
		Coordinator: CoordinatorConfig{
			ActivationTimeout: 30,
		},
		HTTP: HTTPConfig{
			Port:     8080,
			Address:  "0.0.0.0",
			Enabled:  true,
			WSBuffer: 16,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file at path on top of Default, applies
// WATCHPARTY_* environment overrides and validates the result. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if err := c.Coordinator.Validate(); err != nil {
		return fmt.Errorf("coordinator config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates transport configuration
func (t *TransportConfig) Validate() error {
	switch t.Mode {
	case TransportLoopback:
		if t.SessionBuffer < 1 {
			return fmt.Errorf("session_buffer must be at least 1, got %d", t.SessionBuffer)
		}
		return nil
	case TransportUDP:
	default:
		return fmt.Errorf("mode must be 'udp' or 'loopback', got '%s'", t.Mode)
	}

	if t.PeerName == "" {
		return fmt.Errorf("peer_name cannot be empty")
	}

	// Port 0 asks the kernel for an ephemeral port.
	if t.Port < 0 || t.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", t.Port)
	}

	if t.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if t.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", t.BufferSize)
	}

	if t.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", t.Workers)
	}

	if t.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", t.QueueSize)
	}

	if t.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive, got %f", t.HeartbeatInterval)
	}

	if t.PeerTimeout <= t.HeartbeatInterval {
		return fmt.Errorf("peer_timeout (%f) must be greater than heartbeat_interval (%f)",
			t.PeerTimeout, t.HeartbeatInterval)
	}

	if t.SessionBuffer < 1 {
		return fmt.Errorf("session_buffer must be at least 1, got %d", t.SessionBuffer)
	}

	return nil
}

// Validate validates coordinator configuration
func (c *CoordinatorConfig) Validate() error {
	if c.ActivationTimeout <= 0 {
		return fmt.Errorf("activation_timeout must be positive, got %f", c.ActivationTimeout)
	}
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if !h.Enabled {
		return nil
	}

	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty when HTTP is enabled")
	}

	if h.WSBuffer < 1 {
		return fmt.Errorf("ws_buffer must be at least 1, got %d", h.WSBuffer)
	}

	return nil
}

// Validate validates logging configuration. Any output other than stdout or
// stderr is treated as a file path.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fault": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error, fault], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetHeartbeatInterval returns the heartbeat interval as a time.Duration
func (t *TransportConfig) GetHeartbeatInterval() time.Duration {
	return time.Duration(t.HeartbeatInterval * float64(time.Second))
}

// GetPeerTimeout returns the peer timeout as a time.Duration
func (t *TransportConfig) GetPeerTimeout() time.Duration {
	return time.Duration(t.PeerTimeout * float64(time.Second))
}

// GetActivationTimeout returns the activation timeout as a time.Duration
func (c *CoordinatorConfig) GetActivationTimeout() time.Duration {
	return time.Duration(c.ActivationTimeout * float64(time.Second))
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "watchparty"
	}
	return name
}
