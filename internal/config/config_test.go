package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Transport: TransportConfig{
			Mode:              TransportUDP,
			PeerName:          "living-room",
			BindAddress:       "0.0.0.0",
			Port:              4545,
			Peers:             []string{"192.168.1.20:4545"},
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

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			modify:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "defaults are valid",
			modify:      func(c *Config) { *c = *Default() },
			expectError: false,
		},
		{
			name:        "unknown transport mode",
			modify:      func(c *Config) { c.Transport.Mode = "carrier-pigeon" },
			expectError: true,
			errorMsg:    "mode must be 'udp' or 'loopback'",
		},
		{
			name:        "invalid transport port",
			modify:      func(c *Config) { c.Transport.Port = 70000 },
			expectError: true,
			errorMsg:    "port must be between 0 and 65535",
		},
		{
			name:        "ephemeral transport port",
			modify:      func(c *Config) { c.Transport.Port = 0 },
			expectError: false,
		},
		{
			name:        "small buffer",
			modify:      func(c *Config) { c.Transport.BufferSize = 512 },
			expectError: true,
			errorMsg:    "buffer_size must be at least 1024",
		},
		{
			name: "peer timeout not above heartbeat",
			modify: func(c *Config) {
				c.Transport.HeartbeatInterval = 5
				c.Transport.PeerTimeout = 5
			},
			expectError: true,
			errorMsg:    "peer_timeout",
		},
		{
			name: "loopback ignores udp settings",
			modify: func(c *Config) {
				c.Transport.Mode = TransportLoopback
				c.Transport.BindAddress = ""
				c.Transport.Workers = 0
			},
			expectError: false,
		},
		{
			name:        "non-positive activation timeout",
			modify:      func(c *Config) { c.Coordinator.ActivationTimeout = 0 },
			expectError: true,
			errorMsg:    "activation_timeout must be positive",
		},
		{
			name:        "invalid http port",
			modify:      func(c *Config) { c.HTTP.Port = 0 },
			expectError: true,
			errorMsg:    "http port must be between 1 and 65535",
		},
		{
			name: "disabled http skips validation",
			modify: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
			expectError: false,
		},
		{
			name:        "invalid log level",
			modify:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
		{
			name:        "fault log level",
			modify:      func(c *Config) { c.Logging.Level = "fault" },
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.modify(&config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
transport:
  mode: udp
  peer_name: "den"
  bind_address: "0.0.0.0"
  port: 4545
  peers: ["10.0.0.2:4545", "10.0.0.3:4545"]
  buffer_size: 65536
  workers: 2
  queue_size: 256
  heartbeat_interval: 1
  peer_timeout: 5
  session_buffer: 4
coordinator:
  activation_timeout: 15
http:
  enabled: true
  address: "127.0.0.1"
  port: 8080
  ws_buffer: 8
logging:
  level: "debug"
  format: "text"
  output: "stderr"
`,
			expectError: false,
		},
		{
			name: "partial file keeps defaults",
			configYAML: `
transport:
  mode: loopback
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
transport:
  port: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "empty required field",
			configYAML: `
transport:
  bind_address: ""
`,
			expectError: true,
			errorMsg:    "bind_address cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadValues(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
transport:
  peers: ["10.0.0.2:4545"]
coordinator:
  activation_timeout: 12.5
`
	if err := os.WriteFile(configPath, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(config.Transport.Peers) != 1 || config.Transport.Peers[0] != "10.0.0.2:4545" {
		t.Errorf("Expected one peer, got %v", config.Transport.Peers)
	}
	if config.Transport.Port != 4545 {
		t.Errorf("Expected default port 4545, got %d", config.Transport.Port)
	}
	if config.Coordinator.GetActivationTimeout() != 12500*time.Millisecond {
		t.Errorf("Expected 12.5s activation timeout, got %v", config.Coordinator.GetActivationTimeout())
	}
}

func TestConfigLoadEnvOverrides(t *testing.T) {
	t.Setenv("WATCHPARTY_TRANSPORT_MODE", "loopback")
	t.Setenv("WATCHPARTY_TRANSPORT_PEERS", "10.0.0.7:4545,10.0.0.8:4545")
	t.Setenv("WATCHPARTY_HTTP_PORT", "9090")
	t.Setenv("WATCHPARTY_LOGGING_LEVEL", "debug")
	t.Setenv("WATCHPARTY_COORDINATOR_ACTIVATION_TIMEOUT", "5")

	config, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.Transport.Mode != TransportLoopback {
		t.Errorf("Expected loopback mode, got %s", config.Transport.Mode)
	}
	if len(config.Transport.Peers) != 2 {
		t.Errorf("Expected two peers, got %v", config.Transport.Peers)
	}
	if config.HTTP.Port != 9090 {
		t.Errorf("Expected http port 9090, got %d", config.HTTP.Port)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("Expected debug level, got %s", config.Logging.Level)
	}
	if config.Coordinator.GetActivationTimeout() != 5*time.Second {
		t.Errorf("Expected 5s activation timeout, got %v", config.Coordinator.GetActivationTimeout())
	}
}

func TestConfigLoadInvalidEnv(t *testing.T) {
	t.Setenv("WATCHPARTY_HTTP_PORT", "not-a-port")

	_, err := Load("")
	if err == nil {
		t.Fatalf("Expected error for invalid environment override")
	}
	if !strings.Contains(err.Error(), "environment overrides") {
		t.Errorf("Expected environment error, got: %v", err)
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	transport := TransportConfig{
		HeartbeatInterval: 1.5,
		PeerTimeout:       10,
	}

	if transport.GetHeartbeatInterval() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", transport.GetHeartbeatInterval())
	}

	if transport.GetPeerTimeout() != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", transport.GetPeerTimeout())
	}

	coordinator := CoordinatorConfig{ActivationTimeout: 0.5}
	if coordinator.GetActivationTimeout() != 500*time.Millisecond {
		t.Errorf("Expected 0.5 seconds, got %v", coordinator.GetActivationTimeout())
	}
}
