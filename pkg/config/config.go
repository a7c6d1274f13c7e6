package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/packetnet/pkg/capture"
	"github.com/marmos91/packetnet/pkg/network"
	"github.com/spf13/viper"
)

// Config represents the complete packetnet configuration.
//
// It captures:
//   - Logging configuration
//   - Server-wide settings (shutdown, metrics endpoint)
//   - Network tuning shared by servers and clients
//   - Listen and client endpoints with their transport
//   - Stream encryption
//   - Traffic capture and its store
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (PACKETNET_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Capture stores follow a type-specific pattern: the capture section holds
// one map per store type and only the map matching Type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Network tunes framing, buffers, workers and backpressure
	Network network.Config `mapstructure:"network" yaml:"network"`

	// Listen is where the server accepts connections
	Listen ListenConfig `mapstructure:"listen" yaml:"listen"`

	// Client is where client commands connect to
	Client ClientConfig `mapstructure:"client" yaml:"client"`

	// Crypto selects the stream cipher
	Crypto CryptoConfig `mapstructure:"crypto" yaml:"crypto"`

	// Capture records traffic to a store
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection and the HTTP endpoint on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port of the metrics endpoint
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// Transport names.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// ListenConfig describes the server endpoint.
type ListenConfig struct {
	// Address is host:port to listen on
	Address string `mapstructure:"address" yaml:"address" validate:"required,hostname_port"`

	// Transport is tcp or websocket
	Transport string `mapstructure:"transport" yaml:"transport" validate:"required,oneof=tcp websocket"`

	// Path is the WebSocket upgrade endpoint; ignored for tcp
	Path string `mapstructure:"path" yaml:"path" validate:"omitempty,startswith=/"`

	// MaxMessageSize bounds one inbound WebSocket message (0 = unlimited)
	MaxMessageSize int64 `mapstructure:"max_message_size" yaml:"max_message_size" validate:"min=0"`
}

// ClientConfig describes the endpoint client commands dial.
type ClientConfig struct {
	// Address is host:port to connect to
	Address string `mapstructure:"address" yaml:"address" validate:"required,hostname_port"`

	// Transport is tcp or websocket
	Transport string `mapstructure:"transport" yaml:"transport" validate:"required,oneof=tcp websocket"`

	// Path is the WebSocket upgrade endpoint; ignored for tcp
	Path string `mapstructure:"path" yaml:"path" validate:"omitempty,startswith=/"`
}

// CryptoConfig selects the stream cipher applied to every connection.
type CryptoConfig struct {
	// Type is none or chacha20
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=none chacha20"`

	// Key is the hex-encoded shared key, required for chacha20
	Key string `mapstructure:"key" yaml:"key" validate:"omitempty,hexadecimal"`
}

// CaptureConfig configures traffic capture.
type CaptureConfig struct {
	// Enabled records every inbound and outbound payload
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Type specifies which capture store implementation to use
	// Valid values: memory, badger, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger s3"`

	// Recorder controls batching toward the store
	Recorder capture.Config `mapstructure:"recorder" yaml:"recorder"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PACKETNET_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath searches the default location; a missing file there is
// not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: PACKETNET_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("PACKETNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper knows about, so register every
	// scalar key the environment may override.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

var envKeys = []string{
	"logging.level", "logging.format", "logging.output",
	"server.shutdown_timeout", "server.metrics.enabled", "server.metrics.port",
	"listen.address", "listen.transport", "listen.path",
	"client.address", "client.transport", "client.path",
	"crypto.type", "crypto.key",
	"capture.enabled", "capture.type",
	"network.workers", "network.max_connections", "network.idle_timeout",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/packetnet, ~/.config/packetnet, or
// "." when the home directory is unknown.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "packetnet")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "packetnet")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
