package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced, explicit values are preserved. Store-specific
// defaults are handled by the store constructors.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	cfg.Network.ApplyDefaults()
	applyListenDefaults(&cfg.Listen)
	applyClientDefaults(&cfg.Client, &cfg.Listen)
	applyCryptoDefaults(&cfg.Crypto)
	applyCaptureDefaults(&cfg.Capture)

	// One shutdown budget for the whole process.
	if cfg.Network.ShutdownTimeout > cfg.Server.ShutdownTimeout {
		cfg.Network.ShutdownTimeout = cfg.Server.ShutdownTimeout
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

func applyListenDefaults(cfg *ListenConfig) {
	if cfg.Address == "" {
		cfg.Address = "0.0.0.0:7777"
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportTCP
	}
	cfg.Transport = strings.ToLower(cfg.Transport)
	if cfg.Transport == TransportWebSocket && cfg.Path == "" {
		cfg.Path = "/ws"
	}
}

// applyClientDefaults mirrors the listen endpoint so a default client reaches
// a default server on the same host.
func applyClientDefaults(cfg *ClientConfig, listen *ListenConfig) {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:7777"
	}
	if cfg.Transport == "" {
		cfg.Transport = listen.Transport
	}
	cfg.Transport = strings.ToLower(cfg.Transport)
	if cfg.Transport == TransportWebSocket && cfg.Path == "" {
		cfg.Path = listen.Path
		if cfg.Path == "" {
			cfg.Path = "/ws"
		}
	}
}

func applyCryptoDefaults(cfg *CryptoConfig) {
	if cfg.Type == "" {
		cfg.Type = "none"
	}
	cfg.Type = strings.ToLower(cfg.Type)
}

func applyCaptureDefaults(cfg *CaptureConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	cfg.Recorder.ApplyDefaults()

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	// Shown in generated config files even when another type is selected.
	if _, ok := cfg.Badger["path"]; !ok {
		cfg.Badger["path"] = "/tmp/packetnet-capture"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
