package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid log level", func(c *Config) { c.Logging.Level = "INVALID" }, "oneof"},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, "Format"},
		{"invalid transport", func(c *Config) { c.Listen.Transport = "udp" }, "Transport"},
		{"listen address without port", func(c *Config) { c.Listen.Address = "localhost" }, "hostname_port"},
		{"relative websocket path", func(c *Config) { c.Listen.Path = "ws" }, "startswith"},
		{"unknown crypto", func(c *Config) { c.Crypto.Type = "rot13" }, "Crypto.Type"},
		{"chacha20 without key", func(c *Config) { c.Crypto.Type = "chacha20" }, "key is required"},
		{"chacha20 short key", func(c *Config) {
			c.Crypto.Type = "chacha20"
			c.Crypto.Key = "abcd"
		}, "must be 32 bytes"},
		{"non hex key", func(c *Config) { c.Crypto.Key = "zz" }, "hexadecimal"},
		{"websocket without path", func(c *Config) { c.Listen.Transport = TransportWebSocket }, "path is required"},
		{"unknown capture type", func(c *Config) { c.Capture.Type = "postgres" }, "Capture.Type"},
		{"s3 capture without bucket", func(c *Config) {
			c.Capture.Enabled = true
			c.Capture.Type = "s3"
		}, "s3.bucket is required"},
		{"bad header size", func(c *Config) { c.Network.HeaderSize = 3 }, "HeaderSize"},
		{"zero shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "ShutdownTimeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_ChaCha20WithKey(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Crypto.Type = "chacha20"
	cfg.Crypto.Key = strings.Repeat("ab", 32)

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid chacha20 config, got: %v", err)
	}
}

func TestValidate_NetworkRules(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Network.PendingBufferSize = 1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected error for a pending buffer smaller than one packet")
	}
	if !strings.HasPrefix(err.Error(), "network:") {
		t.Errorf("Expected network error, got: %v", err)
	}
}
