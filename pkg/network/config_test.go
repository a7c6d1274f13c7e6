package network

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "packetnet", cfg.WorkerGroup)
	assert.Equal(t, 2, cfg.HeaderSize)
	assert.Equal(t, 2, cfg.PacketIDSize)
	assert.Equal(t, 16*1024-1, cfg.MaxPacketSize)
	assert.Equal(t, cfg.HeaderSize+cfg.MaxPacketSize, cfg.PendingBufferSize)
	assert.Equal(t, OverflowBlock, cfg.OverflowPolicy)
	assert.Equal(t, 10*time.Second, cfg.SendTimeout)
	assert.Equal(t, binary.LittleEndian, cfg.Order())
	assert.Zero(t, cfg.InboundPacketBurst)
}

func TestConfig_DefaultsFollowHeaderSize(t *testing.T) {
	cfg := Config{HeaderSize: 1}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 255, cfg.MaxPacketSize)
	assert.Equal(t, 256, cfg.PendingBufferSize)
}

func TestConfig_RateBurstCoversOneTask(t *testing.T) {
	cfg := Config{InboundPacketRate: 10, MaxPacketsPerRead: 64}
	cfg.ApplyDefaults()
	assert.Equal(t, uint(64), cfg.InboundPacketBurst)

	cfg = Config{InboundPacketRate: 100}
	cfg.ApplyDefaults()
	assert.Equal(t, uint(200), cfg.InboundPacketBurst)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"header size", func(c *Config) { c.HeaderSize = 3 }},
		{"packet id size", func(c *Config) { c.PacketIDSize = 4 }},
		{"byte order", func(c *Config) { c.ByteOrder = "middle" }},
		{"max packet above header", func(c *Config) { c.HeaderSize = 1; c.MaxPacketSize = 256 }},
		{"pending too small", func(c *Config) { c.PendingBufferSize = 10 }},
		{"write smaller than header", func(c *Config) { c.WriteBufferSize = 3 }},
		{"overflow policy", func(c *Config) { c.OverflowPolicy = "spill" }},
		{"negative timeout", func(c *Config) { c.IdleTimeout = -time.Second }},
		{"negative retries", func(c *Config) { c.ConnectRetries = -1 }},
		{"backoff order", func(c *Config) { c.RetryBackoff = time.Minute; c.MaxRetryBackoff = time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfig_BufferSizes(t *testing.T) {
	cfg := testConfig()
	cfg.ApplyDefaults()
	sizes := cfg.BufferSizes()
	assert.Equal(t, 64, sizes.Read)
	assert.Equal(t, 202, sizes.Pending)
	assert.Equal(t, 256, sizes.Write)
}
