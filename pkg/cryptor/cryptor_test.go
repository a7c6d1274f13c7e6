package cryptor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeySize)
}

func TestNoop(t *testing.T) {
	c, err := NoopFactory()(SideServer)
	require.NoError(t, err)

	p := []byte("plain")
	require.NoError(t, c.Encrypt(p))
	require.NoError(t, c.Decrypt(p))
	assert.Equal(t, "plain", string(p))
}

func TestChaCha20_ClientToServer(t *testing.T) {
	client, err := NewChaCha20(testKey(), SideClient)
	require.NoError(t, err)
	server, err := NewChaCha20(testKey(), SideServer)
	require.NoError(t, err)

	msg := []byte("hello over the wire")
	wire := append([]byte(nil), msg...)
	require.NoError(t, client.Encrypt(wire))
	assert.NotEqual(t, msg, wire)

	require.NoError(t, server.Decrypt(wire))
	assert.Equal(t, msg, wire)
}

func TestChaCha20_StreamSurvivesArbitrarySplits(t *testing.T) {
	client, err := NewChaCha20(testKey(), SideClient)
	require.NoError(t, err)
	server, err := NewChaCha20(testKey(), SideServer)
	require.NoError(t, err)

	msg := bytes.Repeat([]byte("0123456789"), 20)
	wire := append([]byte(nil), msg...)
	require.NoError(t, client.Encrypt(wire[:7]))
	require.NoError(t, client.Encrypt(wire[7:130]))
	require.NoError(t, client.Encrypt(wire[130:]))

	for i := 0; i < len(wire); i += 3 {
		end := min(i+3, len(wire))
		require.NoError(t, server.Decrypt(wire[i:end]))
	}
	assert.Equal(t, msg, wire)
}

func TestChaCha20_DirectionsUseDistinctKeystreams(t *testing.T) {
	c, err := NewChaCha20(testKey(), SideClient)
	require.NoError(t, err)

	a := make([]byte, 16)
	b := make([]byte, 16)
	require.NoError(t, c.Encrypt(a))
	require.NoError(t, c.Decrypt(b))
	assert.NotEqual(t, a, b)
}

func TestChaCha20_InvalidKey(t *testing.T) {
	_, err := NewChaCha20([]byte("short"), SideServer)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = ChaCha20Factory(nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNew(t *testing.T) {
	f, err := New("none", nil)
	require.NoError(t, err)
	c, err := f(SideClient)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, c)

	f, err = New("ChaCha20", testKey())
	require.NoError(t, err)
	c, err = f(SideServer)
	require.NoError(t, err)
	assert.IsType(t, &ChaCha20{}, c)

	_, err = New("rot13", nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}
