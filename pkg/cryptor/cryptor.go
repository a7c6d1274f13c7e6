// Package cryptor defines the per-connection byte transform applied to the
// wire stream and its implementations.
package cryptor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownType is returned by New for an unsupported cryptor type.
var ErrUnknownType = errors.New("cryptor: unknown type")

// Cryptor transforms a byte region in place.
//
// A Cryptor is created per connection and holds its stream state: Encrypt is
// only ever called from the connection's writer and Decrypt from its reader,
// each on contiguous stream positions. Implementations must not change the
// length of the region.
type Cryptor interface {
	Encrypt(p []byte) error
	Decrypt(p []byte) error
}

// Side tells a Factory which end of the connection the cryptor serves.
// Stream ciphers use it to pick the keystream for each direction.
type Side uint8

const (
	SideServer Side = iota
	SideClient
)

func (s Side) String() string {
	if s == SideClient {
		return "client"
	}
	return "server"
}

// Factory creates a fresh Cryptor for one connection.
type Factory func(side Side) (Cryptor, error)

// Noop leaves bytes untouched.
type Noop struct{}

func (Noop) Encrypt([]byte) error { return nil }
func (Noop) Decrypt([]byte) error { return nil }

// NoopFactory returns a Factory producing Noop cryptors.
func NoopFactory() Factory {
	return func(Side) (Cryptor, error) { return Noop{}, nil }
}

// New builds a Factory by type name. key is only used by keyed types.
func New(typ string, key []byte) (Factory, error) {
	switch strings.ToLower(typ) {
	case "", "none", "noop":
		return NoopFactory(), nil
	case "chacha20":
		return ChaCha20Factory(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
}
