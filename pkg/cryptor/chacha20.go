package cryptor

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// ErrInvalidKey is returned when a key has the wrong length.
var ErrInvalidKey = errors.New("cryptor: invalid key")

// KeySize is the ChaCha20 key length in bytes.
const KeySize = chacha20.KeySize

// Per-direction nonces. Both ends derive the same pair, so what the client
// encrypts with clientNonce the server decrypts with it.
var (
	serverNonce = [chacha20.NonceSize]byte{'s', 'r', 'v'}
	clientNonce = [chacha20.NonceSize]byte{'c', 'l', 'i'}
)

// ChaCha20 is a stream cryptor with independent keystreams for each
// direction. It provides confidentiality only: the key must be unique to the
// session, because every connection sharing a key starts at the same keystream
// position.
type ChaCha20 struct {
	out *chacha20.Cipher
	in  *chacha20.Cipher
}

// NewChaCha20 creates a cryptor for side using key.
func NewChaCha20(key []byte, side Side) (*ChaCha20, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}

	outNonce, inNonce := serverNonce, clientNonce
	if side == SideClient {
		outNonce, inNonce = clientNonce, serverNonce
	}

	out, err := chacha20.NewUnauthenticatedCipher(key, outNonce[:])
	if err != nil {
		return nil, fmt.Errorf("create outbound cipher: %w", err)
	}
	in, err := chacha20.NewUnauthenticatedCipher(key, inNonce[:])
	if err != nil {
		return nil, fmt.Errorf("create inbound cipher: %w", err)
	}
	return &ChaCha20{out: out, in: in}, nil
}

func (c *ChaCha20) Encrypt(p []byte) error {
	c.out.XORKeyStream(p, p)
	return nil
}

func (c *ChaCha20) Decrypt(p []byte) error {
	c.in.XORKeyStream(p, p)
	return nil
}

// ChaCha20Factory validates key once and returns a Factory for it.
func ChaCha20Factory(key []byte) (Factory, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	k := append([]byte(nil), key...)
	return func(side Side) (Cryptor, error) {
		return NewChaCha20(k, side)
	}, nil
}
