package credentials

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// ErrUnseal is returned when a sealed value cannot be authenticated.
var ErrUnseal = errors.New("credential cannot be unsealed")

// Sealer encrypts values with NaCl secretbox under a single 32-byte key.
type Sealer struct {
	key [32]byte
}

// NewSealer builds a Sealer for key.
func NewSealer(key [32]byte) *Sealer {
	return &Sealer{key: key}
}

// Seal encrypts plaintext and prefixes the random nonce.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrUnseal
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrUnseal
	}
	return out, nil
}
