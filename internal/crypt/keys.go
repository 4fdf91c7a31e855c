package crypt

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Compiled-in defaults. Peers running with no passphrase or explicit key
// interoperate with each other only through these values.
const (
	DefaultKey = "SA342JAID857FA3J"
	DefaultIV  = "S12D2JA3TL57FA3G"
)

const deriveInfo = "toy-crypto-chat key+iv"

// ErrEmptyPassphrase is returned by DeriveKeyIV for an empty passphrase.
var ErrEmptyPassphrase = errors.New("crypt: empty passphrase")

// Keys is the key/IV pair a session is opened with.
type Keys struct {
	Key []byte
	IV  []byte
}

// DefaultKeys returns the compiled-in key/IV pair.
func DefaultKeys() Keys {
	return Keys{Key: []byte(DefaultKey), IV: []byte(DefaultIV)}
}

// Validate checks the key and IV lengths.
func (k Keys) Validate() error {
	if len(k.Key) != KeySize {
		return ErrKeySize
	}
	if len(k.IV) != IVSize {
		return ErrIVSize
	}
	return nil
}

// Open opens a session for blocks of size bytes with these keys.
func (k Keys) Open(size int) (*Session, error) {
	return Open(k.Key, k.IV, size)
}

// DeriveKeyIV derives a key and IV from a shared passphrase using HKDF-SHA256.
func DeriveKeyIV(passphrase string) (Keys, error) {
	if passphrase == "" {
		return Keys{}, ErrEmptyPassphrase
	}

	hk := hkdf.New(sha256.New, []byte(passphrase), nil, []byte(deriveInfo))
	material := make([]byte, KeySize+IVSize)
	if _, err := io.ReadFull(hk, material); err != nil {
		return Keys{}, fmt.Errorf("failed to derive keys: %w", err)
	}
	return Keys{Key: material[:KeySize], IV: material[KeySize:]}, nil
}
