// Package crypt provides the AES-128-CBC session used to seal chat frames.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"sync"
)

const (
	// KeySize is the AES-128 key length in bytes.
	KeySize = 16
	// IVSize is the CBC initialization vector length in bytes.
	IVSize = aes.BlockSize
)

var (
	// ErrKeySize is returned when the key is not KeySize bytes.
	ErrKeySize   = errors.New("crypt: key must be 16 bytes")
	// ErrIVSize is returned when the IV is not IVSize bytes.
	ErrIVSize    = errors.New("crypt: iv must be 16 bytes")
	// ErrBlockSize is returned when a block handed to Transform has the wrong length.
	ErrBlockSize = errors.New("crypt: block length does not match session size")
	// ErrClosed is returned by Transform after Close.
	ErrClosed    = errors.New("crypt: session closed")
)

// Direction selects the transform applied by Session.Transform.
type Direction int

const (
	// Encrypt turns plaintext into ciphertext.
	Encrypt Direction = iota
	// Decrypt turns ciphertext back into plaintext.
	Decrypt
)

// String returns the string representation of Direction
func (d Direction) String() string {
	switch d {
	case Encrypt:
		return "ENCRYPT"
	case Decrypt:
		return "DECRYPT"
	default:
		return "UNKNOWN"
	}
}

// Session is an open AES-CBC context bound to one key and one IV.
// Every Transform restarts the chain from the session IV, so each block
// of size bytes is an independent CBC message.
type Session struct {
	mu     sync.Mutex
	block  cipher.Block
	key    [KeySize]byte
	iv     [IVSize]byte
	size   int
	closed bool
}

// Open creates a session for blocks of exactly size bytes.
func Open(key, iv []byte, size int) (*Session, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	if len(iv) != IVSize {
		return nil, ErrIVSize
	}
	if size <= 0 || size%aes.BlockSize != 0 {
		return nil, ErrBlockSize
	}

	s := &Session{size: size}
	copy(s.key[:], key)
	copy(s.iv[:], iv)

	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, err
	}
	s.block = block
	return s, nil
}

// Size returns the block length the session accepts.
func (s *Session) Size() int { return s.size }

// Transform encrypts or decrypts src into dst. Both must be Size() bytes long;
// dst and src may overlap entirely.
func (s *Session) Transform(dir Direction, dst, src []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if len(src) != s.size || len(dst) != s.size {
		return ErrBlockSize
	}

	var mode cipher.BlockMode
	switch dir {
	case Encrypt:
		mode = cipher.NewCBCEncrypter(s.block, s.iv[:])
	case Decrypt:
		mode = cipher.NewCBCDecrypter(s.block, s.iv[:])
	default:
		return errors.New("crypt: unknown direction")
	}
	mode.CryptBlocks(dst, src)
	return nil
}

// Close wipes the key material. Further transforms fail with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	zero(s.key[:])
	zero(s.iv[:])
	s.block = nil
	s.closed = true
	return nil
}

func zero(in []byte) {
	for i := range in {
		in[i] = 0
	}
}
