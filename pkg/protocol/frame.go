// Package protocol defines the fixed-size encrypted frame exchanged between peers.
//
// Every message on the wire is exactly DataSize bytes: the AES-CBC encryption
// of a DataSize plaintext buffer holding one line followed by a NUL byte.
// There is no length prefix or type tag; the block size is the delimiter.
package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/omochice/toy-crypto-chat/internal/crypt"
)

const (
	// DataSize is the length of every frame on the wire.
	DataSize = 128
	// MaxLine is the longest line a frame can carry; one byte is kept for the NUL.
	MaxLine = DataSize - 1
)

var (
	// ErrLineTooLong is returned by Pack for lines longer than MaxLine.
	ErrLineTooLong = errors.New("protocol: line longer than 127 bytes")
	// ErrShortFrame is returned when the stream ends partway through a frame.
	ErrShortFrame  = errors.New("protocol: connection closed inside a frame")
)

// Frame is one wire block.
type Frame [DataSize]byte

// Transformer applies the block cipher to a whole frame.
type Transformer interface {
	Transform(dir crypt.Direction, dst, src []byte) error
}

// Pack places line into a zeroed frame and terminates it with NUL.
func Pack(line []byte) (Frame, error) {
	var f Frame
	if len(line) > MaxLine {
		return f, fmt.Errorf("%w: %d", ErrLineTooLong, len(line))
	}
	copy(f[:], line)
	f[len(line)] = 0
	return f, nil
}

// Text returns the bytes of f up to the first NUL, or all of f if it has none.
func Text(f Frame) []byte {
	if i := bytes.IndexByte(f[:], 0); i >= 0 {
		return f[:i]
	}
	return f[:]
}

// Seal packs line and encrypts it into a wire frame.
func Seal(c Transformer, line []byte) (Frame, error) {
	plain, err := Pack(line)
	if err != nil {
		return Frame{}, err
	}
	var out Frame
	if err := c.Transform(crypt.Encrypt, out[:], plain[:]); err != nil {
		return Frame{}, fmt.Errorf("failed to encrypt frame: %w", err)
	}
	return out, nil
}

// Open decrypts a wire frame and returns the line it carries.
func Open(c Transformer, f Frame) ([]byte, error) {
	var plain Frame
	if err := c.Transform(crypt.Decrypt, plain[:], f[:]); err != nil {
		return nil, fmt.Errorf("failed to decrypt frame: %w", err)
	}
	return Text(plain), nil
}

// FromBytes copies a received block into a Frame. The block must be exactly DataSize bytes.
func FromBytes(b []byte) (Frame, error) {
	var f Frame
	if len(b) != DataSize {
		return f, fmt.Errorf("%w: got %d bytes", ErrShortFrame, len(b))
	}
	copy(f[:], b)
	return f, nil
}
