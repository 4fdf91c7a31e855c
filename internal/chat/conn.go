// Package chat provides the encrypt/send and receive/decrypt loop shared by both peers.
package chat

import "context"

// Conn abstracts the duplex byte stream to the peer for both TCP and WebSocket.
// This interface isolates transport details from the chat loop.
type Conn interface {
	// Read reads exactly one frame (protocol.DataSize bytes).
	// Returns io.EOF when the peer closed the connection between frames.
	Read(ctx context.Context) ([]byte, error)

	// Write sends data completely or returns an error.
	Write(ctx context.Context, data []byte) error

	// CloseWrite tells the peer no more frames will be sent.
	CloseWrite() error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
