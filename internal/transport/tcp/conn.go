// Package tcp provides the TCP transport for the chat loop.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/omochice/toy-crypto-chat/internal/transport"
	"github.com/omochice/toy-crypto-chat/pkg/protocol"
)

// Conn adapts net.Conn to chat.Conn interface.
type Conn struct {
	conn net.Conn
}

// NewConn wraps a net.Conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

// Read implements chat.Conn.
// Blocks until a whole frame has arrived.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	buf := make([]byte, protocol.DataSize)
	n, err := io.ReadFull(c.conn, buf)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: got %d of %d bytes", protocol.ErrShortFrame, n, protocol.DataSize)
		}
		return nil, err
	}
	return buf, nil
}

// Write implements chat.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	_, err := transport.WriteFull(c.conn, data)
	return err
}

// CloseWrite implements chat.Conn.
// Connections without a write half to shut down are left untouched.
func (c *Conn) CloseWrite() error {
	if cw, ok := c.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
