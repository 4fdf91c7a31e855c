// Package ws provides the WebSocket transport for the chat loop.
// Each frame travels as one binary WebSocket message.
package ws

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/omochice/toy-crypto-chat/internal/transport"
	"github.com/omochice/toy-crypto-chat/pkg/protocol"
)

// closeTimeout bounds the close frame write on shutdown.
const closeTimeout = time.Second

// Conn adapts a WebSocket connection using gobwas/ws to chat.Conn interface.
type Conn struct {
	conn   net.Conn
	reader io.Reader
	state  ws.State

	wmu       sync.Mutex
	closeSent bool

	pending []byte
}

// NewServerConn wraps an upgraded server-side connection.
func NewServerConn(conn net.Conn) *Conn {
	return &Conn{conn: conn, reader: conn, state: ws.StateServerSide}
}

// NewClientConn wraps a dialed client-side connection. br holds any bytes the
// server sent right after the handshake and may be nil.
func NewClientConn(conn net.Conn, br *bufio.Reader) *Conn {
	c := &Conn{conn: conn, reader: conn, state: ws.StateClientSide}
	if br != nil {
		c.reader = br
	}
	return c
}

// Read implements chat.Conn.
// Message boundaries are not trusted: payloads are buffered and cut into frames.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	for len(c.pending) < protocol.DataSize {
		data, err := c.readMessage()
		if err != nil {
			if isClosed(err) {
				if len(c.pending) == 0 {
					return nil, io.EOF
				}
				return nil, fmt.Errorf("%w: got %d of %d bytes", protocol.ErrShortFrame, len(c.pending), protocol.DataSize)
			}
			return nil, err
		}
		c.pending = append(c.pending, data...)
	}

	frame := make([]byte, protocol.DataSize)
	copy(frame, c.pending)
	c.pending = c.pending[protocol.DataSize:]
	if len(c.pending) == 0 {
		c.pending = nil
	}
	return frame, nil
}

// Write implements chat.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	return c.writeMessage(ws.OpBinary, data)
}

// CloseWrite implements chat.Conn.
// Sends a normal closure frame; the peer sees end of stream.
func (c *Conn) CloseWrite() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(closeTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	return c.sendClose()
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	c.wmu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(closeTimeout))
	_ = c.sendClose()
	c.wmu.Unlock()
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Conn) sendClose() error {
	if c.closeSent {
		return nil
	}
	c.closeSent = true
	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	return c.write(ws.OpClose, body)
}

func (c *Conn) writeMessage(op ws.OpCode, p []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.write(op, p)
}

// write must be called with wmu held.
func (c *Conn) write(op ws.OpCode, p []byte) error {
	w := transport.InsistWriter(c.conn)
	if c.state.ClientSide() {
		return wsutil.WriteClientMessage(w, op, p)
	}
	return wsutil.WriteServerMessage(w, op, p)
}

// readMessage returns the payload of the next binary message, answering
// control frames on the way. Replies are buffered and flushed under the
// write lock so they never interleave with a data frame.
func (c *Conn) readMessage() ([]byte, error) {
	var reply bytes.Buffer
	control := wsutil.ControlFrameHandler(&reply, c.state)
	rd := wsutil.Reader{
		Source:         c.reader,
		State:          c.state,
		OnIntermediate: control,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}

		if hdr.OpCode.IsControl() {
			err := control(hdr, &rd)
			if ferr := c.flush(&reply, hdr.OpCode == ws.OpClose); ferr != nil && err == nil {
				err = ferr
			}
			if err != nil {
				return nil, err
			}
			continue
		}

		if hdr.OpCode != ws.OpBinary {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}

		data, err := io.ReadAll(&rd)
		if ferr := c.flush(&reply, false); ferr != nil && err == nil {
			err = ferr
		}
		return data, err
	}
}

// flush writes buffered control replies. closing marks the close handshake
// as answered so Close does not send a second close frame.
func (c *Conn) flush(reply *bytes.Buffer, closing bool) error {
	if reply.Len() == 0 {
		return nil
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if closing {
		if c.closeSent {
			reply.Reset()
			return nil
		}
		c.closeSent = true
	}
	_, err := transport.WriteFull(c.conn, reply.Bytes())
	reply.Reset()
	return err
}

func isClosed(err error) bool {
	var closed wsutil.ClosedError
	return errors.Is(err, io.EOF) || errors.As(err, &closed)
}
