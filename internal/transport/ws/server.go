package ws

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/gobwas/ws"
	"github.com/omochice/toy-crypto-chat/internal/chat"
)

// DefaultHandshakeTimeout bounds how long a peer may take to complete the
// WebSocket handshake after connecting.
const DefaultHandshakeTimeout = 5 * time.Second

// Listener accepts TCP connections and upgrades them to WebSocket, one at a time.
type Listener struct {
	listener  net.Listener
	handshake time.Duration
}

// ListenOption configures a Listener.
type ListenOption func(*Listener)

// WithHandshakeTimeout overrides DefaultHandshakeTimeout.
func WithHandshakeTimeout(d time.Duration) ListenOption {
	return func(l *Listener) { l.handshake = d }
}

// Listen binds address and starts listening.
func Listen(address string, opts ...ListenOption) (*Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to start WebSocket listener: %w", err)
	}
	log.Printf("WebSocket listener bound to %s", ln.Addr().String())

	l := &Listener{listener: ln, handshake: DefaultHandshakeTimeout}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Upgrade performs the server side of the handshake on conn. It fails once
// timeout elapses, and closes conn if ctx is done first.
func Upgrade(ctx context.Context, conn net.Conn, timeout time.Duration) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	_ = conn.SetDeadline(time.Now().Add(timeout))
	_, err := ws.Upgrade(conn)
	if !stop() {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})
	return nil
}

// Accept blocks until a peer completes the WebSocket handshake or ctx is done.
// Connections that fail the handshake are dropped and accepting continues.
func (l *Listener) Accept(ctx context.Context) (chat.Conn, error) {
	stop := context.AfterFunc(ctx, func() { l.listener.Close() })
	defer stop()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to accept WebSocket connection: %w", err)
		}

		if err := Upgrade(ctx, conn, l.handshake); err != nil {
			if ctx.Err() != nil {
				conn.Close()
				return nil, ctx.Err()
			}
			log.Printf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}
		return NewServerConn(conn), nil
	}
}

// Addr returns the listening address.
func (l *Listener) Addr() string {
	if l.listener != nil {
		return l.listener.Addr().String()
	}
	return ""
}

// Close stops listening.
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Dial performs the WebSocket handshake with ws://host:port/.
func Dial(ctx context.Context, host string, port int) (chat.Conn, error) {
	url := "ws://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/"
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return NewClientConn(conn, br), nil
}
