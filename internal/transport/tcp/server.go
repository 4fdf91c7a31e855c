package tcp

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"

	"github.com/omochice/toy-crypto-chat/internal/chat"
)

// Listener accepts TCP connections one at a time.
type Listener struct {
	listener net.Listener
}

// Listen binds address and starts listening.
func Listen(address string) (*Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to start TCP listener: %w", err)
	}
	log.Printf("Bound TCP socket to %s", ln.Addr().String())
	return &Listener{listener: ln}, nil
}

// Accept blocks until a peer connects or ctx is done.
// Cancelling ctx closes the listener.
func (l *Listener) Accept(ctx context.Context) (chat.Conn, error) {
	stop := context.AfterFunc(ctx, func() { l.listener.Close() })
	defer stop()

	conn, err := l.listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to accept TCP connection: %w", err)
	}
	return NewConn(conn), nil
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

// Dial resolves host and connects to port.
func Dial(ctx context.Context, host string, port int) (chat.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", host, err)
	}
	return NewConn(conn), nil
}
