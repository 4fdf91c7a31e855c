package server

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/omochice/toy-crypto-chat/internal/chat"
	"github.com/omochice/toy-crypto-chat/internal/transport/tcp"
	wst "github.com/omochice/toy-crypto-chat/internal/transport/ws"
)

// DefaultSniffTimeout bounds how long Accept waits for the first bytes of a
// connection before treating it as raw TCP.
const DefaultSniffTimeout = 500 * time.Millisecond

type protocolType int

const (
	protocolTCP protocolType = iota
	protocolHTTP
)

func (p protocolType) String() string {
	if p == protocolHTTP {
		return "ws"
	}
	return "tcp"
}

// AutoListener accepts raw TCP and WebSocket peers on the same port.
type AutoListener struct {
	listener  net.Listener
	sniff     time.Duration
	handshake time.Duration
}

// ListenAuto binds address. sniff is how long to wait for a WebSocket
// handshake; a raw TCP initiator may stay silent until its user types.
func ListenAuto(address string, sniff time.Duration) (*AutoListener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to start listener: %w", err)
	}
	log.Printf("Bound socket to %s (TCP and WebSocket)", ln.Addr().String())
	return &AutoListener{listener: ln, sniff: sniff, handshake: wst.DefaultHandshakeTimeout}, nil
}

// Accept blocks until a peer connects or ctx is done. Peers that start an
// HTTP request are upgraded to WebSocket; all others are served as raw TCP.
func (l *AutoListener) Accept(ctx context.Context) (chat.Conn, error) {
	stop := context.AfterFunc(ctx, func() { l.listener.Close() })
	defer stop()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to accept connection: %w", err)
		}

		kind, reader := detectProtocol(conn, l.sniff)
		bc := &bufferedConn{Conn: conn, reader: reader}
		log.Printf("Detected %s peer at %s", kind, conn.RemoteAddr())
		if kind == protocolTCP {
			return tcp.NewConn(bc), nil
		}

		if err := wst.Upgrade(ctx, bc, l.handshake); err != nil {
			if ctx.Err() != nil {
				conn.Close()
				return nil, ctx.Err()
			}
			log.Printf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}
		return wst.NewServerConn(bc), nil
	}
}

// Addr returns the listening address.
func (l *AutoListener) Addr() string {
	if l.listener != nil {
		return l.listener.Addr().String()
	}
	return ""
}

// Close stops listening.
func (l *AutoListener) Close() error {
	return l.listener.Close()
}

// detectProtocol peeks at the first bytes to determine protocol type.
// Ciphertext frames carry no marker, so a frame that happens to start with
// "GET " is misdetected.
func detectProtocol(conn net.Conn, timeout time.Duration) (protocolType, *bufio.Reader) {
	reader := bufio.NewReader(conn)

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	peek, _ := reader.Peek(4)
	_ = conn.SetReadDeadline(time.Time{})

	if bytes.Equal(peek, []byte("GET ")) {
		return protocolHTTP, reader
	}
	return protocolTCP, reader
}

// bufferedConn wraps a net.Conn with a bufio.Reader to preserve peeked data.
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (bc *bufferedConn) Read(p []byte) (int, error) {
	return bc.reader.Read(p)
}

func (bc *bufferedConn) CloseWrite() error {
	if cw, ok := bc.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}
