package server_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/omochice/toy-crypto-chat/internal/chat"
	"github.com/omochice/toy-crypto-chat/internal/server"
	"github.com/omochice/toy-crypto-chat/internal/transport/ws"
	"github.com/omochice/toy-crypto-chat/pkg/protocol"
)

func listenAuto(t *testing.T) *server.AutoListener {
	t.Helper()
	ln, err := server.ListenAuto("127.0.0.1:0", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("ListenAuto() error = %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

func acceptAsync(ln *server.AutoListener) (<-chan chat.Conn, <-chan error) {
	connCh := make(chan chat.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		connCh <- conn
	}()
	return connCh, errCh
}

func waitConn(t *testing.T, connCh <-chan chat.Conn, errCh <-chan error) chat.Conn {
	t.Helper()
	select {
	case conn := <-connCh:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case err := <-errCh:
		t.Fatalf("Accept() error = %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for Accept")
	}
	return nil
}

func frameOf(b byte) []byte {
	return bytes.Repeat([]byte{b}, protocol.DataSize)
}

func TestAutoListener_RawTCPFirstFrame(t *testing.T) {
	ln := listenAuto(t)
	connCh, errCh := acceptAsync(ln)

	peer, err := net.Dial("tcp", ln.Addr())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer peer.Close()
	if _, err := peer.Write(frameOf(0x42)); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	conn := waitConn(t, connCh, errCh)
	got, err := conn.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, frameOf(0x42)) {
		t.Error("peeked bytes were lost")
	}
}

func TestAutoListener_SilentTCPPeer(t *testing.T) {
	ln := listenAuto(t)
	connCh, errCh := acceptAsync(ln)

	peer, err := net.Dial("tcp", ln.Addr())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer peer.Close()

	conn := waitConn(t, connCh, errCh)
	if err := conn.Write(context.Background(), frameOf(0x01)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	buf := make([]byte, protocol.DataSize)
	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := peer.Read(buf); err != nil {
		t.Fatalf("peer failed to read: %v", err)
	}

	// Deadline from detection must not linger.
	time.Sleep(150 * time.Millisecond)
	if _, err := peer.Write(frameOf(0x02)); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	got, err := conn.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, frameOf(0x02)) {
		t.Error("unexpected frame")
	}
}

func TestAutoListener_WebSocketPeer(t *testing.T) {
	ln := listenAuto(t)
	connCh, errCh := acceptAsync(ln)

	host, portStr, _ := net.SplitHostPort(ln.Addr())
	port, _ := strconv.Atoi(portStr)
	client, err := ws.Dial(context.Background(), host, port)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	conn := waitConn(t, connCh, errCh)
	if err := client.Write(context.Background(), frameOf(0x07)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := conn.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, frameOf(0x07)) {
		t.Error("unexpected frame over WebSocket")
	}
}

func TestAutoListener_AcceptCancelled(t *testing.T) {
	ln := listenAuto(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := ln.Accept(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Accept() error = %v, want context.Canceled", err)
	}
}

func TestAutoListener_StalledHandshakeCancelled(t *testing.T) {
	ln := listenAuto(t)

	peer, err := net.Dial("tcp", ln.Addr())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer peer.Close()
	if _, err := peer.Write([]byte("GET ")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := ln.Accept(ctx)
		errCh <- err
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Accept() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Accept() still blocked on a stalled handshake after cancel")
	}
}
