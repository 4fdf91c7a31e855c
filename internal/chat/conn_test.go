package chat_test

import (
	"context"
	"io"
	"sync"

	"github.com/omochice/toy-crypto-chat/internal/chat"
)

// fakeConn is an in-memory chat.Conn. Frames queued on inbound are returned
// by Read; closing inbound makes Read report a clean peer close.
type fakeConn struct {
	inbound  chan []byte
	readErr  error
	writeErr error
	addr     string

	mu         sync.Mutex
	sent       [][]byte
	closed     bool
	halfClosed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 10),
		addr:    "127.0.0.1:1234",
	}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	select {
	case frame, ok := <-f.inbound:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(_ context.Context, data []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) CloseWrite() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.halfClosed = true
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) RemoteAddr() string { return f.addr }

// Sent returns a copy of the frames written so far.
func (f *fakeConn) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

// Shutdown reports whether Close and CloseWrite were called.
func (f *fakeConn) Shutdown() (closed, halfClosed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.halfClosed
}

var _ chat.Conn = (*fakeConn)(nil)
