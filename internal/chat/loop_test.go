package chat_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/omochice/toy-crypto-chat/internal/chat"
	"github.com/omochice/toy-crypto-chat/internal/console"
	"github.com/omochice/toy-crypto-chat/internal/crypt"
	"github.com/omochice/toy-crypto-chat/pkg/protocol"
)

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("stdout closed") }

func newSession(t *testing.T) *crypt.Session {
	t.Helper()
	s, err := crypt.DefaultKeys().Open(protocol.DataSize)
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	return s
}

func seal(t *testing.T, line string) []byte {
	t.Helper()
	s := newSession(t)
	defer s.Close()
	f, err := protocol.Seal(s, []byte(line))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	return f[:]
}

func open(t *testing.T, data []byte) string {
	t.Helper()
	s := newSession(t)
	defer s.Close()
	f, err := protocol.FromBytes(data)
	if err != nil {
		t.Fatalf("FromBytes() error = %v", err)
	}
	text, err := protocol.Open(s, f)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return string(text)
}

func lineChan(lines ...string) chan console.Line {
	ch := make(chan console.Line, len(lines))
	for _, l := range lines {
		ch <- console.Line{Data: []byte(l)}
	}
	return ch
}

func runLoop(t *testing.T, l *chat.Loop, ctx context.Context) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for loop to finish")
		return nil
	}
}

func waitWritten(t *testing.T, conn *fakeConn, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w := conn.Sent(); len(w) >= n {
			return w
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d frames", n)
	return nil
}

func TestLoop_ReceiveHello(t *testing.T) {
	conn := newFakeConn()
	conn.inbound <- seal(t, "hello\n")
	close(conn.inbound)

	out := &syncBuffer{}
	s := newSession(t)
	l := chat.NewLoop(conn, s, nil, out, chat.WithCloser(s))

	if err := waitErr(t, runLoop(t, l, context.Background())); err != nil {
		t.Fatalf("Run() error = %v, want nil on peer close", err)
	}

	want := "\nRemote said:\nhello\n\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if got := l.Stats().FramesReceived; got != 1 {
		t.Errorf("FramesReceived = %d, want 1", got)
	}
}

func TestLoop_PeerCloseReleasesResources(t *testing.T) {
	conn := newFakeConn()
	close(conn.inbound)

	s := newSession(t)
	l := chat.NewLoop(conn, s, nil, &syncBuffer{}, chat.WithCloser(s))

	if err := waitErr(t, runLoop(t, l, context.Background())); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if l.State() != chat.StateClosed {
		t.Errorf("State() = %v, want %v", l.State(), chat.StateClosed)
	}
	closed, closeWrite := conn.Shutdown()
	if !closed {
		t.Error("connection was not closed")
	}
	if closeWrite {
		t.Error("CloseWrite called without WithHalfClose")
	}
	buf := make([]byte, protocol.DataSize)
	if err := s.Transform(crypt.Encrypt, buf, buf); !errors.Is(err, crypt.ErrClosed) {
		t.Errorf("session still usable after loop end: %v", err)
	}
}

func TestLoop_HalfClose(t *testing.T) {
	conn := newFakeConn()
	close(conn.inbound)

	l := chat.NewLoop(conn, newSession(t), nil, &syncBuffer{}, chat.WithHalfClose())
	if err := waitErr(t, runLoop(t, l, context.Background())); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if closed, closeWrite := conn.Shutdown(); !closed || !closeWrite {
		t.Errorf("closed=%v closeWrite=%v, want both true", closed, closeWrite)
	}
}

func TestLoop_SendsLinesInOrder(t *testing.T) {
	conn := newFakeConn()
	lines := lineChan("first\n", "second\n")
	close(lines)

	l := chat.NewLoop(conn, newSession(t), lines, &syncBuffer{})
	errCh := runLoop(t, l, context.Background())

	written := waitWritten(t, conn, 2)
	close(conn.inbound)
	if err := waitErr(t, errCh); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for i, want := range []string{"first\n", "second\n"} {
		if len(written[i]) != protocol.DataSize {
			t.Errorf("frame %d has %d bytes, want %d", i, len(written[i]), protocol.DataSize)
		}
		if got := open(t, written[i]); got != want {
			t.Errorf("frame %d = %q, want %q", i, got, want)
		}
	}
	st := l.Stats()
	if st.FramesSent != 2 || st.BytesSent != len("first\n")+len("second\n") {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestLoop_LocalAndRemoteBothHandled(t *testing.T) {
	conn := newFakeConn()
	conn.inbound <- seal(t, "from peer\n")
	lines := lineChan("from me\n")

	out := &syncBuffer{}
	l := chat.NewLoop(conn, newSession(t), lines, out)
	errCh := runLoop(t, l, context.Background())

	waitWritten(t, conn, 1)
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "from peer") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(conn.inbound)

	if err := waitErr(t, errCh); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "from peer") {
		t.Errorf("output %q missing remote line", out.String())
	}
}

func TestLoop_LocalEOFKeepsReceiving(t *testing.T) {
	conn := newFakeConn()
	lines := make(chan console.Line)
	close(lines)

	out := &syncBuffer{}
	l := chat.NewLoop(conn, newSession(t), lines, out)
	errCh := runLoop(t, l, context.Background())

	conn.inbound <- seal(t, "still here\n")
	close(conn.inbound)

	if err := waitErr(t, errCh); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "still here") {
		t.Errorf("output %q missing line received after local EOF", out.String())
	}
}

func TestLoop_ReadError(t *testing.T) {
	conn := newFakeConn()
	conn.readErr = errors.New("connection reset by peer")

	l := chat.NewLoop(conn, newSession(t), nil, &syncBuffer{})
	err := waitErr(t, runLoop(t, l, context.Background()))

	var te *chat.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Run() error = %v, want *TransportError", err)
	}
	if te.Op != "read" {
		t.Errorf("Op = %q, want read", te.Op)
	}
	if !strings.Contains(err.Error(), "read from remote peer failed") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestLoop_ShortFrame(t *testing.T) {
	conn := newFakeConn()
	conn.inbound <- make([]byte, 10)

	l := chat.NewLoop(conn, newSession(t), nil, &syncBuffer{})
	err := waitErr(t, runLoop(t, l, context.Background()))

	if !errors.Is(err, protocol.ErrShortFrame) {
		t.Errorf("Run() error = %v, want ErrShortFrame", err)
	}
}

func TestLoop_WriteError(t *testing.T) {
	conn := newFakeConn()
	conn.writeErr = errors.New("broken pipe")

	l := chat.NewLoop(conn, newSession(t), lineChan("hi\n"), &syncBuffer{})
	err := waitErr(t, runLoop(t, l, context.Background()))

	var te *chat.TransportError
	if !errors.As(err, &te) || te.Op != "write" {
		t.Fatalf("Run() error = %v, want write *TransportError", err)
	}
}

func TestLoop_CipherError(t *testing.T) {
	conn := newFakeConn()
	s := newSession(t)
	s.Close()

	l := chat.NewLoop(conn, s, lineChan("hi\n"), &syncBuffer{})
	err := waitErr(t, runLoop(t, l, context.Background()))

	var ce *chat.CipherError
	if !errors.As(err, &ce) {
		t.Fatalf("Run() error = %v, want *CipherError", err)
	}
	if !errors.Is(err, crypt.ErrClosed) {
		t.Errorf("Run() error = %v, want it to wrap ErrClosed", err)
	}
}

func TestLoop_LocalInputError(t *testing.T) {
	conn := newFakeConn()
	boom := errors.New("stdin gone")
	lines := make(chan console.Line, 1)
	lines <- console.Line{Err: boom}

	l := chat.NewLoop(conn, newSession(t), lines, &syncBuffer{})
	err := waitErr(t, runLoop(t, l, context.Background()))

	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
	var te *chat.TransportError
	if errors.As(err, &te) {
		t.Error("local input error must not be a transport error")
	}
}

func TestLoop_OutputError(t *testing.T) {
	conn := newFakeConn()
	conn.inbound <- seal(t, "x\n")

	l := chat.NewLoop(conn, newSession(t), nil, failingWriter{})
	if err := waitErr(t, runLoop(t, l, context.Background())); err == nil {
		t.Error("expected error when output fails")
	}
}

func TestLoop_Cancel(t *testing.T) {
	conn := newFakeConn()

	ctx, cancel := context.WithCancel(context.Background())
	l := chat.NewLoop(conn, newSession(t), nil, &syncBuffer{})
	errCh := runLoop(t, l, ctx)

	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := waitErr(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if closed, _ := conn.Shutdown(); !closed {
		t.Error("connection was not closed on cancel")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state chat.State
		want  string
	}{
		{chat.StateWaiting, "WAITING_FOR_EVENT"},
		{chat.StateLocal, "PROCESSING_LOCAL"},
		{chat.StateRemote, "PROCESSING_REMOTE"},
		{chat.StateClosed, "CLOSED"},
		{chat.State(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
