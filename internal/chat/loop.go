package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/omochice/toy-crypto-chat/internal/console"
	"github.com/omochice/toy-crypto-chat/pkg/protocol"
)

// Option configures a Loop.
type Option func(*Loop)

// WithHalfClose makes the loop shut down its write side before closing the connection.
func WithHalfClose() Option {
	return func(l *Loop) { l.halfClose = true }
}

// WithCloser registers a resource, such as the cipher session, released when the loop ends.
func WithCloser(c io.Closer) Option {
	return func(l *Loop) { l.closers = append(l.closers, c) }
}

// Loop multiplexes local lines and remote frames over one connection.
// Only the goroutine calling Run touches the cipher, the output and
// connection writes; helper goroutines just feed channels.
type Loop struct {
	conn      Conn
	cipher    protocol.Transformer
	lines     <-chan console.Line
	printer   *console.Printer
	halfClose bool
	closers   []io.Closer

	mu    sync.Mutex
	state State
	stats Stats
}

type inbound struct {
	data []byte
	err  error
}

// NewLoop creates a Loop that owns conn for the duration of Run.
func NewLoop(conn Conn, cipher protocol.Transformer, lines <-chan console.Line, out io.Writer, opts ...Option) *Loop {
	l := &Loop{
		conn:    conn,
		cipher:  cipher,
		lines:   lines,
		printer: console.NewPrinter(out),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run drives the loop until the peer closes the connection (nil), ctx is
// done (ctx.Err()), or a fatal error occurs. The connection and registered
// closers are released before Run returns.
func (l *Loop) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)

	frames := make(chan inbound)
	received := make(chan struct{})
	go func() {
		defer close(received)
		l.receive(ctx, frames)
	}()

	l.mu.Lock()
	l.stats.Started = time.Now()
	l.mu.Unlock()

	defer func() {
		cancel()
		l.setState(StateClosed)
		if cerr := l.shutdown(); cerr != nil && err == nil {
			err = cerr
		}
		<-received

		l.mu.Lock()
		l.stats.Ended = time.Now()
		l.mu.Unlock()
	}()

	lines := l.lines
	for {
		l.setState(StateWaiting)

		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lines:
			if !ok {
				// Local input is exhausted; keep receiving until the peer leaves.
				lines = nil
				continue
			}
			l.setState(StateLocal)
			if line.Err != nil {
				return line.Err
			}
			if err := l.send(ctx, line.Data); err != nil {
				return err
			}

		case in := <-frames:
			l.setState(StateRemote)
			if in.err != nil {
				if errors.Is(in.err, io.EOF) {
					return nil
				}
				return &TransportError{Op: "read", Err: in.err}
			}
			if err := l.deliver(in.data); err != nil {
				return err
			}
		}
	}
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stats returns a snapshot of the traffic counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Loop) receive(ctx context.Context, frames chan<- inbound) {
	for {
		data, err := l.conn.Read(ctx)
		select {
		case frames <- inbound{data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (l *Loop) send(ctx context.Context, line []byte) error {
	frame, err := protocol.Seal(l.cipher, line)
	if err != nil {
		if errors.Is(err, protocol.ErrLineTooLong) {
			return err
		}
		return &CipherError{Err: err}
	}
	if err := l.conn.Write(ctx, frame[:]); err != nil {
		return &TransportError{Op: "write", Err: err}
	}

	l.mu.Lock()
	l.stats.FramesSent++
	l.stats.BytesSent += len(line)
	l.mu.Unlock()
	return nil
}

func (l *Loop) deliver(data []byte) error {
	frame, err := protocol.FromBytes(data)
	if err != nil {
		return &TransportError{Op: "read", Err: err}
	}
	text, err := protocol.Open(l.cipher, frame)
	if err != nil {
		return &CipherError{Err: err}
	}
	if err := l.printer.Print(text); err != nil {
		return err
	}

	l.mu.Lock()
	l.stats.FramesReceived++
	l.stats.BytesReceived += len(text)
	l.mu.Unlock()
	return nil
}

// shutdown releases the closers, then the connection. Only a failure to
// release a closer is reported; connection teardown errors are logged.
func (l *Loop) shutdown() error {
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = fmt.Errorf("failed to release session: %w", err)
		}
	}
	if l.halfClose {
		if err := l.conn.CloseWrite(); err != nil {
			log.Printf("Failed to shut down write side: %v", err)
		}
	}
	if err := l.conn.Close(); err != nil {
		log.Printf("Failed to close connection: %v", err)
	}
	return first
}
