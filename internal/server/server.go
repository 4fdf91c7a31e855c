// Package server implements the responder: it accepts one peer at a time and
// chats with it until the peer leaves, then waits for the next one.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/omochice/toy-crypto-chat/internal/chat"
	"github.com/omochice/toy-crypto-chat/internal/console"
	"github.com/omochice/toy-crypto-chat/internal/crypt"
	"github.com/omochice/toy-crypto-chat/internal/report"
	"github.com/omochice/toy-crypto-chat/pkg/protocol"
)

// Acceptor hands out incoming connections one at a time.
type Acceptor interface {
	Accept(ctx context.Context) (chat.Conn, error)
}

// Option configures a Server.
type Option func(*Server)

// WithRecorder records a summary of every finished connection.
func WithRecorder(r *report.Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithTransportName sets the transport name used in connection summaries.
func WithTransportName(name string) Option {
	return func(s *Server) { s.transport = name }
}

// Server is the sequential responder.
type Server struct {
	acceptor  Acceptor
	keys      crypt.Keys
	lines     <-chan console.Line
	out       io.Writer
	recorder  *report.Recorder
	transport string

	mu     sync.Mutex
	served int
}

// New creates a Server. lines is shared by every connection the server
// handles, so local input typed between connections is sent to the next peer.
func New(acceptor Acceptor, keys crypt.Keys, lines <-chan console.Line, out io.Writer, opts ...Option) *Server {
	s := &Server{
		acceptor:  acceptor,
		keys:      keys,
		lines:     lines,
		out:       out,
		transport: "tcp",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve accepts and serves connections until ctx is done (nil) or a fatal
// error occurs. A transport failure ends only the connection it happened on.
func (s *Server) Serve(ctx context.Context) error {
	for {
		log.Println("Waiting for an incoming connection...")

		conn, err := s.acceptor.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}
		log.Printf("Incoming connection from %s", conn.RemoteAddr())

		err = s.handle(ctx, conn)
		switch {
		case err == nil:
			log.Println("Peer went away")
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			return nil
		default:
			var te *chat.TransportError
			if !errors.As(err, &te) {
				return err
			}
			log.Printf("Connection with %s lost: %v", conn.RemoteAddr(), err)
		}
	}
}

// Served returns the number of connections handled so far.
func (s *Server) Served() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served
}

func (s *Server) handle(ctx context.Context, conn chat.Conn) error {
	session, err := s.keys.Open(protocol.DataSize)
	if err != nil {
		_ = conn.Close()
		return &chat.CipherError{Err: err}
	}

	loop := chat.NewLoop(conn, session, s.lines, s.out, chat.WithCloser(session))
	err = loop.Run(ctx)

	summary := report.Summary{
		Role:      "responder",
		Remote:    conn.RemoteAddr(),
		Transport: s.transport,
		Stats:     loop.Stats(),
		Err:       err,
	}
	log.Println(summary)
	if rerr := s.recorder.Record(summary); rerr != nil {
		log.Printf("Failed to record connection report: %v", rerr)
	}

	s.mu.Lock()
	s.served++
	s.mu.Unlock()
	return err
}
