// Package client implements the initiator: it connects to a responder and
// chats until the responder goes away.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/omochice/toy-crypto-chat/internal/chat"
	"github.com/omochice/toy-crypto-chat/internal/console"
	"github.com/omochice/toy-crypto-chat/internal/crypt"
	"github.com/omochice/toy-crypto-chat/internal/report"
	"github.com/omochice/toy-crypto-chat/pkg/protocol"
)

// DialFunc opens the connection to the responder.
type DialFunc func(ctx context.Context) (chat.Conn, error)

// Option configures a Client.
type Option func(*Client)

// WithRecorder records a summary of the connection once it ends.
func WithRecorder(r *report.Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithTransportName sets the transport name used in the connection summary.
func WithTransportName(name string) Option {
	return func(c *Client) { c.transport = name }
}

// Client is the initiator.
type Client struct {
	dial      DialFunc
	keys      crypt.Keys
	lines     <-chan console.Line
	out       io.Writer
	recorder  *report.Recorder
	transport string
}

// New creates a Client.
func New(dial DialFunc, keys crypt.Keys, lines <-chan console.Line, out io.Writer, opts ...Option) *Client {
	c := &Client{
		dial:      dial,
		keys:      keys,
		lines:     lines,
		out:       out,
		transport: "tcp",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run connects and chats until the responder closes the connection or ctx
// is done, both of which return nil. Any other failure is returned.
func (c *Client) Run(ctx context.Context) error {
	log.Println("Connecting to remote host...")
	conn, err := c.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to connect to remote host: %w", err)
	}
	log.Println("Connected.")

	session, err := c.keys.Open(protocol.DataSize)
	if err != nil {
		_ = conn.Close()
		return &chat.CipherError{Err: err}
	}

	loop := chat.NewLoop(conn, session, c.lines, c.out, chat.WithHalfClose(), chat.WithCloser(session))
	err = loop.Run(ctx)

	summary := report.Summary{
		Role:      "initiator",
		Remote:    conn.RemoteAddr(),
		Transport: c.transport,
		Stats:     loop.Stats(),
		Err:       err,
	}
	log.Println(summary)
	if rerr := c.recorder.Record(summary); rerr != nil {
		log.Printf("Failed to record connection report: %v", rerr)
	}

	switch {
	case err == nil:
		log.Println("Server is down")
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
	default:
		return err
	}
	log.Println("Done.")
	return nil
}
