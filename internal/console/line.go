// Package console reads chat lines from local input and prints remote ones.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/omochice/toy-crypto-chat/pkg/protocol"
)

// LineReader reads lines one byte at a time so that nothing past the
// current line is consumed from the underlying input.
type LineReader struct {
	r   io.Reader
	max int
}

// NewLineReader creates a LineReader producing lines of at most protocol.MaxLine bytes.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: r, max: protocol.MaxLine}
}

// ReadLine reads until a newline (kept in the result), the length limit, or end of input.
// It returns io.EOF only if no byte was read.
func (lr *LineReader) ReadLine() ([]byte, error) {
	line := make([]byte, 0, lr.max)
	var b [1]byte
	for len(line) < lr.max {
		n, err := lr.r.Read(b[:])
		if n == 1 {
			line = append(line, b[0])
			if b[0] == '\n' {
				break
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read local input: %w", err)
		}
	}
	if len(line) == 0 {
		return nil, io.EOF
	}
	return line, nil
}

// Line is one result delivered by Pump.
type Line struct {
	Data []byte
	Err  error
}

// Pump reads lines in its own goroutine and delivers them in order.
// The channel is closed after end of input or after a read error has been delivered.
func Pump(ctx context.Context, lr *LineReader) <-chan Line {
	out := make(chan Line)
	go func() {
		defer close(out)
		for {
			data, err := lr.ReadLine()
			if errors.Is(err, io.EOF) {
				return
			}
			select {
			case out <- Line{Data: data, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}
