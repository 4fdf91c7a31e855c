// Package transport holds helpers shared by the TCP and WebSocket transports.
package transport

import "io"

// WriteFull writes all of p to w, retrying after partial writes.
// The first failed write ends the attempt; a write that makes no
// progress without an error is reported as io.ErrShortWrite.
func WriteFull(w io.Writer, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := w.Write(p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

type insistWriter struct {
	w io.Writer
}

// InsistWriter wraps w so every Write uses WriteFull.
func InsistWriter(w io.Writer) io.Writer {
	return &insistWriter{w: w}
}

func (iw *insistWriter) Write(p []byte) (int, error) {
	return WriteFull(iw.w, p)
}
