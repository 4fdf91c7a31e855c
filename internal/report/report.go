// Package report records a summary of each finished chat connection.
//
// Summaries are protobuf Struct values encoded with protojson, one per line,
// so they can be appended to a file and read back by any protobuf tooling.
package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/omochice/toy-crypto-chat/internal/chat"
)

// Summary describes one finished connection.
type Summary struct {
	Role      string
	Remote    string
	Transport string
	Stats     chat.Stats
	Err       error
}

// String formats the summary as a single log line.
func (s Summary) String() string {
	return fmt.Sprintf("%s: received %d frames (%d bytes), sent %d frames (%d bytes) in %s",
		s.Remote,
		s.Stats.FramesReceived, s.Stats.BytesReceived,
		s.Stats.FramesSent, s.Stats.BytesSent,
		s.Stats.Ended.Sub(s.Stats.Started).Round(time.Millisecond))
}

// Struct converts the summary to a protobuf Struct.
func (s Summary) Struct() (*structpb.Struct, error) {
	fields := map[string]any{
		"role":            s.Role,
		"remote":          s.Remote,
		"transport":       s.Transport,
		"frames_sent":     s.Stats.FramesSent,
		"frames_received": s.Stats.FramesReceived,
		"bytes_sent":      s.Stats.BytesSent,
		"bytes_received":  s.Stats.BytesReceived,
		"started":         s.Stats.Started.UTC().Format(time.RFC3339Nano),
		"duration_ms":     s.Stats.Ended.Sub(s.Stats.Started).Milliseconds(),
	}
	if s.Err != nil {
		fields["error"] = s.Err.Error()
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build report: %w", err)
	}
	return st, nil
}

// Encode writes the summary as one line of protojson.
func Encode(w io.Writer, s Summary) error {
	st, err := s.Struct()
	if err != nil {
		return err
	}
	data, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Decode parses one protojson line produced by Encode.
func Decode(line []byte) (*structpb.Struct, error) {
	st := &structpb.Struct{}
	if err := protojson.Unmarshal(line, st); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return st, nil
}

// Recorder appends summaries to a file. A Recorder with an empty path discards them.
type Recorder struct {
	path string
}

// NewRecorder creates a Recorder for path.
func NewRecorder(path string) *Recorder {
	return &Recorder{path: path}
}

// Record appends s to the report file.
func (r *Recorder) Record(s Summary) error {
	if r == nil || r.path == "" {
		return nil
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open report file: %w", err)
	}
	defer f.Close()
	return Encode(f, s)
}
