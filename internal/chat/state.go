package chat

import "time"

// State is the position of a Loop in its wait/process cycle.
type State int

const (
	// StateWaiting blocks until a local line or a remote frame arrives.
	StateWaiting State = iota
	// StateLocal encrypts and sends a typed line.
	StateLocal
	// StateRemote decrypts and prints a received frame.
	StateRemote
	// StateClosed is terminal.
	StateClosed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING_FOR_EVENT"
	case StateLocal:
		return "PROCESSING_LOCAL"
	case StateRemote:
		return "PROCESSING_REMOTE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Stats counts the traffic of one Loop run. Bytes are plaintext line bytes.
type Stats struct {
	FramesSent     int
	FramesReceived int
	BytesSent      int
	BytesReceived  int
	Started        time.Time
	Ended          time.Time
}
