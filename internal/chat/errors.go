package chat

import "fmt"

// TransportError reports a failed read or write on the connection.
// It ends the connection but not necessarily the process.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	switch e.Op {
	case "read":
		return fmt.Sprintf("read from remote peer failed: %v", e.Err)
	case "write":
		return fmt.Sprintf("write to remote peer failed: %v", e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// CipherError reports a failed transform. The session state can no
// longer be trusted, so callers treat it as fatal.
type CipherError struct {
	Err error
}

func (e *CipherError) Error() string {
	return fmt.Sprintf("cipher failure: %v", e.Err)
}

func (e *CipherError) Unwrap() error { return e.Err }
