package sshconn

import "fmt"

// Class partitions connection failures into the categories that drive
// retry policy. AuthRejected and HostKeyMismatch indicate
// misconfiguration and are never retried; Unreachable and Timeout may
// be transient.
type Class int

const (
	ClassUnreachable Class = iota
	ClassAuthRejected
	ClassHostKeyMismatch
	ClassTimeout
)

func (c Class) String() string {
	switch c {
	case ClassUnreachable:
		return "unreachable"
	case ClassAuthRejected:
		return "auth_rejected"
	case ClassHostKeyMismatch:
		return "host_key_mismatch"
	case ClassTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Transient reports whether failures of this class are worth retrying.
func (c Class) Transient() bool {
	return c == ClassUnreachable || c == ClassTimeout
}

// ConnectionError is a classified connection failure. Attempts counts
// how many dials were made before giving up.
type ConnectionError struct {
	Class    Class
	Addr     string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed (%s, %d attempt(s)): %v", e.Addr, e.Class, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
