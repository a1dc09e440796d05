package session

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session errors.
type ErrorKind int

const (
	// ErrorTransport indicates a connection or mid-stream transport
	// failure. Fatal to the session.
	ErrorTransport ErrorKind = iota
	// ErrorProtocol indicates an unrecoverable stream framing violation.
	// Fatal to the session.
	ErrorProtocol
	// ErrorDecode indicates a malformed event payload. The event is
	// skipped; the session continues.
	ErrorDecode
	// ErrorArtifact indicates a per-artifact resolution failure. The
	// session outcome is unaffected.
	ErrorArtifact
	// ErrorConfig indicates invalid session configuration.
	ErrorConfig
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTransport:
		return "transport"
	case ErrorProtocol:
		return "protocol"
	case ErrorDecode:
		return "decode"
	case ErrorArtifact:
		return "artifact"
	case ErrorConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error represents a session error.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsFatalError returns true if the error terminates its session.
// Decode and artifact errors are reported but never fatal.
func IsFatalError(err error) bool {
	var sessErr *Error
	if !errors.As(err, &sessErr) {
		return false
	}
	switch sessErr.Kind {
	case ErrorTransport, ErrorProtocol, ErrorConfig:
		return true
	default:
		return false
	}
}

// KindOf returns the kind of a session error, or -1 for other errors.
func KindOf(err error) ErrorKind {
	var sessErr *Error
	if errors.As(err, &sessErr) {
		return sessErr.Kind
	}
	return ErrorKind(-1)
}
