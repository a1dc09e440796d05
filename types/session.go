//nolint:revive // types is a common Go package naming convention
package types

// SessionState is the lifecycle state of one stream session.
type SessionState string

const (
	// SessionIdle is the initial state before the transport opens.
	SessionIdle SessionState = "idle"
	// SessionStreaming means the transport is open and events are flowing.
	SessionStreaming SessionState = "streaming"
	// SessionCompleted means the stream ended cleanly.
	SessionCompleted SessionState = "completed"
	// SessionCancelled means the caller cancelled mid-stream.
	SessionCancelled SessionState = "cancelled"
	// SessionFailed means the transport failed mid-stream.
	SessionFailed SessionState = "failed"
)

// IsTerminal reports whether the state is final. Terminal states never
// transition again; the first terminal state wins.
func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionCancelled, SessionFailed:
		return true
	default:
		return false
	}
}

// String returns the state label.
func (s SessionState) String() string {
	return string(s)
}
