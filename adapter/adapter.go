// Package adapter defines the notification boundary for finished sessions.
//
// Adapters publish session-ended events to downstream systems so other
// services can react to completed, failed, or cancelled streams without
// polling the ledger. The CLI owns adapter lifecycle; users provide
// configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/justapithecus/sluice/session"
	"github.com/justapithecus/sluice/types"
)

// SchemaVersion is the event payload schema version.
const SchemaVersion = "1"

// EventTypeSessionEnded is the event type for finished sessions.
const EventTypeSessionEnded = "session_ended"

// SessionEndedEvent is the payload published when a session reaches a
// terminal state.
type SessionEndedEvent struct {
	SchemaVersion  string `json:"schema_version"`
	EventType      string `json:"event_type"` // always "session_ended"
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	Transport      string `json:"transport"`
	Endpoint       string `json:"endpoint,omitempty"`
	State          string `json:"state"` // completed, failed, cancelled
	Error          string `json:"error,omitempty"`
	Day            string `json:"day"`       // UTC day of completion, YYYY-MM-DD
	Timestamp      string `json:"timestamp"` // RFC 3339

	DurationMs        int64 `json:"duration_ms"`
	UpdatesEmitted    int64 `json:"updates_emitted"`
	ArtifactsResolved int64 `json:"artifacts_resolved"`

	CapturePath string `json:"capture_path,omitempty"`
}

// NewSessionEndedEvent builds the event payload from a session report.
func NewSessionEndedEvent(report *session.Report) *SessionEndedEvent {
	now := time.Now().UTC()
	return &SessionEndedEvent{
		SchemaVersion:     SchemaVersion,
		EventType:         EventTypeSessionEnded,
		SessionID:         report.SessionID,
		ConversationID:    report.ConversationID,
		Transport:         report.Transport,
		Endpoint:          report.Endpoint,
		State:             report.State,
		Error:             report.Error,
		Day:               now.Format(time.DateOnly),
		Timestamp:         now.Format(time.RFC3339),
		DurationMs:        report.DurationMs,
		UpdatesEmitted:    report.Reconciler.Emitted,
		ArtifactsResolved: report.Metrics.ArtifactsResolved,
		CapturePath:       report.CapturePath,
	}
}

// Terminal reports whether the event describes a terminal state. Events
// are only published for terminal sessions.
func (e *SessionEndedEvent) Terminal() bool {
	return types.SessionState(e.State).IsTerminal()
}

// Adapter publishes session-ended events to a downstream system.
type Adapter interface {
	// Publish sends one event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *SessionEndedEvent) error

	// Close releases adapter resources.
	Close() error
}
