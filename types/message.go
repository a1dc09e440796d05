// Package types defines core domain types for the sluice engine.
//
//nolint:revive // types is a common Go package naming convention
package types

// AgentMessage is the decoded form of one upstream stream event.
//
// The upstream protocol is cumulative: each event that carries text carries
// the full text produced so far, not a delta. Events with neither text nor
// artifacts are valid heartbeats and produce no downstream work.
type AgentMessage struct {
	// Text is the cumulative text snapshot carried by the event.
	// Nil means the event carried no text field at all. An empty string is
	// a valid snapshot (the stream has started but produced no text yet)
	// and must not be collapsed into "absent".
	Text *string
	// Artifacts lists the artifact references carried by the event.
	Artifacts []ArtifactRef
	// Terminal marks an explicit end-of-stream event.
	Terminal bool
}

// HasText reports whether the message carries a text snapshot.
func (m *AgentMessage) HasText() bool {
	return m != nil && m.Text != nil
}

// Snapshot returns the carried text snapshot, or "" when absent.
// Use HasText to distinguish an absent snapshot from an empty one.
func (m *AgentMessage) Snapshot() string {
	if m == nil || m.Text == nil {
		return ""
	}
	return *m.Text
}

// IsHeartbeat reports whether the message carries no payload at all.
func (m *AgentMessage) IsHeartbeat() bool {
	return m != nil && m.Text == nil && len(m.Artifacts) == 0 && !m.Terminal
}
