//nolint:revive // types is a common Go package naming convention
package types

// Update is the externally visible unit of reconciled output.
//
// For a well-formed stream the sequence of Update.Text values is
// non-shrinking: each update's text equals or extends the previous one.
// An apparent shrink is a new message boundary, not a correction.
type Update struct {
	// Text is the full current text (cumulative, not a delta).
	Text string
	// Final marks the authoritative last update of a stream. Exactly one
	// final update is delivered per stream that produced any text.
	Final bool
}
