//nolint:revive // types is a common Go package naming convention
package types

import (
	"crypto/sha256"
	"encoding/hex"
)

// ArtifactKind discriminates artifact reference variants.
type ArtifactKind string

const (
	// ArtifactInline is an artifact whose bytes arrived base64-encoded
	// inside the stream itself.
	ArtifactInline ArtifactKind = "inline"
	// ArtifactDeferred is an artifact referenced by a fetchable locator,
	// resolved only after the primary text stream completes.
	ArtifactDeferred ArtifactKind = "deferred"
)

// ArtifactRef is a reference to a secondary payload discovered in the stream.
// Exactly one of Data (inline) or URL (deferred) is populated, selected by Kind.
type ArtifactRef struct {
	// Kind selects the variant.
	Kind ArtifactKind
	// Name is the optional upstream-provided name.
	Name string
	// MediaType is the declared MIME type (e.g. "image/png").
	MediaType string
	// Data holds the base64-encoded bytes for inline artifacts.
	Data string
	// URL is the fetchable locator for deferred artifacts.
	URL string
}

// Key returns a deterministic identity for deduplication. Cumulative upstream
// events may repeat the same artifact reference many times; collection keeps
// the first occurrence only.
func (r ArtifactRef) Key() string {
	h := sha256.New()
	h.Write([]byte(string(r.Kind)))
	h.Write([]byte{0x00})
	h.Write([]byte(r.Name))
	h.Write([]byte{0x00})
	h.Write([]byte(r.MediaType))
	h.Write([]byte{0x00})
	if r.Kind == ArtifactDeferred {
		h.Write([]byte(r.URL))
	} else {
		h.Write([]byte(r.Data))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ResolvedArtifact is a fully materialized artifact.
type ResolvedArtifact struct {
	// Ref is the originating reference.
	Ref ArtifactRef
	// MediaType is the effective MIME type. A content type declared by the
	// fetch response wins over the one declared in the stream.
	MediaType string
	// Data holds the artifact bytes. Nil when Err is set.
	Data []byte
	// Err is the per-artifact resolution failure. A failed artifact never
	// fails the response it belongs to.
	Err error
}

// Resolved reports whether the artifact materialized successfully.
func (a ResolvedArtifact) Resolved() bool {
	return a.Err == nil
}
