// Package artifact collects secondary artifact references from the decoded
// stream and resolves them once the primary text completes.
//
// Artifacts are additive: text display never blocks on them, and a failed
// artifact is reported per-artifact rather than failing the response.
package artifact

import (
	"sync"

	"github.com/justapithecus/sluice/types"
)

// Stats is a point-in-time view of extractor counters.
type Stats struct {
	// Collected counts unique references accumulated across the stream.
	Collected int64
	// Inline counts collected references carrying base64 payloads.
	Inline int64
	// Deferred counts collected references carrying fetchable locators.
	Deferred int64
	// Repeats counts references skipped as duplicates. The cumulative
	// upstream repeats the same reference on every snapshot that
	// carries it.
	Repeats int64
	// Scanned counts references recovered by the text-scan fallback.
	Scanned int64
}

// Extractor accumulates artifact references across one stream.
// References are exclusively owned by the extractor until resolved.
type Extractor struct {
	mu    sync.Mutex
	refs  []types.ArtifactRef
	seen  map[string]struct{}
	stats Stats
}

// NewExtractor creates an extractor for one stream.
func NewExtractor() *Extractor {
	return &Extractor{seen: make(map[string]struct{})}
}

// Collect accumulates the message's artifact references, skipping ones
// already seen. Returns the newly added references.
func (e *Extractor) Collect(msg *types.AgentMessage) []types.ArtifactRef {
	if msg == nil || len(msg.Artifacts) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var added []types.ArtifactRef
	for _, ref := range msg.Artifacts {
		if e.addLocked(ref, false) {
			added = append(added, ref)
		}
	}
	return added
}

// ScanText opportunistically extracts deferred references from the final
// reconciled text. This is the best-effort fallback for upstreams that
// embed image links in prose instead of populating structured fields; it
// recognizes markdown image syntax and bare image URLs only, and the
// caller invokes it only when no structured references were collected.
// Returns the number of references added.
func (e *Extractor) ScanText(text string) int {
	refs := scanEmbeddedRefs(text)
	if len(refs) == 0 {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	added := 0
	for _, ref := range refs {
		if e.addLocked(ref, true) {
			added++
		}
	}
	return added
}

// addLocked records one reference if unseen. Caller must hold mu.
func (e *Extractor) addLocked(ref types.ArtifactRef, scanned bool) bool {
	key := ref.Key()
	if _, exists := e.seen[key]; exists {
		e.stats.Repeats++
		return false
	}
	e.seen[key] = struct{}{}
	e.refs = append(e.refs, ref)

	e.stats.Collected++
	switch ref.Kind {
	case types.ArtifactInline:
		e.stats.Inline++
	case types.ArtifactDeferred:
		e.stats.Deferred++
	}
	if scanned {
		e.stats.Scanned++
	}
	return true
}

// Refs returns the accumulated references in collection order.
func (e *Extractor) Refs() []types.ArtifactRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.ArtifactRef, len(e.refs))
	copy(out, e.refs)
	return out
}

// Stats returns a snapshot of extractor counters.
func (e *Extractor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
