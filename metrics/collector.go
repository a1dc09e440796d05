// Package metrics provides per-session metrics collection.
//
// The Collector accumulates counters during a single stream session. It is a
// leaf package with no internal dependencies. Reconciler and artifact metrics
// are absorbed from their Stats snapshots at session completion rather than
// recorded live, avoiding double-counting.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Session lifecycle
	SessionsStarted   int64
	SessionsCompleted int64
	SessionsCancelled int64
	SessionsFailed    int64

	// Stream input
	ChunksRead      int64
	BytesRead       int64
	EventsFramed    int64
	PartialDiscards int64

	// Decode
	EventsDecoded int64
	DecodeErrors  int64
	Heartbeats    int64

	// Reconciliation (absorbed from reconcile.Stats at session completion)
	SnapshotsObserved int64
	SnapshotsDeduped  int64
	UpdatesSuppressed int64
	UpdatesEmitted    int64
	MessageBoundaries int64

	// Artifacts (absorbed from artifact.Stats at session completion)
	ArtifactsCollected int64
	ArtifactsInline    int64
	ArtifactsDeferred  int64
	ArtifactsResolved  int64
	ArtifactsFailed    int64
	ArtifactBytes      int64

	// Dimensions (informational, set at construction)
	Transport      string
	Endpoint       string
	SessionID      string
	ConversationID string
}

// Collector accumulates metrics during a single stream session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	// Session lifecycle
	sessionsStarted   int64
	sessionsCompleted int64
	sessionsCancelled int64
	sessionsFailed    int64

	// Stream input
	chunksRead      int64
	bytesRead       int64
	eventsFramed    int64
	partialDiscards int64

	// Decode
	eventsDecoded int64
	decodeErrors  int64
	heartbeats    int64

	// Reconciliation (set once via AbsorbReconcilerStats)
	snapshotsObserved int64
	snapshotsDeduped  int64
	updatesSuppressed int64
	updatesEmitted    int64
	messageBoundaries int64

	// Artifacts (set once via AbsorbArtifactStats)
	artifactsCollected int64
	artifactsInline    int64
	artifactsDeferred  int64
	artifactsResolved  int64
	artifactsFailed    int64
	artifactBytes      int64

	// Dimensions
	transport      string
	endpoint       string
	sessionID      string
	conversationID string
}

// NewCollector creates a Collector with dimension labels.
// transport identifies the chunk source ("http" or "replay"); endpoint is the
// upstream URL or capture path. sessionID and conversationID are optional.
func NewCollector(transport, endpoint, sessionID, conversationID string) *Collector {
	return &Collector{
		transport:      transport,
		endpoint:       endpoint,
		sessionID:      sessionID,
		conversationID: conversationID,
	}
}

// --- Session lifecycle ---

// IncSessionStarted records a session start.
func (c *Collector) IncSessionStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsStarted++
	c.mu.Unlock()
}

// IncSessionCompleted records a clean session completion.
func (c *Collector) IncSessionCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsCompleted++
	c.mu.Unlock()
}

// IncSessionCancelled records a caller-cancelled session.
func (c *Collector) IncSessionCancelled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsCancelled++
	c.mu.Unlock()
}

// IncSessionFailed records a session that ended in a transport failure.
func (c *Collector) IncSessionFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsFailed++
	c.mu.Unlock()
}

// --- Stream input ---

// ObserveChunk records one raw chunk read of the given size.
func (c *Collector) ObserveChunk(size int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunksRead++
	c.bytesRead += int64(size)
	c.mu.Unlock()
}

// AddEventsFramed records completed events produced by the frame reader.
func (c *Collector) AddEventsFramed(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsFramed += int64(n)
	c.mu.Unlock()
}

// IncPartialDiscard records a non-empty partial buffer discarded at stream end.
func (c *Collector) IncPartialDiscard() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.partialDiscards++
	c.mu.Unlock()
}

// --- Decode ---

// IncEventDecoded records one successfully decoded event.
func (c *Collector) IncEventDecoded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsDecoded++
	c.mu.Unlock()
}

// IncDecodeError records one malformed event that was skipped.
func (c *Collector) IncDecodeError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.decodeErrors++
	c.mu.Unlock()
}

// IncHeartbeat records a decoded event carrying no payload.
func (c *Collector) IncHeartbeat() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.heartbeats++
	c.mu.Unlock()
}

// --- Absorbed stats ---

// AbsorbReconcilerStats copies reconciler counters into the collector.
// Called once after the stream ends with the final reconciler stats.
func (c *Collector) AbsorbReconcilerStats(observed, deduped, suppressed, emitted, boundaries int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snapshotsObserved = observed
	c.snapshotsDeduped = deduped
	c.updatesSuppressed = suppressed
	c.updatesEmitted = emitted
	c.messageBoundaries = boundaries
	c.mu.Unlock()
}

// AbsorbArtifactStats copies artifact counters into the collector.
// Called once after resolution (or abandonment) with the final extractor stats.
func (c *Collector) AbsorbArtifactStats(collected, inline, deferred, resolved, failed, bytes int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.artifactsCollected = collected
	c.artifactsInline = inline
	c.artifactsDeferred = deferred
	c.artifactsResolved = resolved
	c.artifactsFailed = failed
	c.artifactBytes = bytes
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		SessionsStarted:   c.sessionsStarted,
		SessionsCompleted: c.sessionsCompleted,
		SessionsCancelled: c.sessionsCancelled,
		SessionsFailed:    c.sessionsFailed,

		ChunksRead:      c.chunksRead,
		BytesRead:       c.bytesRead,
		EventsFramed:    c.eventsFramed,
		PartialDiscards: c.partialDiscards,

		EventsDecoded: c.eventsDecoded,
		DecodeErrors:  c.decodeErrors,
		Heartbeats:    c.heartbeats,

		SnapshotsObserved: c.snapshotsObserved,
		SnapshotsDeduped:  c.snapshotsDeduped,
		UpdatesSuppressed: c.updatesSuppressed,
		UpdatesEmitted:    c.updatesEmitted,
		MessageBoundaries: c.messageBoundaries,

		ArtifactsCollected: c.artifactsCollected,
		ArtifactsInline:    c.artifactsInline,
		ArtifactsDeferred:  c.artifactsDeferred,
		ArtifactsResolved:  c.artifactsResolved,
		ArtifactsFailed:    c.artifactsFailed,
		ArtifactBytes:      c.artifactBytes,

		Transport:      c.transport,
		Endpoint:       c.endpoint,
		SessionID:      c.sessionID,
		ConversationID: c.conversationID,
	}
}
