// Package reconcile converts a sequence of cumulative text snapshots into a
// deduplicated, throttled sequence of caller-visible updates.
//
// The upstream protocol does not emit deltas: each event carries the full
// text produced so far, and the final snapshot is known to repeat one or
// more times at stream end. The reconciler drops repeats, rate-limits
// emissions so a network burst does not become a render burst, and
// guarantees the last snapshot is delivered exactly once with Final=true
// when the stream completes. Content is only ever delayed, never lost.
package reconcile

import (
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/sluice/log"
	"github.com/justapithecus/sluice/types"
)

// DefaultMinInterval is the default minimum interval between emitted
// updates, roughly two animation frames.
const DefaultMinInterval = 33 * time.Millisecond

// Config configures a Reconciler.
type Config struct {
	// MinInterval is the minimum interval between emitted updates.
	// Zero means DefaultMinInterval; negative disables throttling.
	MinInterval time.Duration

	// Clock overrides time.Now for tests.
	Clock func() time.Time

	// Logger is an optional logger for boundary observability.
	Logger *log.Logger
}

// Stats is a point-in-time view of reconciler counters.
type Stats struct {
	// Observed counts snapshots passed to Observe.
	Observed int64
	// Deduped counts snapshots discarded as exact repeats.
	Deduped int64
	// Suppressed counts snapshots withheld by the throttle window.
	// A suppressed snapshot is delayed, not dropped: it is superseded by
	// a later one or delivered by Tick or the final flush.
	Suppressed int64
	// Emitted counts updates actually delivered, including the final one.
	Emitted int64
	// Boundaries counts apparent text shrinks treated as new logical
	// message boundaries.
	Boundaries int64
}

// Reconciler reconciles cumulative snapshots for one stream.
//
// Observe and Tick are driven by the session's pump goroutine; Stats may be
// read from other goroutines after the stream ends, so state is guarded.
type Reconciler struct {
	minInterval time.Duration
	clock       func() time.Time
	logger      *log.Logger

	mu sync.Mutex
	// last is the most recently observed snapshot; dedup compares
	// against it and the final flush delivers it.
	last    string
	hasLast bool
	// pending is the latest snapshot withheld by the throttle window.
	// Latest wins: intermediates within a window are dropped.
	pending    string
	hasPending bool
	lastEmit   time.Time
	flushed    bool
	stats      Stats
}

// New creates a reconciler for one stream.
func New(cfg Config) *Reconciler {
	interval := cfg.MinInterval
	if interval == 0 {
		interval = DefaultMinInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Reconciler{
		minInterval: interval,
		clock:       clock,
		logger:      cfg.Logger,
	}
}

// Observe processes one cumulative snapshot. Returns the update to deliver,
// or nil when the snapshot was deduplicated or withheld by the throttle.
//
// An empty string is a valid snapshot (the stream has started but produced
// no text yet) and is distinct from "no update".
func (r *Reconciler) Observe(snapshot string) *types.Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Observed++

	// The upstream repeats the final snapshot at stream end; without
	// dedup the caller visibly replays content.
	if r.hasLast && snapshot == r.last {
		r.stats.Deduped++
		return nil
	}

	// A snapshot that does not extend the previous one is a new logical
	// message boundary, not a correction of the old one. Reset the
	// throttle window so the replacement shows immediately.
	if r.hasLast && !strings.HasPrefix(snapshot, r.last) {
		r.stats.Boundaries++
		r.lastEmit = time.Time{}
		r.hasPending = false
		if r.logger != nil {
			r.logger.Warn("snapshot shrank, treating as new message boundary", map[string]any{
				"previous_len": len(r.last),
				"snapshot_len": len(snapshot),
			})
		}
	}

	r.last = snapshot
	r.hasLast = true

	now := r.clock()
	if r.minInterval > 0 && !r.lastEmit.IsZero() && now.Sub(r.lastEmit) < r.minInterval {
		r.pending = snapshot
		r.hasPending = true
		r.stats.Suppressed++
		return nil
	}

	r.pending = ""
	r.hasPending = false
	r.lastEmit = now
	r.stats.Emitted++
	return &types.Update{Text: snapshot}
}

// Tick delivers the pending withheld snapshot once the throttle interval
// has elapsed. Driven by the session's interval timer. Returns nil when
// nothing is due.
func (r *Reconciler) Tick() *types.Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasPending {
		return nil
	}
	now := r.clock()
	if r.minInterval > 0 && now.Sub(r.lastEmit) < r.minInterval {
		return nil
	}

	snapshot := r.pending
	r.pending = ""
	r.hasPending = false
	r.lastEmit = now
	r.stats.Emitted++
	return &types.Update{Text: snapshot}
}

// Flush delivers the last observed snapshot with Final=true, regardless of
// throttling state. Exactly one final update is produced per stream: Flush
// is idempotent, and returns nil when no snapshot was ever observed (a
// heartbeat-only stream has no text to finalize).
//
// The final snapshot is re-delivered even when an equal non-final update
// was already emitted: the final update is the authoritative one.
func (r *Reconciler) Flush() *types.Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.flushed || !r.hasLast {
		return nil
	}
	r.flushed = true
	r.pending = ""
	r.hasPending = false
	r.stats.Emitted++
	return &types.Update{Text: r.last, Final: true}
}

// Stats returns a snapshot of reconciler counters.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
