package reconcile

import (
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for throttle tests.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestReconciler(clock *fakeClock, interval time.Duration) *Reconciler {
	return New(Config{MinInterval: interval, Clock: clock.Now})
}

func TestReconciler_SpecScenario(t *testing.T) {
	// {"text":"Hello"}, {"text":"Hello wor"}, {"text":"Hello world"},
	// repeat, stream end -> update("Hello"), update("Hello wor"),
	// update("Hello world", final). The repeat produces no extra update.
	clock := newFakeClock()
	r := newTestReconciler(clock, 33*time.Millisecond)

	upd := r.Observe("Hello")
	if upd == nil || upd.Text != "Hello" || upd.Final {
		t.Fatalf("first Observe = %+v, want non-final %q", upd, "Hello")
	}

	clock.Advance(50 * time.Millisecond)
	upd = r.Observe("Hello wor")
	if upd == nil || upd.Text != "Hello wor" || upd.Final {
		t.Fatalf("second Observe = %+v, want non-final %q", upd, "Hello wor")
	}

	clock.Advance(50 * time.Millisecond)
	upd = r.Observe("Hello world")
	if upd == nil || upd.Text != "Hello world" {
		t.Fatalf("third Observe = %+v, want %q", upd, "Hello world")
	}

	// Repeated final snapshot is deduplicated.
	if upd := r.Observe("Hello world"); upd != nil {
		t.Errorf("repeated snapshot produced %+v, want nil", upd)
	}

	final := r.Flush()
	if final == nil || final.Text != "Hello world" || !final.Final {
		t.Fatalf("Flush = %+v, want final %q", final, "Hello world")
	}

	stats := r.Stats()
	if stats.Deduped != 1 {
		t.Errorf("Deduped = %d, want 1", stats.Deduped)
	}
	if stats.Emitted != 4 {
		t.Errorf("Emitted = %d, want 4 (three live, one final)", stats.Emitted)
	}
}

func TestReconciler_IdempotentDedup(t *testing.T) {
	clock := newFakeClock()
	r := newTestReconciler(clock, 0)

	var delivered int
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		if upd := r.Observe("same text"); upd != nil {
			delivered++
		}
	}
	if delivered != 1 {
		t.Errorf("N identical snapshots delivered %d updates, want 1", delivered)
	}
	if final := r.Flush(); final == nil || !final.Final {
		t.Errorf("Flush = %+v, want final update", final)
	}
}

func TestReconciler_ThrottleLatestWins(t *testing.T) {
	clock := newFakeClock()
	r := newTestReconciler(clock, 33*time.Millisecond)

	if upd := r.Observe("a"); upd == nil {
		t.Fatal("first snapshot should emit immediately")
	}

	// Burst inside one throttle window: all withheld, latest wins.
	for _, s := range []string{"ab", "abc", "abcd"} {
		clock.Advance(time.Millisecond)
		if upd := r.Observe(s); upd != nil {
			t.Errorf("Observe(%q) inside window = %+v, want nil", s, upd)
		}
	}

	// Before the interval elapses, Tick delivers nothing.
	if upd := r.Tick(); upd != nil {
		t.Errorf("early Tick = %+v, want nil", upd)
	}

	clock.Advance(100 * time.Millisecond)
	upd := r.Tick()
	if upd == nil || upd.Text != "abcd" {
		t.Fatalf("Tick = %+v, want latest %q (intermediates dropped)", upd, "abcd")
	}

	// Pending consumed; a second tick is a no-op.
	if upd := r.Tick(); upd != nil {
		t.Errorf("second Tick = %+v, want nil", upd)
	}
}

func TestReconciler_NoDataLossUnderThrottling(t *testing.T) {
	// For snapshots arriving faster than the throttle interval, the last
	// delivered text must equal the last observed snapshot.
	clock := newFakeClock()
	r := newTestReconciler(clock, 33*time.Millisecond)

	snapshots := []string{"H", "He", "Hel", "Hell", "Hello"}
	var lastDelivered string
	for _, s := range snapshots {
		clock.Advance(time.Millisecond)
		if upd := r.Observe(s); upd != nil {
			lastDelivered = upd.Text
		}
	}
	if final := r.Flush(); final != nil {
		lastDelivered = final.Text
	}
	if lastDelivered != "Hello" {
		t.Errorf("last delivered = %q, want %q", lastDelivered, "Hello")
	}
}

func TestReconciler_FlushIdempotent(t *testing.T) {
	clock := newFakeClock()
	r := newTestReconciler(clock, 0)

	r.Observe("text")
	if final := r.Flush(); final == nil {
		t.Fatal("first Flush = nil, want final update")
	}
	if final := r.Flush(); final != nil {
		t.Errorf("second Flush = %+v, want nil", final)
	}
}

func TestReconciler_FlushWithoutObservations(t *testing.T) {
	// A heartbeat-only stream has no text to finalize.
	r := newTestReconciler(newFakeClock(), 0)
	if final := r.Flush(); final != nil {
		t.Errorf("Flush with no observations = %+v, want nil", final)
	}
}

func TestReconciler_EmptySnapshotIsValid(t *testing.T) {
	clock := newFakeClock()
	r := newTestReconciler(clock, 0)

	upd := r.Observe("")
	if upd == nil {
		t.Fatal("empty snapshot produced nil, want update")
	}
	if upd.Text != "" {
		t.Errorf("Text = %q, want empty", upd.Text)
	}

	// A repeat of the empty snapshot still dedups.
	if upd := r.Observe(""); upd != nil {
		t.Errorf("repeated empty snapshot = %+v, want nil", upd)
	}
}

func TestReconciler_ShrinkIsNewBoundary(t *testing.T) {
	clock := newFakeClock()
	r := newTestReconciler(clock, 33*time.Millisecond)

	r.Observe("First answer complete.")

	// Shrink: a new logical message begins. The throttle window resets
	// so the replacement shows immediately.
	clock.Advance(time.Millisecond)
	upd := r.Observe("Second")
	if upd == nil || upd.Text != "Second" {
		t.Fatalf("boundary snapshot = %+v, want immediate %q", upd, "Second")
	}

	stats := r.Stats()
	if stats.Boundaries != 1 {
		t.Errorf("Boundaries = %d, want 1", stats.Boundaries)
	}

	final := r.Flush()
	if final == nil || final.Text != "Second" {
		t.Errorf("Flush after boundary = %+v, want %q", final, "Second")
	}
}

func TestReconciler_PendingSuppressedThenFlushed(t *testing.T) {
	// An update suppressed by throttling and never ticked out must still
	// reach the caller via the final flush.
	clock := newFakeClock()
	r := newTestReconciler(clock, time.Second)

	r.Observe("partial")
	clock.Advance(time.Millisecond)
	if upd := r.Observe("partial plus more"); upd != nil {
		t.Fatalf("snapshot inside window = %+v, want nil", upd)
	}

	final := r.Flush()
	if final == nil || final.Text != "partial plus more" || !final.Final {
		t.Fatalf("Flush = %+v, want final %q", final, "partial plus more")
	}
}

func TestReconciler_DefaultInterval(t *testing.T) {
	r := New(Config{})
	if r.minInterval != DefaultMinInterval {
		t.Errorf("minInterval = %v, want %v", r.minInterval, DefaultMinInterval)
	}
}
