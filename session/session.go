// Package session orchestrates one streaming exchange end to end: open
// the transport, reassemble and decode events, reconcile cumulative text
// snapshots into updates, and resolve collected artifacts after the
// stream ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/sluice/artifact"
	"github.com/justapithecus/sluice/capture"
	"github.com/justapithecus/sluice/iox"
	"github.com/justapithecus/sluice/log"
	"github.com/justapithecus/sluice/metrics"
	"github.com/justapithecus/sluice/reconcile"
	"github.com/justapithecus/sluice/sse"
	"github.com/justapithecus/sluice/transport"
	"github.com/justapithecus/sluice/types"
)

// readBufferSize is the transport read buffer size.
const readBufferSize = 32 * 1024

// Callbacks deliver session output. All callbacks are invoked from the
// session's pump goroutine, one at a time, in order. Nil callbacks are
// skipped. No callback is invoked after Cancel returns.
type Callbacks struct {
	// OnUpdate receives reconciled text updates. The sequence of Text
	// values within one message is non-shrinking; the last update of a
	// stream that produced text has Final set.
	OnUpdate func(types.Update)
	// OnArtifacts receives all resolved artifacts, delivered once after
	// the final update of a cleanly completed stream.
	OnArtifacts func([]types.ResolvedArtifact)
	// OnError receives non-fatal errors (skipped events, failed
	// artifacts) as they happen and the fatal error, if any, last.
	OnError func(error)
}

// Session is a single streaming exchange in flight.
type Session struct {
	id             string
	conversationID string
	message        string

	cfg       *Config
	cb        Callbacks
	logger    *log.Logger
	collector *metrics.Collector
	clock     func() time.Time

	mu    sync.Mutex
	state types.SessionState
	err   error

	// halted gates every callback dispatch. Set by Cancel before the
	// state transition so no callback is observed after Cancel returns.
	halted     atomic.Bool
	dispatchMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}

	started     time.Time
	capturePath string
	captureFile *os.File
	report      *Report

	// Resolution results, written and read on the pump goroutine only.
	artResolved int64
	artFailed   int64
	artBytes    int64
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// ConversationID returns the identifier shared by all sessions started
// from the same controller.
func (s *Session) ConversationID() string {
	return s.conversationID
}

// State returns the current lifecycle state.
func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the fatal session error, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done returns a channel closed when the session has fully torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends and returns its final state.
func (s *Session) Wait() (types.SessionState, error) {
	<-s.done
	return s.State(), s.Err()
}

// Report returns the session report. Nil until Done is closed.
func (s *Session) Report() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Cancel stops the session. Synchronous: when Cancel returns, no further
// callback will be invoked. Cancelling a session that already reached a
// terminal state is a no-op; the first terminal state wins.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.halted.Store(true)
	// Barrier: an in-flight callback on the pump goroutine finishes
	// before Cancel returns.
	s.dispatchMu.Lock()
	s.dispatchMu.Unlock() //nolint:staticcheck // empty critical section is the barrier

	s.transition(types.SessionCancelled, nil)
	s.cancel()
}

// transition moves to a terminal state. Returns false if a terminal
// state was already set.
func (s *Session) transition(to types.SessionState, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return false
	}
	s.state = to
	s.err = err
	return true
}

// setStreaming marks the transport open. No-op after a terminal state.
func (s *Session) setStreaming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == types.SessionIdle {
		s.state = types.SessionStreaming
	}
}

// emitUpdate delivers one update through the halt gate.
func (s *Session) emitUpdate(upd types.Update) {
	if s.cb.OnUpdate == nil || s.halted.Load() {
		return
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	if s.halted.Load() {
		return
	}
	s.cb.OnUpdate(upd)
}

// emitArtifacts delivers resolved artifacts through the halt gate.
func (s *Session) emitArtifacts(resolved []types.ResolvedArtifact) {
	if s.cb.OnArtifacts == nil || s.halted.Load() {
		return
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	if s.halted.Load() {
		return
	}
	s.cb.OnArtifacts(resolved)
}

// emitError delivers one error through the halt gate.
func (s *Session) emitError(err error) {
	if s.cb.OnError == nil || s.halted.Load() {
		return
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	if s.halted.Load() {
		return
	}
	s.cb.OnError(err)
}

// streamEnd describes how the pump loop ended.
type streamEnd struct {
	state  types.SessionState
	err    error
	reason string
}

// run drives the session end to end on its own goroutine.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.cancel()

	s.started = s.clock()
	s.collector.IncSessionStarted()
	s.logger.Info("session starting", map[string]any{
		"transport": s.cfg.Transport.Name(),
		"endpoint":  s.cfg.Endpoint,
	})

	body, err := s.cfg.Transport.Open(ctx, transport.Request{
		SessionID: s.id,
		Message:   s.message,
	})
	if err != nil {
		if s.State() == types.SessionCancelled {
			s.finish(streamEnd{state: types.SessionCancelled}, nil, nil, nil, nil)
			return
		}
		s.finish(streamEnd{
			state:  types.SessionFailed,
			err:    &Error{Kind: ErrorTransport, Msg: "failed to open stream", Err: err},
			reason: capture.EndReasonError,
		}, nil, nil, nil, nil)
		return
	}
	s.setStreaming()

	stream, cw := s.attachCapture(body)
	defer iox.DiscardClose(stream)

	reader := sse.NewReader(sse.ReaderConfig{MaxEventSize: s.cfg.MaxEventSize})
	rec := reconcile.New(reconcile.Config{
		MinInterval: s.cfg.MinUpdateInterval,
		Clock:       s.clock,
		Logger:      s.logger,
	})
	extractor := artifact.NewExtractor()

	end := s.pump(ctx, stream, reader, rec, extractor)
	s.finish(end, reader, rec, extractor, cw)
}

// attachCapture wraps the body in a recording stream when capture is
// configured. Capture failures degrade to an unrecorded session.
func (s *Session) attachCapture(body io.ReadCloser) (io.ReadCloser, *capture.Writer) {
	if s.cfg.CaptureDir == "" {
		return body, nil
	}

	path := filepath.Join(s.cfg.CaptureDir, s.id+".slc")
	f, err := os.Create(path)
	if err != nil {
		s.logger.Warn("capture disabled", map[string]any{"error": err.Error()})
		return body, nil
	}
	cw, err := capture.NewWriter(f, s.id, s.cfg.Endpoint, s.message)
	if err != nil {
		s.logger.Warn("capture disabled", map[string]any{"error": err.Error()})
		f.Close()
		return body, nil
	}
	s.capturePath = path
	s.captureFile = f
	s.logger.Debug("capture enabled", map[string]any{"path": path})
	return capture.NewRecordingStream(body, cw), cw
}

// pump is the single goroutine that owns pipeline state and callback
// dispatch. An inner goroutine performs the blocking reads; the pump
// multiplexes chunks, the throttle tick, and cancellation.
func (s *Session) pump(
	ctx context.Context,
	stream io.Reader,
	reader *sse.Reader,
	rec *reconcile.Reconciler,
	extractor *artifact.Extractor,
) streamEnd {
	type readResult struct {
		data []byte
		err  error
	}
	chunks := make(chan readResult, 1)
	go func() {
		buf := make([]byte, readBufferSize)
		for {
			n, err := stream.Read(buf)
			var data []byte
			if n > 0 {
				data = make([]byte, n)
				copy(data, buf[:n])
			}
			select {
			case chunks <- readResult{data: data, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var tickC <-chan time.Time
	if s.cfg.MinUpdateInterval >= 0 {
		interval := s.cfg.MinUpdateInterval
		if interval == 0 {
			interval = reconcile.DefaultMinInterval
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			if s.State() == types.SessionCancelled {
				return streamEnd{state: types.SessionCancelled, reason: capture.EndReasonCancelled}
			}
			return streamEnd{
				state:  types.SessionFailed,
				err:    &Error{Kind: ErrorTransport, Msg: "stream context ended", Err: ctx.Err()},
				reason: capture.EndReasonError,
			}

		case <-tickC:
			if upd := rec.Tick(); upd != nil {
				s.emitUpdate(*upd)
			}

		case c := <-chunks:
			if len(c.data) > 0 {
				s.collector.ObserveChunk(len(c.data))
				events, ferr := reader.Feed(c.data)
				s.collector.AddEventsFramed(len(events))
				for _, ev := range events {
					if s.handleEvent(ev, rec, extractor) {
						return streamEnd{state: types.SessionCompleted, reason: capture.EndReasonTerminal}
					}
				}
				if ferr != nil {
					return streamEnd{
						state:  types.SessionFailed,
						err:    &Error{Kind: ErrorProtocol, Msg: "stream framing failed", Err: ferr},
						reason: capture.EndReasonError,
					}
				}
			}
			if c.err != nil {
				switch {
				case c.err == io.EOF:
					return streamEnd{state: types.SessionCompleted, reason: capture.EndReasonEOF}
				case errors.Is(c.err, context.Canceled) && s.State() == types.SessionCancelled:
					return streamEnd{state: types.SessionCancelled, reason: capture.EndReasonCancelled}
				default:
					return streamEnd{
						state:  types.SessionFailed,
						err:    &Error{Kind: ErrorTransport, Msg: "stream read failed", Err: c.err},
						reason: capture.EndReasonError,
					}
				}
			}
		}
	}
}

// handleEvent decodes and applies one framed event. Returns true on an
// explicit terminal event.
func (s *Session) handleEvent(ev sse.Event, rec *reconcile.Reconciler, extractor *artifact.Extractor) bool {
	msg, err := sse.Decode(ev)
	if err != nil {
		s.collector.IncDecodeError()
		s.logger.Warn("skipping malformed event", map[string]any{
			"seq":   ev.Seq,
			"error": err.Error(),
		})
		s.emitError(&Error{Kind: ErrorDecode, Msg: fmt.Sprintf("event %d skipped", ev.Seq), Err: err})
		return false
	}
	if msg == nil {
		s.collector.IncHeartbeat()
		return false
	}
	s.collector.IncEventDecoded()

	extractor.Collect(msg)
	if msg.HasText() {
		if upd := rec.Observe(msg.Snapshot()); upd != nil {
			s.emitUpdate(*upd)
		}
	}
	return msg.Terminal
}

// finish flushes, resolves artifacts, records the terminal state, and
// builds the report. All teardown paths funnel through here.
func (s *Session) finish(
	end streamEnd,
	reader *sse.Reader,
	rec *reconcile.Reconciler,
	extractor *artifact.Extractor,
	cw *capture.Writer,
) {
	if reader != nil {
		if err := reader.Close(); err != nil {
			s.collector.IncPartialDiscard()
			s.logger.Warn("discarding partial event at stream end", map[string]any{
				"error": err.Error(),
			})
			s.emitError(err)
		}
	}

	if cw != nil {
		var errMsg string
		if end.err != nil {
			errMsg = end.err.Error()
		}
		if err := cw.WriteTrailer(end.reason, errMsg); err != nil {
			s.logger.Warn("capture trailer write failed", map[string]any{"error": err.Error()})
		}
		if err := s.captureFile.Close(); err != nil {
			s.logger.Warn("capture file close failed", map[string]any{"error": err.Error()})
		}
	}

	var finalText string
	var hasFinal bool
	if rec != nil && end.state != types.SessionCancelled {
		if upd := rec.Flush(); upd != nil {
			finalText = upd.Text
			hasFinal = true
			s.emitUpdate(*upd)
		}
	}

	if end.state == types.SessionCompleted {
		s.transition(types.SessionCompleted, nil)
		s.resolveArtifacts(extractor, finalText, hasFinal)
	} else if end.err != nil {
		if s.transition(end.state, end.err) {
			s.emitError(end.err)
		}
	} else {
		s.transition(end.state, nil)
	}

	s.teardown(reader, rec, extractor)
}

// resolveArtifacts materializes collected references after the final
// update of a clean completion.
func (s *Session) resolveArtifacts(extractor *artifact.Extractor, finalText string, hasFinal bool) {
	if extractor == nil {
		return
	}

	if s.cfg.ScanText && hasFinal && extractor.Stats().Collected == 0 {
		if n := extractor.ScanText(finalText); n > 0 {
			s.logger.Debug("recovered artifact references from text", map[string]any{"count": n})
		}
	}

	refs := extractor.Refs()
	if len(refs) == 0 {
		return
	}

	resolverCfg := s.cfg.Resolver
	if resolverCfg.Logger == nil {
		resolverCfg.Logger = s.logger
	}
	// The session context is already released once the stream completes,
	// so resolution runs under its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), s.resolveBudget())
	defer cancel()
	resolved := artifact.NewResolver(resolverCfg).ResolveAll(ctx, refs)

	for _, ra := range resolved {
		if ra.Err != nil {
			s.artFailed++
			s.emitError(&Error{
				Kind: ErrorArtifact,
				Msg:  fmt.Sprintf("artifact %q unresolved", ra.Ref.Name),
				Err:  ra.Err,
			})
			continue
		}
		s.artBytes += int64(len(ra.Data))
	}
	s.artResolved = int64(len(resolved)) - s.artFailed
	s.emitArtifacts(resolved)
}

// resolveBudget is the overall deadline for post-stream artifact
// resolution: enough for every attempt of the slowest fetch plus slack.
func (s *Session) resolveBudget() time.Duration {
	timeout := s.cfg.Resolver.FetchTimeout
	if timeout <= 0 {
		timeout = artifact.DefaultFetchTimeout
	}
	retries := s.cfg.Resolver.Retries
	if retries <= 0 {
		retries = artifact.DefaultRetries
	}
	return timeout * time.Duration(retries+2)
}

// teardown absorbs stats, records outcome metrics, and builds the report.
func (s *Session) teardown(reader *sse.Reader, rec *reconcile.Reconciler, extractor *artifact.Extractor) {
	var recStats reconcile.Stats
	if rec != nil {
		recStats = rec.Stats()
		s.collector.AbsorbReconcilerStats(
			recStats.Observed, recStats.Deduped, recStats.Suppressed,
			recStats.Emitted, recStats.Boundaries,
		)
	}
	var artStats artifact.Stats
	if extractor != nil {
		artStats = extractor.Stats()
	}
	s.collector.AbsorbArtifactStats(
		artStats.Collected, artStats.Inline, artStats.Deferred,
		s.artResolved, s.artFailed, s.artBytes,
	)
	var readerStats sse.ReaderStats
	if reader != nil {
		readerStats = reader.Stats()
	}

	state := s.State()
	switch state {
	case types.SessionCompleted:
		s.collector.IncSessionCompleted()
	case types.SessionCancelled:
		s.collector.IncSessionCancelled()
	case types.SessionFailed:
		s.collector.IncSessionFailed()
	}

	duration := s.clock().Sub(s.started)
	report := s.buildReport(state, duration, readerStats, recStats, artStats)

	s.mu.Lock()
	s.report = report
	s.mu.Unlock()

	s.logger.Info("session ended", map[string]any{
		"state":    state.String(),
		"duration": duration.String(),
		"updates":  recStats.Emitted,
	})
}
