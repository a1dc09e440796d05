package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/sluice/capture"
	"github.com/justapithecus/sluice/transport"
	"github.com/justapithecus/sluice/types"
)

// scriptTransport serves a fixed chunk sequence, one chunk per read.
type scriptTransport struct {
	chunks   [][]byte
	finalErr error // returned after the last chunk; nil means io.EOF

	mu       sync.Mutex
	requests []transport.Request
	openErr  error
}

func (t *scriptTransport) Name() string { return "script" }

func (t *scriptTransport) Open(_ context.Context, req transport.Request) (io.ReadCloser, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	openErr := t.openErr
	t.mu.Unlock()
	if openErr != nil {
		return nil, openErr
	}
	return &scriptStream{chunks: t.chunks, finalErr: t.finalErr}, nil
}

type scriptStream struct {
	chunks   [][]byte
	finalErr error
	pos      int
}

func (s *scriptStream) Read(p []byte) (int, error) {
	if s.pos >= len(s.chunks) {
		if s.finalErr != nil {
			return 0, s.finalErr
		}
		return 0, io.EOF
	}
	n := copy(p, s.chunks[s.pos])
	s.pos++
	return n, nil
}

func (s *scriptStream) Close() error { return nil }

// pipeTransport hands out an io.Pipe per open so tests control chunk
// arrival.
type pipeTransport struct {
	writers chan *io.PipeWriter
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{writers: make(chan *io.PipeWriter, 4)}
}

func (t *pipeTransport) Name() string { return "pipe" }

func (t *pipeTransport) Open(_ context.Context, _ transport.Request) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	t.writers <- pw
	return pr, nil
}

// recorder collects callback output in dispatch order.
type recorder struct {
	mu        sync.Mutex
	updates   []types.Update
	artifacts [][]types.ResolvedArtifact
	errs      []error
	order     []string

	updateCh chan types.Update
}

func newRecorder() *recorder {
	return &recorder{updateCh: make(chan types.Update, 64)}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnUpdate: func(upd types.Update) {
			r.mu.Lock()
			r.updates = append(r.updates, upd)
			r.order = append(r.order, fmt.Sprintf("update final=%v", upd.Final))
			r.mu.Unlock()
			r.updateCh <- upd
		},
		OnArtifacts: func(resolved []types.ResolvedArtifact) {
			r.mu.Lock()
			r.artifacts = append(r.artifacts, resolved)
			r.order = append(r.order, fmt.Sprintf("artifacts n=%d", len(resolved)))
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.order = append(r.order, "error")
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshotUpdates() []types.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Update, len(r.updates))
	copy(out, r.updates)
	return out
}

func (r *recorder) waitUpdates(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.updateCh:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for update %d of %d", i+1, n)
		}
	}
}

func sseEvent(payload string) []byte {
	return []byte("data: " + payload + "\n\n")
}

func newTestController(t *testing.T, tr transport.Transport, mutate func(*Config)) *Controller {
	t.Helper()
	cfg := Config{
		Transport:         tr,
		Endpoint:          "http://upstream.test/stream",
		MinUpdateInterval: -1, // deterministic: every distinct snapshot emits
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ctrl, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	return ctrl
}

func TestSessionCompletesOnTerminal(t *testing.T) {
	tr := &scriptTransport{chunks: [][]byte{
		sseEvent(`{"text":"Hello"}`),
		sseEvent(`{"text":"Hello wor"}`),
		sseEvent(`{"text":"Hello world"}`),
		sseEvent(`{"text":"Hello world"}`), // exact repeat, deduped
		sseEvent(`[DONE]`),
	}}
	rec := newRecorder()
	ctrl := newTestController(t, tr, nil)

	sess, err := ctrl.Start(context.Background(), "hi", rec.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	state, serr := sess.Wait()
	if state != types.SessionCompleted {
		t.Fatalf("state = %v, want completed", state)
	}
	if serr != nil {
		t.Fatalf("Err() = %v, want nil", serr)
	}

	updates := rec.snapshotUpdates()
	wantTexts := []string{"Hello", "Hello wor", "Hello world", "Hello world"}
	if len(updates) != len(wantTexts) {
		t.Fatalf("got %d updates, want %d: %+v", len(updates), len(wantTexts), updates)
	}
	for i, upd := range updates {
		if upd.Text != wantTexts[i] {
			t.Errorf("update %d Text = %q, want %q", i, upd.Text, wantTexts[i])
		}
		wantFinal := i == len(wantTexts)-1
		if upd.Final != wantFinal {
			t.Errorf("update %d Final = %v, want %v", i, upd.Final, wantFinal)
		}
	}

	report := sess.Report()
	if report == nil {
		t.Fatal("Report() = nil after Done")
	}
	if report.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", report.ExitCode)
	}
	if report.Reconciler.Deduped != 1 {
		t.Errorf("Deduped = %d, want 1", report.Reconciler.Deduped)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.requests) != 1 {
		t.Fatalf("transport opened %d times, want 1", len(tr.requests))
	}
	if tr.requests[0].Message != "hi" {
		t.Errorf("request message = %q, want %q", tr.requests[0].Message, "hi")
	}
	if tr.requests[0].SessionID != sess.ID() {
		t.Errorf("request session = %q, want %q", tr.requests[0].SessionID, sess.ID())
	}
}

func TestSessionCompletesOnEOFWithoutTerminal(t *testing.T) {
	tr := &scriptTransport{chunks: [][]byte{sseEvent(`{"text":"partial answer"}`)}}
	rec := newRecorder()
	ctrl := newTestController(t, tr, nil)

	sess, err := ctrl.Start(context.Background(), "hi", rec.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if state, _ := sess.Wait(); state != types.SessionCompleted {
		t.Fatalf("state = %v, want completed", state)
	}

	updates := rec.snapshotUpdates()
	if len(updates) == 0 || !updates[len(updates)-1].Final {
		t.Fatalf("want a final update, got %+v", updates)
	}
}

func TestSessionNoTextNoFinalUpdate(t *testing.T) {
	tr := &scriptTransport{chunks: [][]byte{
		sseEvent(`{}`),
		sseEvent(`[DONE]`),
	}}
	rec := newRecorder()
	ctrl := newTestController(t, tr, nil)

	sess, err := ctrl.Start(context.Background(), "hi", rec.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if state, _ := sess.Wait(); state != types.SessionCompleted {
		t.Fatalf("state = %v, want completed", state)
	}
	if updates := rec.snapshotUpdates(); len(updates) != 0 {
		t.Fatalf("got %d updates for a textless stream, want 0", len(updates))
	}
}

func TestSessionTransportOpenFailure(t *testing.T) {
	tr := &scriptTransport{openErr: errors.New("connection refused")}
	rec := newRecorder()
	ctrl := newTestController(t, tr, nil)

	sess, err := ctrl.Start(context.Background(), "hi", rec.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	state, serr := sess.Wait()
	if state != types.SessionFailed {
		t.Fatalf("state = %v, want failed", state)
	}
	if KindOf(serr) != ErrorTransport {
		t.Errorf("error kind = %v, want transport", KindOf(serr))
	}
	if !IsFatalError(serr) {
		t.Error("IsFatalError() = false, want true")
	}
	if got := sess.Report().ExitCode; got != 1 {
		t.Errorf("ExitCode = %d, want 1", got)
	}
}

func TestSessionMidStreamFailureFlushesPartialText(t *testing.T) {
	tr := &scriptTransport{
		chunks:   [][]byte{sseEvent(`{"text":"partial"}`)},
		finalErr: errors.New("connection reset"),
	}
	rec := newRecorder()
	ctrl := newTestController(t, tr, nil)

	sess, err := ctrl.Start(context.Background(), "hi", rec.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	state, serr := sess.Wait()
	if state != types.SessionFailed {
		t.Fatalf("state = %v, want failed", state)
	}
	if KindOf(serr) != ErrorTransport {
		t.Errorf("error kind = %v, want transport", KindOf(serr))
	}

	updates := rec.snapshotUpdates()
	if len(updates) == 0 {
		t.Fatal("want partial text flushed before failure")
	}
	last := updates[len(updates)-1]
	if last.Text != "partial" || !last.Final {
		t.Errorf("last update = %+v, want final %q", last, "partial")
	}

	// The fatal error arrives after the flush.
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.order) == 0 || rec.order[len(rec.order)-1] != "error" {
		t.Errorf("order = %v, want error last", rec.order)
	}
}

func TestSessionSkipsMalformedEvents(t *testing.T) {
	tr := &scriptTransport{chunks: [][]byte{
		sseEvent(`{"text":"ok"}`),
		sseEvent(`{not json`),
		sseEvent(`{"text":"ok more"}`),
		sseEvent(`[DONE]`),
	}}
	rec := newRecorder()
	ctrl := newTestController(t, tr, nil)

	sess, err := ctrl.Start(context.Background(), "hi", rec.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if state, _ := sess.Wait(); state != types.SessionCompleted {
		t.Fatalf("state = %v, want completed", state)
	}

	updates := rec.snapshotUpdates()
	if got := updates[len(updates)-1].Text; got != "ok more" {
		t.Errorf("final text = %q, want %q", got, "ok more")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var decodeErrs int
	for _, err := range rec.errs {
		if KindOf(err) == ErrorDecode {
			decodeErrs++
			if IsFatalError(err) {
				t.Errorf("decode error reported fatal: %v", err)
			}
		}
	}
	if decodeErrs != 1 {
		t.Errorf("decode errors = %d, want 1", decodeErrs)
	}
	if got := sess.Report().Metrics.DecodeErrors; got != 1 {
		t.Errorf("metrics DecodeErrors = %d, want 1", got)
	}
}

func TestSessionHeartbeatsProduceNothing(t *testing.T) {
	tr := &scriptTransport{chunks: [][]byte{
		[]byte(": keep-alive\n\n"),
		sseEvent(`{}`),
		sseEvent(`{"text":"hello"}`),
		sseEvent(`[DONE]`),
	}}
	rec := newRecorder()
	ctrl := newTestController(t, tr, nil)

	sess, err := ctrl.Start(context.Background(), "hi", rec.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if state, _ := sess.Wait(); state != types.SessionCompleted {
		t.Fatalf("state = %v, want completed", state)
	}
	for _, upd := range rec.snapshotUpdates() {
		if upd.Text != "hello" {
			t.Errorf("unexpected update text %q", upd.Text)
		}
	}
	if got := sess.Report().Metrics.Heartbeats; got != 1 {
		t.Errorf("Heartbeats = %d, want 1", got)
	}
}

func TestSessionCancelSilencesCallbacks(t *testing.T) {
	tr := newPipeTransport()
	rec := newRecorder()
	ctrl := newTestController(t, tr, nil)

	sess, err := ctrl.Start(context.Background(), "hi", rec.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	pw := <-tr.writers

	if _, err := pw.Write(sseEvent(`{"text":"one"}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := pw.Write(sseEvent(`{"text":"one two"}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	rec.waitUpdates(t, 2)

	sess.Cancel()
	before := len(rec.snapshotUpdates())

	// Data arriving after Cancel must produce nothing.
	_, _ = pw.Write(sseEvent(`{"text":"one two three"}`))
	_ = pw.Close()

	state, serr := sess.Wait()
	if state != types.SessionCancelled {
		t.Fatalf("state = %v, want cancelled", state)
	}
	if serr != nil {
		t.Errorf("Err() = %v, want nil", serr)
	}

	updates := rec.snapshotUpdates()
	if len(updates) != before {
		t.Fatalf("got %d updates after cancel, want %d", len(updates), before)
	}
	for _, upd := range updates {
		if upd.Final {
			t.Errorf("cancelled session delivered a final update: %+v", upd)
		}
	}
	if got := sess.Report().ExitCode; got != 2 {
		t.Errorf("ExitCode = %d, want 2", got)
	}
}

func TestSessionCancelAfterTerminalIsNoOp(t *testing.T) {
	tr := &scriptTransport{chunks: [][]byte{sseEvent(`[DONE]`)}}
	rec := newRecorder()
	ctrl := newTestController(t, tr, nil)

	sess, err := ctrl.Start(context.Background(), "hi", rec.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if state, _ := sess.Wait(); state != types.SessionCompleted {
		t.Fatalf("state = %v, want completed", state)
	}

	sess.Cancel()
	if state := sess.State(); state != types.SessionCompleted {
		t.Errorf("state after late Cancel = %v, want completed", state)
	}
}

func TestControllerLastRequestWins(t *testing.T) {
	tr := newPipeTransport()
	rec1 := newRecorder()
	rec2 := newRecorder()
	ctrl := newTestController(t, tr, nil)

	first, err := ctrl.Start(context.Background(), "first", rec1.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	pw1 := <-tr.writers
	if _, err := pw1.Write(sseEvent(`{"text":"one"}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	rec1.waitUpdates(t, 1)

	second, err := ctrl.Start(context.Background(), "second", rec2.callbacks())
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if state, _ := first.Wait(); state != types.SessionCancelled {
		t.Fatalf("first session state = %v, want cancelled", state)
	}
	if first.ConversationID() != second.ConversationID() {
		t.Error("sessions from one controller should share a conversation id")
	}
	if first.ID() == second.ID() {
		t.Error("sessions should have distinct ids")
	}

	pw2 := <-tr.writers
	if _, err := pw2.Write(sseEvent(`{"text":"two"}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := pw2.Write(sseEvent(`[DONE]`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if state, _ := second.Wait(); state != types.SessionCompleted {
		t.Fatalf("second session state = %v, want completed", state)
	}
	if got := ctrl.Current(); got != second {
		t.Errorf("Current() = %v, want second session", got)
	}
}

func TestSessionInlineArtifactsAfterFinalUpdate(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	tr := &scriptTransport{chunks: [][]byte{
		sseEvent(`{"text":"see chart"}`),
		sseEvent(`{"text":"see chart","artifacts":[{"name":"chart.png","content_type":"image/png","data":"` + data + `"}]}`),
		sseEvent(`[DONE]`),
	}}
	rec := newRecorder()
	ctrl := newTestController(t, tr, nil)

	sess, err := ctrl.Start(context.Background(), "hi", rec.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if state, _ := sess.Wait(); state != types.SessionCompleted {
		t.Fatalf("state = %v, want completed", state)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.artifacts) != 1 || len(rec.artifacts[0]) != 1 {
		t.Fatalf("artifacts = %+v, want one batch of one", rec.artifacts)
	}
	ra := rec.artifacts[0][0]
	if string(ra.Data) != "png-bytes" {
		t.Errorf("artifact data = %q, want %q", ra.Data, "png-bytes")
	}
	if ra.MediaType != "image/png" {
		t.Errorf("artifact media type = %q, want image/png", ra.MediaType)
	}

	// Artifacts arrive only after the final update.
	last := rec.order[len(rec.order)-1]
	if last != "artifacts n=1" {
		t.Errorf("order = %v, want artifacts last", rec.order)
	}
	var sawFinal bool
	for _, entry := range rec.order {
		if entry == "update final=true" {
			sawFinal = true
		}
		if entry == "artifacts n=1" && !sawFinal {
			t.Errorf("artifacts delivered before final update: %v", rec.order)
		}
	}
}

func TestSessionDeferredArtifactResolved(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer upstream.Close()

	tr := &scriptTransport{chunks: [][]byte{
		sseEvent(`{"text":"photo","artifacts":[{"name":"photo.jpg","url":"` + upstream.URL + `/photo.jpg"}]}`),
		sseEvent(`[DONE]`),
	}}
	rec := newRecorder()
	ctrl := newTestController(t, tr, nil)

	sess, err := ctrl.Start(context.Background(), "hi", rec.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if state, _ := sess.Wait(); state != types.SessionCompleted {
		t.Fatalf("state = %v, want completed", state)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.artifacts) != 1 || len(rec.artifacts[0]) != 1 {
		t.Fatalf("artifacts = %+v, want one batch of one", rec.artifacts)
	}
	ra := rec.artifacts[0][0]
	if ra.Err != nil {
		t.Fatalf("artifact Err = %v", ra.Err)
	}
	if string(ra.Data) != "jpeg-bytes" {
		t.Errorf("artifact data = %q, want %q", ra.Data, "jpeg-bytes")
	}
	if ra.MediaType != "image/jpeg" {
		t.Errorf("artifact media type = %q, want image/jpeg", ra.MediaType)
	}

	report := sess.Report()
	if report.Metrics.ArtifactsResolved != 1 {
		t.Errorf("ArtifactsResolved = %d, want 1", report.Metrics.ArtifactsResolved)
	}
}

func TestSessionScanTextFallback(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("scanned-bytes"))
	}))
	defer upstream.Close()

	text := "result: ![plot](" + upstream.URL + "/plot.png)"
	payload := fmt.Sprintf(`{"text":%q}`, text)
	tr := &scriptTransport{chunks: [][]byte{
		sseEvent(payload),
		sseEvent(`[DONE]`),
	}}
	rec := newRecorder()
	ctrl := newTestController(t, tr, func(cfg *Config) { cfg.ScanText = true })

	sess, err := ctrl.Start(context.Background(), "hi", rec.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if state, _ := sess.Wait(); state != types.SessionCompleted {
		t.Fatalf("state = %v, want completed", state)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.artifacts) != 1 || len(rec.artifacts[0]) != 1 {
		t.Fatalf("artifacts = %+v, want one scanned artifact", rec.artifacts)
	}
	if got := string(rec.artifacts[0][0].Data); got != "scanned-bytes" {
		t.Errorf("artifact data = %q, want %q", got, "scanned-bytes")
	}
}

func TestSessionFailedArtifactDoesNotFailSession(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer upstream.Close()

	tr := &scriptTransport{chunks: [][]byte{
		sseEvent(`{"text":"x","artifacts":[{"name":"missing.png","url":"` + upstream.URL + `/missing.png"}]}`),
		sseEvent(`[DONE]`),
	}}
	rec := newRecorder()
	ctrl := newTestController(t, tr, nil)

	sess, err := ctrl.Start(context.Background(), "hi", rec.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	state, serr := sess.Wait()
	if state != types.SessionCompleted {
		t.Fatalf("state = %v, want completed", state)
	}
	if serr != nil {
		t.Errorf("Err() = %v, want nil", serr)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.artifacts) != 1 || len(rec.artifacts[0]) != 1 {
		t.Fatalf("artifacts = %+v, want the failed artifact delivered", rec.artifacts)
	}
	if rec.artifacts[0][0].Err == nil {
		t.Error("failed artifact carries no Err")
	}
	var artifactErrs int
	for _, err := range rec.errs {
		if KindOf(err) == ErrorArtifact {
			artifactErrs++
		}
	}
	if artifactErrs != 1 {
		t.Errorf("artifact errors = %d, want 1", artifactErrs)
	}
}

func TestSessionCaptureRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tr := &scriptTransport{chunks: [][]byte{
		sseEvent(`{"text":"Hello"}`),
		sseEvent(`{"text":"Hello world"}`),
		sseEvent(`[DONE]`),
	}}
	rec := newRecorder()
	ctrl := newTestController(t, tr, func(cfg *Config) { cfg.CaptureDir = dir })

	sess, err := ctrl.Start(context.Background(), "hi", rec.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if state, _ := sess.Wait(); state != types.SessionCompleted {
		t.Fatalf("state = %v, want completed", state)
	}

	path := sess.Report().CapturePath
	if path == "" {
		t.Fatal("report carries no capture path")
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open(capture) error = %v", err)
	}
	defer f.Close()

	cr := capture.NewReader(f)
	header, err := cr.ReadHeader()
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}
	if header.SessionID != sess.ID() {
		t.Errorf("capture SessionID = %q, want %q", header.SessionID, sess.ID())
	}
	var sawTrailer bool
	for {
		record, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if trailer, ok := record.(*capture.Trailer); ok {
			sawTrailer = true
			if trailer.Reason != capture.EndReasonTerminal {
				t.Errorf("trailer reason = %q, want terminal", trailer.Reason)
			}
		}
	}
	if !sawTrailer {
		t.Fatal("capture has no trailer")
	}

	// Replaying the capture reproduces the original final text.
	replayRec := newRecorder()
	replayCtrl := newTestController(t, capture.NewReplayer(capture.ReplayerConfig{Path: path}), nil)
	replaySess, err := replayCtrl.Start(context.Background(), "hi", replayRec.callbacks())
	if err != nil {
		t.Fatalf("replay Start() error = %v", err)
	}
	if state, _ := replaySess.Wait(); state != types.SessionCompleted {
		t.Fatalf("replay state = %v, want completed", state)
	}
	updates := replayRec.snapshotUpdates()
	if len(updates) == 0 || updates[len(updates)-1].Text != "Hello world" {
		t.Fatalf("replay updates = %+v, want final %q", updates, "Hello world")
	}
}

func TestControllerValidation(t *testing.T) {
	if _, err := NewController(Config{}); KindOf(err) != ErrorConfig {
		t.Errorf("NewController(empty) error = %v, want config error", err)
	}

	ctrl := newTestController(t, &scriptTransport{}, nil)
	if _, err := ctrl.Start(context.Background(), "", Callbacks{}); KindOf(err) != ErrorConfig {
		t.Errorf("Start(empty message) error = %v, want config error", err)
	}
}

func TestStateExitCode(t *testing.T) {
	tests := []struct {
		state types.SessionState
		want  int
	}{
		{types.SessionCompleted, 0},
		{types.SessionFailed, 1},
		{types.SessionCancelled, 2},
		{types.SessionIdle, 3},
		{types.SessionStreaming, 3},
	}
	for _, tt := range tests {
		if got := StateExitCode(tt.state); got != tt.want {
			t.Errorf("StateExitCode(%v) = %d, want %d", tt.state, got, tt.want)
		}
	}
}

func TestWriteReport(t *testing.T) {
	report := &Report{
		SessionID: "s-1",
		State:     "completed",
		Stream:    &ReportStream{},
		Reconciler: &ReportReconciler{
			Emitted: 4,
		},
		Artifacts: &ReportArtifacts{},
	}

	path := filepath.Join(t.TempDir(), "report.json")
	if err := WriteReport(report, path); err != nil {
		t.Fatalf("WriteReport() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if decoded["session_id"] != "s-1" {
		t.Errorf("session_id = %v, want s-1", decoded["session_id"])
	}

	if err := WriteReport(report, ""); err == nil {
		t.Error("WriteReport(empty path) error = nil, want error")
	}
}

func TestSessionShrinkStartsNewMessage(t *testing.T) {
	tr := &scriptTransport{chunks: [][]byte{
		sseEvent(`{"text":"first message"}`),
		sseEvent(`{"text":"second"}`),
		sseEvent(`{"text":"second message"}`),
		sseEvent(`[DONE]`),
	}}
	rec := newRecorder()
	ctrl := newTestController(t, tr, nil)

	sess, err := ctrl.Start(context.Background(), "hi", rec.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if state, _ := sess.Wait(); state != types.SessionCompleted {
		t.Fatalf("state = %v, want completed", state)
	}

	if got := sess.Report().Reconciler.Boundaries; got != 1 {
		t.Errorf("Boundaries = %d, want 1", got)
	}
	updates := rec.snapshotUpdates()
	if got := updates[len(updates)-1].Text; got != "second message" {
		t.Errorf("final text = %q, want %q", got, "second message")
	}
}

func TestSessionArtifactDedupAcrossSnapshots(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte("once"))
	ref := `{"name":"a.png","content_type":"image/png","data":"` + data + `"}`
	tr := &scriptTransport{chunks: [][]byte{
		sseEvent(`{"text":"a","artifacts":[` + ref + `]}`),
		sseEvent(`{"text":"ab","artifacts":[` + ref + `]}`),
		sseEvent(`{"text":"abc","artifacts":[` + ref + `]}`),
		sseEvent(`[DONE]`),
	}}
	rec := newRecorder()
	ctrl := newTestController(t, tr, nil)

	sess, err := ctrl.Start(context.Background(), "hi", rec.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if state, _ := sess.Wait(); state != types.SessionCompleted {
		t.Fatalf("state = %v, want completed", state)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.artifacts) != 1 || len(rec.artifacts[0]) != 1 {
		t.Fatalf("artifacts = %+v, want one deduplicated artifact", rec.artifacts)
	}
	if got := sess.Report().Artifacts.Collected; got != 1 {
		t.Errorf("Collected = %d, want 1", got)
	}
}

func TestSessionThrottleCoalescesUpdates(t *testing.T) {
	var chunks [][]byte
	for i := 1; i <= 50; i++ {
		chunks = append(chunks, sseEvent(fmt.Sprintf(`{"text":%q}`, text(i))))
	}
	chunks = append(chunks, sseEvent(`[DONE]`))
	tr := &scriptTransport{chunks: chunks}
	rec := newRecorder()
	ctrl := newTestController(t, tr, func(cfg *Config) {
		cfg.MinUpdateInterval = 50 * time.Millisecond
	})

	sess, err := ctrl.Start(context.Background(), "hi", rec.callbacks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if state, _ := sess.Wait(); state != types.SessionCompleted {
		t.Fatalf("state = %v, want completed", state)
	}

	updates := rec.snapshotUpdates()
	if len(updates) >= 50 {
		t.Errorf("throttle emitted %d updates for 50 snapshots", len(updates))
	}
	last := updates[len(updates)-1]
	if last.Text != text(50) || !last.Final {
		t.Errorf("last update = %+v, want final full text", last)
	}
}

func text(n int) string {
	return strings.Repeat("x", n)
}
