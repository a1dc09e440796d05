package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/justapithecus/sluice/artifact"
	"github.com/justapithecus/sluice/metrics"
	"github.com/justapithecus/sluice/reconcile"
	"github.com/justapithecus/sluice/sse"
	"github.com/justapithecus/sluice/types"
)

// Report is the structured JSON summary of one session.
type Report struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	Transport      string `json:"transport"`
	Endpoint       string `json:"endpoint,omitempty"`
	State          string `json:"state"`
	Error          string `json:"error,omitempty"`
	ExitCode       int    `json:"exit_code"`
	DurationMs     int64  `json:"duration_ms"`

	Stream     *ReportStream     `json:"stream"`
	Reconciler *ReportReconciler `json:"reconciler"`
	Artifacts  *ReportArtifacts  `json:"artifacts"`
	Metrics    *metrics.Snapshot `json:"metrics"`

	CapturePath string `json:"capture_path,omitempty"`
}

// ReportStream holds frame reader stats in the report.
type ReportStream struct {
	Chunks       int64 `json:"chunks"`
	Bytes        int64 `json:"bytes"`
	EventsFramed int64 `json:"events_framed"`
}

// ReportReconciler holds reconciliation stats in the report.
type ReportReconciler struct {
	Observed   int64 `json:"snapshots_observed"`
	Deduped    int64 `json:"snapshots_deduped"`
	Suppressed int64 `json:"updates_suppressed"`
	Emitted    int64 `json:"updates_emitted"`
	Boundaries int64 `json:"message_boundaries"`
}

// ReportArtifacts holds artifact stats in the report.
type ReportArtifacts struct {
	Collected int64 `json:"collected"`
	Inline    int64 `json:"inline"`
	Deferred  int64 `json:"deferred"`
	Scanned   int64 `json:"scanned"`
}

// StateExitCode maps a terminal session state to a process exit code:
// 0 completed, 1 failed, 2 cancelled. Non-terminal states map to 3.
func StateExitCode(state types.SessionState) int {
	switch state {
	case types.SessionCompleted:
		return 0
	case types.SessionFailed:
		return 1
	case types.SessionCancelled:
		return 2
	default:
		return 3
	}
}

// buildReport composes the session report at teardown.
func (s *Session) buildReport(
	state types.SessionState,
	duration time.Duration,
	readerStats sse.ReaderStats,
	recStats reconcile.Stats,
	artStats artifact.Stats,
) *Report {
	snap := s.collector.Snapshot()
	report := &Report{
		SessionID:      s.id,
		ConversationID: s.conversationID,
		Transport:      s.cfg.Transport.Name(),
		Endpoint:       s.cfg.Endpoint,
		State:          state.String(),
		ExitCode:       StateExitCode(state),
		DurationMs:     duration.Milliseconds(),
		Stream: &ReportStream{
			Chunks:       readerStats.ChunksFed,
			Bytes:        readerStats.BytesFed,
			EventsFramed: readerStats.EventsFramed,
		},
		Reconciler: &ReportReconciler{
			Observed:   recStats.Observed,
			Deduped:    recStats.Deduped,
			Suppressed: recStats.Suppressed,
			Emitted:    recStats.Emitted,
			Boundaries: recStats.Boundaries,
		},
		Artifacts: &ReportArtifacts{
			Collected: artStats.Collected,
			Inline:    artStats.Inline,
			Deferred:  artStats.Deferred,
			Scanned:   artStats.Scanned,
		},
		Metrics:     &snap,
		CapturePath: s.capturePath,
	}

	s.mu.Lock()
	if s.err != nil {
		report.Error = s.err.Error()
	}
	s.mu.Unlock()

	return report
}

// WriteReport writes the report as JSON to the given path. A path of "-"
// writes to stderr, keeping stdout clean for streamed text.
func WriteReport(report *Report, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}
	if path == "-" {
		return writeReportTo(report, os.Stderr)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// writeReportTo writes report JSON to any writer.
func writeReportTo(report *Report, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
