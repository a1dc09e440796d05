package capture

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/justapithecus/sluice/artifact"
	"github.com/justapithecus/sluice/reconcile"
	"github.com/justapithecus/sluice/sse"
)

// Summary is the result of replaying a capture offline through the full
// decode pipeline. It describes both what was recorded (chunks, timing,
// end reason) and what the pipeline makes of it (events, updates, final
// text, artifact references).
type Summary struct {
	CaptureID string `json:"capture_id"`
	SessionID string `json:"session_id"`
	Endpoint  string `json:"endpoint"`
	Message   string `json:"message"`
	StartedAt string `json:"started_at"`

	// EndReason is the recorded trailer reason, or "truncated" when the
	// capture ends without a trailer.
	EndReason string `json:"end_reason"`
	EndError  string `json:"end_error,omitempty"`

	Chunks     int64 `json:"chunks"`
	Bytes      int64 `json:"bytes"`
	DurationMs int64 `json:"duration_ms"`

	Events       int64 `json:"events"`
	DecodeErrors int64 `json:"decode_errors"`
	Terminal     bool  `json:"terminal"`

	Updates    int64 `json:"updates"`
	Boundaries int64 `json:"boundaries"`

	FinalText string `json:"final_text"`

	Artifacts []ArtifactSummary `json:"artifacts"`
}

// ArtifactSummary describes one collected artifact reference.
type ArtifactSummary struct {
	Kind      string `json:"kind"`
	Name      string `json:"name,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	URL       string `json:"url,omitempty"`
	// SizeBytes is the decoded payload size for inline references,
	// zero for deferred ones.
	SizeBytes int64 `json:"size_bytes,omitempty"`
}

// EndReasonTruncated marks a capture that ends without a trailer.
const EndReasonTruncated = "truncated"

// Summarize replays the capture at path through the frame reader, event
// decoder, and reconciler, and reports what it finds. Cancellation and
// pacing are ignored: every recorded chunk is processed immediately.
func Summarize(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()
	return summarize(f)
}

func summarize(r io.Reader) (*Summary, error) {
	cr := NewReader(r)
	header, err := cr.ReadHeader()
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		CaptureID: header.CaptureID,
		SessionID: header.SessionID,
		Endpoint:  header.Endpoint,
		Message:   header.Message,
		StartedAt: header.StartedAt,
		EndReason: EndReasonTruncated,
	}

	frames := sse.NewReader(sse.ReaderConfig{})
	rec := reconcile.New(reconcile.Config{MinInterval: -1})
	extractor := artifact.NewExtractor()

loop:
	for {
		record, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch record := record.(type) {
		case *Chunk:
			sum.Chunks++
			sum.Bytes += int64(len(record.Data))
			if record.OffsetMs > sum.DurationMs {
				sum.DurationMs = record.OffsetMs
			}

			events, ferr := frames.Feed(record.Data)
			for _, ev := range events {
				sum.Events++
				msg, derr := sse.Decode(ev)
				if derr != nil {
					sum.DecodeErrors++
					continue
				}
				if msg == nil {
					continue
				}
				if msg.Terminal {
					sum.Terminal = true
				}
				extractor.Collect(msg)
				if msg.HasText() {
					rec.Observe(msg.Snapshot())
				}
			}
			if ferr != nil {
				// A fatal frame error poisons the rest of the stream,
				// exactly as it would have live.
				sum.DecodeErrors++
				break loop
			}
		case *Trailer:
			sum.EndReason = record.Reason
			sum.EndError = record.Error
		}
	}

	if upd := rec.Flush(); upd != nil {
		sum.FinalText = upd.Text
	}
	stats := rec.Stats()
	sum.Updates = stats.Emitted
	sum.Boundaries = stats.Boundaries

	for _, ref := range extractor.Refs() {
		art := ArtifactSummary{
			Kind:      string(ref.Kind),
			Name:      ref.Name,
			MediaType: ref.MediaType,
			URL:       ref.URL,
		}
		if ref.Data != "" {
			if data, err := base64.StdEncoding.DecodeString(ref.Data); err == nil {
				art.SizeBytes = int64(len(data))
			}
		}
		sum.Artifacts = append(sum.Artifacts, art)
	}

	return sum, nil
}
