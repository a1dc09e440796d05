// Package sse reassembles raw transport chunks into complete server-sent
// events and decodes their payloads into agent messages.
//
// The upstream delivers events as one or more "data:" lines terminated by a
// blank line. Network chunk boundaries carry no alignment guarantee: a chunk
// may contain zero, one, or many complete events, and may split an event or
// a single JSON document at any byte position. The Reader buffers the
// trailing partial across Feed calls and never emits an incomplete event.
package sse

import (
	"bytes"
	"fmt"
)

// DefaultMaxEventSize is the default cap on a single event's payload (16 MiB).
// An event above the cap indicates stream corruption, not recoverable noise.
const DefaultMaxEventSize = 16 * 1024 * 1024

// dataMarker is the SSE field prefix carrying event payload.
var dataMarker = []byte("data:")

// Event is one logical SSE event reconstructed from one or more data lines.
type Event struct {
	// Data is the concatenated payload of all data lines in the event.
	// Lines are joined without a separator: the upstream splits single
	// JSON documents across marker lines at arbitrary byte positions.
	Data []byte
	// Seq is the monotonic arrival order within one stream, starting at 1.
	// It is not a wall clock; ordering is guaranteed by arrival only.
	Seq int64
}

// ReaderConfig configures a Reader.
type ReaderConfig struct {
	// MaxEventSize caps a single event's accumulated payload bytes.
	// Zero means DefaultMaxEventSize.
	MaxEventSize int
}

// ReaderStats is a point-in-time view of frame reader counters.
type ReaderStats struct {
	ChunksFed    int64
	BytesFed     int64
	EventsFramed int64
	// PendingBytes is the size of the retained partial (line buffer plus
	// in-progress event payload) at the time of the snapshot.
	PendingBytes int
}

// Reader reassembles raw byte chunks into complete events.
//
// All buffering state is owned by the Reader instance; one Reader serves
// exactly one stream and is never shared across sessions. Not safe for
// concurrent use.
type Reader struct {
	maxEventSize int

	// line holds the trailing bytes of an incomplete physical line.
	line []byte
	// data accumulates the payload of the in-progress event.
	data []byte
	// sawData is true once the in-progress event has at least one data
	// line. A blank line with no preceding data is a keep-alive, not an
	// empty event.
	sawData bool

	seq    int64
	closed bool
	fatal  bool
	stats  ReaderStats
}

// NewReader creates a frame reader for one stream.
func NewReader(cfg ReaderConfig) *Reader {
	maxSize := cfg.MaxEventSize
	if maxSize <= 0 {
		maxSize = DefaultMaxEventSize
	}
	return &Reader{maxEventSize: maxSize}
}

// Feed consumes one raw chunk and returns the complete events it finished.
// The trailing partial event, if any, is retained and prefixed onto the
// next call. Feed never loses bytes and never emits a partial event.
//
// Returns a fatal *FrameError when an event exceeds the size cap; the
// stream is corrupt and no further Feed calls are accepted.
func (r *Reader) Feed(chunk []byte) ([]Event, error) {
	if r.closed || r.fatal {
		return nil, &FrameError{Kind: FrameErrorClosed, Msg: "feed on closed reader"}
	}

	r.stats.ChunksFed++
	r.stats.BytesFed += int64(len(chunk))

	buf := chunk
	if len(r.line) > 0 {
		buf = append(r.line, chunk...)
		r.line = nil
	}

	var events []Event
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := buf[:idx]
		buf = buf[idx+1:]

		ev, err := r.processLine(line)
		if err != nil {
			r.fatal = true
			return events, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}

	// Retain the incomplete trailing line. Copy: buf aliases the caller's
	// chunk, which may be reused.
	if len(buf) > 0 {
		if len(r.data)+len(buf) > r.maxEventSize {
			r.fatal = true
			return events, r.oversizeError(len(r.data) + len(buf))
		}
		r.line = append([]byte(nil), buf...)
	}

	return events, nil
}

// processLine handles one complete physical line and returns a finished
// event when the line terminates one.
func (r *Reader) processLine(line []byte) (*Event, error) {
	// Tolerate CRLF framing.
	line = bytes.TrimSuffix(line, []byte("\r"))

	// Blank line terminates the in-progress event. Without accumulated
	// data it is a keep-alive frame and produces nothing.
	if len(line) == 0 {
		if !r.sawData {
			return nil, nil
		}
		r.seq++
		r.stats.EventsFramed++
		ev := &Event{Data: r.data, Seq: r.seq}
		r.data = nil
		r.sawData = false
		return ev, nil
	}

	// Comment lines are keep-alive pings.
	if line[0] == ':' {
		return nil, nil
	}

	if bytes.HasPrefix(line, dataMarker) {
		payload := line[len(dataMarker):]
		// A single optional space after the colon is field syntax,
		// not payload.
		if len(payload) > 0 && payload[0] == ' ' {
			payload = payload[1:]
		}
		if len(r.data)+len(payload) > r.maxEventSize {
			return nil, r.oversizeError(len(r.data) + len(payload))
		}
		r.data = append(r.data, payload...)
		r.sawData = true
		return nil, nil
	}

	// Non-data fields (event:, id:, retry:) carry nothing this engine
	// consumes. Ignored, not an error.
	return nil, nil
}

// Close signals stream end. A non-empty pending partial buffer is discarded
// and reported via a *FrameError with Kind=FrameErrorPartial: the bytes are
// malformed, not a valid final event. Callers log the error as a warning.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	discarded := len(r.line) + len(r.data)
	r.line = nil
	r.data = nil
	if discarded > 0 || r.sawData {
		r.sawData = false
		return &FrameError{
			Kind: FrameErrorPartial,
			Msg:  fmt.Sprintf("discarding %d-byte partial event at stream end", discarded),
		}
	}
	return nil
}

// Stats returns a snapshot of reader counters.
func (r *Reader) Stats() ReaderStats {
	s := r.stats
	s.PendingBytes = len(r.line) + len(r.data)
	return s
}

func (r *Reader) oversizeError(size int) *FrameError {
	return &FrameError{
		Kind: FrameErrorTooLarge,
		Msg:  fmt.Sprintf("event size %d exceeds maximum %d", size, r.maxEventSize),
	}
}
