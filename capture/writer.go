package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Writer appends capture records to an underlying writer.
// Thread-safe: the recording stream writes chunks from the pump goroutine
// while the trailer may be written during teardown.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	start   time.Time
	clock   func() time.Time
	seq     int64
	trailed bool
}

// NewWriter creates a capture writer and writes the header record.
func NewWriter(w io.Writer, sessionID, endpoint, message string) (*Writer, error) {
	return newWriterWithClock(w, sessionID, endpoint, message, time.Now)
}

func newWriterWithClock(w io.Writer, sessionID, endpoint, message string, clock func() time.Time) (*Writer, error) {
	now := clock()
	cw := &Writer{w: w, start: now, clock: clock}

	header := &Header{
		Type:      HeaderType,
		Version:   FormatVersion,
		CaptureID: uuid.New().String(),
		SessionID: sessionID,
		Endpoint:  endpoint,
		Message:   message,
		StartedAt: now.UTC().Format(time.RFC3339Nano),
	}
	if err := cw.writeRecord(header); err != nil {
		return nil, fmt.Errorf("capture: write header: %w", err)
	}
	return cw, nil
}

// WriteChunk records one raw chunk with its arrival offset.
func (cw *Writer) WriteChunk(data []byte) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.seq++
	chunk := &Chunk{
		Type:     ChunkType,
		Seq:      cw.seq,
		OffsetMs: cw.clock().Sub(cw.start).Milliseconds(),
		Data:     data,
	}
	if err := cw.writeRecord(chunk); err != nil {
		return fmt.Errorf("capture: write chunk %d: %w", cw.seq, err)
	}
	return nil
}

// WriteTrailer records how the stream ended. Idempotent: only the first
// trailer is written.
func (cw *Writer) WriteTrailer(reason, errMsg string) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.trailed {
		return nil
	}
	cw.trailed = true

	trailer := &Trailer{Type: TrailerType, Reason: reason, Error: errMsg}
	if err := cw.writeRecord(trailer); err != nil {
		return fmt.Errorf("capture: write trailer: %w", err)
	}
	return nil
}

// writeRecord encodes one record with a length prefix. Caller must hold mu
// (or be the constructor, before the writer is shared).
func (cw *Writer) writeRecord(record any) error {
	payload, err := msgpack.Marshal(record)
	if err != nil {
		return err
	}
	if len(payload) > MaxPayloadSize {
		return &RecordError{
			Kind: RecordErrorTooLarge,
			Msg:  fmt.Sprintf("record size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}

	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := cw.w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = cw.w.Write(payload)
	return err
}

// RecordingStream tees a live chunk stream into a capture writer.
// It wraps the transport body: every Read that returns data also records
// a chunk with the exact boundary the transport delivered.
type RecordingStream struct {
	body io.ReadCloser
	cw   *Writer
}

// NewRecordingStream wraps body so all chunks read from it are recorded.
func NewRecordingStream(body io.ReadCloser, cw *Writer) *RecordingStream {
	return &RecordingStream{body: body, cw: cw}
}

// Read implements io.Reader, recording each delivered chunk.
func (rs *RecordingStream) Read(p []byte) (int, error) {
	n, err := rs.body.Read(p)
	if n > 0 {
		data := make([]byte, n)
		copy(data, p[:n])
		// Recording failure must not corrupt the live stream; the
		// capture is best effort once the stream is running.
		_ = rs.cw.WriteChunk(data)
	}
	return n, err
}

// Close closes the underlying body. The trailer is written by the session
// teardown, which knows how the stream ended.
func (rs *RecordingStream) Close() error {
	return rs.body.Close()
}
