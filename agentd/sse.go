package agentd

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter writes Server-Sent Events, optionally splitting the byte
// stream into fixed-size chunks with a flush after each one so clients
// see events arrive across multiple reads.
type sseWriter struct {
	w          http.ResponseWriter
	flusher    http.Flusher
	chunkBytes int
	started    bool
}

func newSSEWriter(w http.ResponseWriter, chunkBytes int) *sseWriter {
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher, chunkBytes: chunkBytes}
}

// WriteEvent writes one data event with a JSON payload.
func (s *sseWriter) WriteEvent(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.WriteData(data)
}

// WriteData writes one data event with verbatim payload bytes.
func (s *sseWriter) WriteData(data []byte) error {
	return s.writeRaw(fmt.Appendf(nil, "data: %s\n\n", data))
}

// WriteComment writes a comment line. SSE clients skip it; it only keeps
// the connection warm.
func (s *sseWriter) WriteComment(text string) error {
	return s.writeRaw(fmt.Appendf(nil, ": %s\n\n", text))
}

// WriteDone writes the terminal [DONE] sentinel.
func (s *sseWriter) WriteDone() error {
	return s.writeRaw([]byte("data: [DONE]\n\n"))
}

func (s *sseWriter) writeRaw(b []byte) error {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.started = true
	}

	if s.chunkBytes <= 0 {
		if _, err := s.w.Write(b); err != nil {
			return err
		}
		s.flush()
		return nil
	}

	for len(b) > 0 {
		n := s.chunkBytes
		if n > len(b) {
			n = len(b)
		}
		if _, err := s.w.Write(b[:n]); err != nil {
			return err
		}
		s.flush()
		b = b[n:]
	}
	return nil
}

func (s *sseWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
