package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/justapithecus/sluice/transport"
)

// ReplayerConfig configures capture replay.
type ReplayerConfig struct {
	// Path is the capture file to replay.
	Path string
	// Pace replays chunks with the recorded inter-arrival delays.
	// When false, chunks are delivered as fast as the consumer reads.
	Pace bool
	// ChunkBytes re-splits recorded chunks into reads of at most this
	// many bytes, to exercise reassembly at boundaries the original
	// stream never produced. Zero preserves the recorded boundaries.
	ChunkBytes int
}

// Replayer replays a capture file as a stream transport.
type Replayer struct {
	cfg ReplayerConfig
}

var _ transport.Transport = (*Replayer)(nil)

// NewReplayer creates a replaying transport.
func NewReplayer(cfg ReplayerConfig) *Replayer {
	return &Replayer{cfg: cfg}
}

func (r *Replayer) Name() string {
	return "replay"
}

// Header reads the capture header without replaying the stream.
func (r *Replayer) Header() (*Header, error) {
	f, err := os.Open(r.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()
	return NewReader(f).ReadHeader()
}

// Open starts replaying the capture. The request is ignored: the stream
// contents are whatever was recorded.
func (r *Replayer) Open(ctx context.Context, _ transport.Request) (io.ReadCloser, error) {
	f, err := os.Open(r.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}

	cr := NewReader(f)
	if _, err := cr.ReadHeader(); err != nil {
		f.Close()
		return nil, err
	}

	return &replayStream{
		ctx:        ctx,
		f:          f,
		cr:         cr,
		pace:       r.cfg.Pace,
		chunkBytes: r.cfg.ChunkBytes,
	}, nil
}

// replayStream serves recorded chunks through io.Reader.
type replayStream struct {
	ctx        context.Context
	f          *os.File
	cr         *Reader
	pace       bool
	chunkBytes int

	pending    []byte
	lastOffset int64
	done       bool
	err        error
}

func (s *replayStream) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		if s.done {
			if s.err != nil {
				return 0, s.err
			}
			return 0, io.EOF
		}
		if err := s.advance(); err != nil {
			return 0, err
		}
	}

	limit := len(p)
	if s.chunkBytes > 0 && limit > s.chunkBytes {
		limit = s.chunkBytes
	}
	n := copy(p[:limit], s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// advance loads the next recorded chunk into pending, or marks the
// stream done when the trailer (or a clean EOF) is reached.
func (s *replayStream) advance() error {
	if err := s.ctx.Err(); err != nil {
		return err
	}

	record, err := s.cr.Next()
	if err != nil {
		if err == io.EOF {
			// Truncated capture without a trailer. The chunks read so
			// far are still a valid stream prefix.
			s.done = true
			return nil
		}
		return err
	}

	switch rec := record.(type) {
	case *Chunk:
		if s.pace {
			if delay := rec.OffsetMs - s.lastOffset; delay > 0 {
				timer := time.NewTimer(time.Duration(delay) * time.Millisecond)
				select {
				case <-s.ctx.Done():
					timer.Stop()
					return s.ctx.Err()
				case <-timer.C:
				}
			}
		}
		s.lastOffset = rec.OffsetMs
		s.pending = rec.Data
		return nil
	case *Trailer:
		s.done = true
		if rec.Reason == EndReasonError {
			s.err = fmt.Errorf("recorded stream ended with error: %s", rec.Error)
		}
		return nil
	default:
		return &RecordError{
			Kind: RecordErrorFormat,
			Msg:  fmt.Sprintf("unexpected record %T during replay", record),
		}
	}
}

func (s *replayStream) Close() error {
	return s.f.Close()
}
