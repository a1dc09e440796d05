// Package capture records raw stream chunks to a file and replays them
// through the pipeline offline.
//
// A capture is a sequence of length-prefixed msgpack records: one header,
// zero or more chunk records preserving chunk boundaries and arrival
// timing, and one trailer naming how the stream ended. Because chunk
// boundaries are preserved exactly, a replayed capture exercises the same
// frame-reassembly paths as the live stream did.
package capture

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Record size constants.
const (
	// MaxRecordSize is the maximum record size (16 MiB), including prefix.
	MaxRecordSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size.
	MaxPayloadSize = MaxRecordSize - LengthPrefixSize
	// LengthPrefixSize is the size of the big-endian length prefix.
	LengthPrefixSize = 4
)

// FormatVersion is the capture format version written into headers.
const FormatVersion = 1

// Record type discriminants.
const (
	HeaderType  = "header"
	ChunkType   = "chunk"
	TrailerType = "trailer"
)

// Stream end reasons recorded in the trailer.
const (
	EndReasonEOF       = "eof"
	EndReasonTerminal  = "terminal"
	EndReasonCancelled = "cancelled"
	EndReasonError     = "error"
)

// Header is the first record of every capture.
type Header struct {
	Type      string `msgpack:"type"`
	Version   int    `msgpack:"version"`
	CaptureID string `msgpack:"capture_id"`
	SessionID string `msgpack:"session_id"`
	Endpoint  string `msgpack:"endpoint"`
	Message   string `msgpack:"message"`
	StartedAt string `msgpack:"started_at"` // RFC 3339
}

// Chunk is one raw transport chunk, boundaries preserved.
type Chunk struct {
	Type string `msgpack:"type"`
	// Seq is the chunk arrival order, starting at 1.
	Seq int64 `msgpack:"seq"`
	// OffsetMs is the arrival time relative to the capture start.
	// Paced replay sleeps the deltas between consecutive chunks.
	OffsetMs int64  `msgpack:"offset_ms"`
	Data     []byte `msgpack:"data"`
}

// Trailer is the final record, naming how the stream ended.
type Trailer struct {
	Type   string `msgpack:"type"`
	Reason string `msgpack:"reason"`
	// Error carries the transport error message when Reason is "error".
	Error string `msgpack:"error,omitempty"`
}

// RecordErrorKind classifies capture record errors.
type RecordErrorKind int

const (
	// RecordErrorPartial indicates a truncated record.
	RecordErrorPartial RecordErrorKind = iota
	// RecordErrorTooLarge indicates a record exceeding MaxRecordSize.
	RecordErrorTooLarge
	// RecordErrorDecode indicates a msgpack decoding error.
	RecordErrorDecode
	// RecordErrorFormat indicates a structurally invalid capture
	// (missing header, unknown version, unexpected record type).
	RecordErrorFormat
)

// RecordError represents a capture decoding error.
type RecordError struct {
	Kind RecordErrorKind
	Msg  string
	Err  error
}

func (e *RecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// IsRecordError returns true if the error is a capture record error.
func IsRecordError(err error) bool {
	var recErr *RecordError
	return errors.As(err, &recErr)
}

// recordTypeProbe peeks at the type field without a full decode.
type recordTypeProbe struct {
	Type string `msgpack:"type"`
}

// decodeRecord decodes a payload, discriminating on the type field.
func decodeRecord(payload []byte) (any, error) {
	var probe recordTypeProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, &RecordError{
			Kind: RecordErrorDecode,
			Msg:  "failed to decode record type",
			Err:  err,
		}
	}

	switch probe.Type {
	case HeaderType:
		var h Header
		if err := msgpack.Unmarshal(payload, &h); err != nil {
			return nil, &RecordError{Kind: RecordErrorDecode, Msg: "failed to decode header", Err: err}
		}
		return &h, nil
	case ChunkType:
		var c Chunk
		if err := msgpack.Unmarshal(payload, &c); err != nil {
			return nil, &RecordError{Kind: RecordErrorDecode, Msg: "failed to decode chunk", Err: err}
		}
		return &c, nil
	case TrailerType:
		var t Trailer
		if err := msgpack.Unmarshal(payload, &t); err != nil {
			return nil, &RecordError{Kind: RecordErrorDecode, Msg: "failed to decode trailer", Err: err}
		}
		return &t, nil
	default:
		return nil, &RecordError{
			Kind: RecordErrorFormat,
			Msg:  fmt.Sprintf("unknown record type %q", probe.Type),
		}
	}
}
