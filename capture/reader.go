package capture

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Reader decodes capture records from a stream.
type Reader struct {
	r         io.Reader
	sawHeader bool
}

// NewReader creates a capture reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadHeader reads and validates the header record. Must be the first call.
func (cr *Reader) ReadHeader() (*Header, error) {
	record, err := cr.readRecord()
	if err != nil {
		if err == io.EOF {
			return nil, &RecordError{Kind: RecordErrorFormat, Msg: "capture is empty"}
		}
		return nil, err
	}

	header, ok := record.(*Header)
	if !ok {
		return nil, &RecordError{
			Kind: RecordErrorFormat,
			Msg:  fmt.Sprintf("first record is %T, want header", record),
		}
	}
	if header.Version != FormatVersion {
		return nil, &RecordError{
			Kind: RecordErrorFormat,
			Msg:  fmt.Sprintf("unsupported capture version %d", header.Version),
		}
	}
	cr.sawHeader = true
	return header, nil
}

// Next returns the next chunk or trailer record.
// Returns io.EOF when the capture ends without a trailer (a truncated but
// usable capture: every recorded chunk is still replayable).
func (cr *Reader) Next() (any, error) {
	if !cr.sawHeader {
		return nil, &RecordError{Kind: RecordErrorFormat, Msg: "ReadHeader must be called first"}
	}

	record, err := cr.readRecord()
	if err != nil {
		return nil, err
	}
	switch record.(type) {
	case *Chunk, *Trailer:
		return record, nil
	default:
		return nil, &RecordError{
			Kind: RecordErrorFormat,
			Msg:  fmt.Sprintf("unexpected record %T after header", record),
		}
	}
}

// readRecord reads one length-prefixed record.
//
// Errors:
//   - io.EOF: stream ended cleanly between records
//   - *RecordError with Kind=RecordErrorPartial: truncated record
//   - *RecordError with Kind=RecordErrorTooLarge: record exceeds limit
func (cr *Reader) readRecord() (any, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(cr.r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &RecordError{
			Kind: RecordErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(prefix[:])
	if payloadSize > MaxPayloadSize {
		return nil, &RecordError{
			Kind: RecordErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(cr.r, payload); err != nil {
		return nil, &RecordError{
			Kind: RecordErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	return decodeRecord(payload)
}
