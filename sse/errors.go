package sse

import (
	"errors"
	"fmt"
)

// FrameErrorKind classifies frame reader errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a non-empty partial buffer at stream end.
	// The trailing bytes are malformed, not a valid final event.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates an event exceeding the configured size cap.
	FrameErrorTooLarge
	// FrameErrorClosed indicates a Feed call after Close.
	FrameErrorClosed
)

// FrameError represents a frame reader error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if this error is fatal to the stream.
// An oversized event means the stream is corrupt; there is no safe
// resync point. A partial buffer at close is reported but recoverable:
// the stream already ended and every complete event was delivered.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorTooLarge || e.Kind == FrameErrorClosed
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// IsPartialDiscard returns true if the error reports a discarded
// partial buffer at stream end.
func IsPartialDiscard(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind == FrameErrorPartial
	}
	return false
}

// DecodeError represents a single malformed event payload.
// Decode errors are per-event: the event is dropped and logged,
// subsequent events continue to decode.
type DecodeError struct {
	Seq int64
	Msg string
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("event %d: %s: %v", e.Seq, e.Msg, e.Err)
	}
	return fmt.Sprintf("event %d: %s", e.Seq, e.Msg)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError returns true if the error is a per-event decode error.
func IsDecodeError(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}
