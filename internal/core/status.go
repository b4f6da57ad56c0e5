package core

import (
	"errors"
	"time"
)

// StatusKind enumerates the status events surfaced to the operator.
type StatusKind string

const (
	StatusSessionStarted       StatusKind = "session_started"
	StatusSessionEnded         StatusKind = "session_ended"
	StatusCaptureUnavailable   StatusKind = "capture_unavailable"
	StatusHandshakeNotObserved StatusKind = "handshake_not_observed"
	StatusFramingError         StatusKind = "framing_error"
)

// Fatal reports whether the status terminates the session without usable data.
func (k StatusKind) Fatal() bool {
	switch k {
	case StatusCaptureUnavailable, StatusHandshakeNotObserved, StatusFramingError:
		return true
	default:
		return false
	}
}

// SessionStats summarizes what one session processed.
type SessionStats struct {
	Segments        uint64 `json:"segments"`
	StreamBytes     uint64 `json:"stream_bytes"`
	Messages        uint64 `json:"messages"`
	SkippedCommands uint64 `json:"skipped_commands"`
	DecodeErrors    uint64 `json:"decode_errors"`
	Records         uint64 `json:"records"`
	OrphanDeltas    int    `json:"orphan_deltas"`
}

// StatusEvent is a lifecycle notification for one capture session.
type StatusEvent struct {
	Kind      StatusKind   `json:"kind"`
	SessionID string       `json:"session_id,omitempty"`
	Flow      string       `json:"flow,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Err       error        `json:"-"`
	Time      time.Time    `json:"time"`
	Stats     SessionStats `json:"stats"`
}

// Error returns the event error text, if any.
func (e StatusEvent) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// StatusKindOf maps a session error to the status kind that reports it.
// Unrecognized errors map to StatusSessionEnded.
func StatusKindOf(err error) StatusKind {
	switch {
	case errors.Is(err, ErrCaptureUnavailable):
		return StatusCaptureUnavailable
	case errors.Is(err, ErrHandshakeNotObserved):
		return StatusHandshakeNotObserved
	case errors.Is(err, ErrFramingError):
		return StatusFramingError
	default:
		return StatusSessionEnded
	}
}
