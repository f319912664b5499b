// Package apperr implements the error taxonomy shared by every core
// component: Hasher, Chunker, ContentStore, MetadataStore, and the
// transfer protocol all classify failures into one of the Kinds below
// rather than inventing package-local sentinel errors.
package apperr

import (
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies an Error by recovery strategy.
type Kind string

const (
	// KindInvalidInput covers malformed caller input: empty bytes,
	// out-of-range sizes, malformed digest hex, oversized paths.
	// Never retried; the caller must fix the input.
	KindInvalidInput Kind = "INVALID_INPUT"
	// KindNotFound covers an absent chunk, snapshot, or file id.
	// Surfaced to the caller, not logged as an error.
	KindNotFound Kind = "NOT_FOUND"
	// KindIntegrityFailed covers a re-hash mismatch on get, an AEAD
	// tag failure, or a chunk digest mismatch on the wire. Fatal for
	// the current operation; never silently retried.
	KindIntegrityFailed Kind = "INTEGRITY_FAILED"
	// KindConflict covers a duplicate snapshot name or a concurrent
	// restore already in progress.
	KindConflict Kind = "CONFLICT"
	// KindIoFailed covers disk or network errors. Retried at the
	// transfer layer with backoff; surfaced otherwise.
	KindIoFailed Kind = "IO_FAILED"
	// KindClosed covers an operation attempted after Close. Fatal, no
	// retry.
	KindClosed Kind = "CLOSED"
	// KindProtocolError covers a bad frame magic/version/type or a
	// truncated payload. The connection is closed with an ERROR
	// frame.
	KindProtocolError Kind = "PROTOCOL_ERROR"
)

// Error is the concrete error type returned by every core component.
type Error struct {
	Kind      Kind
	Message   string
	Cause     error
	Timestamp time.Time
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, &Error{Kind: K}) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error of the given Kind, wrapping cause with
// github.com/pkg/errors so a stack trace is attached at the point of
// failure.
func New(kind Kind, message string, cause error) *Error {
	var wrapped error
	if cause != nil {
		wrapped = pkgerrors.Wrap(cause, message)
	}
	return &Error{
		Kind:      kind,
		Message:   message,
		Cause:     wrapped,
		Timestamp: time.Now(),
	}
}

// Retryable reports whether the failure is worth retrying at the
// transfer layer (IoFailed only — every other Kind is terminal for
// the current operation).
func (e *Error) Retryable() bool {
	return e.Kind == KindIoFailed
}

// OfKind reports whether err (or anything it wraps) is an *Error of
// the given Kind.
func OfKind(err error, kind Kind) bool {
	var appErr *Error
	if !pkgerrors.As(err, &appErr) {
		return false
	}
	return appErr.Kind == kind
}

// Stats tracks aggregate error counters so pipelines can report a
// breakdown alongside a partial-success Result.
type Stats struct {
	InvalidInput    uint64
	NotFound        uint64
	IntegrityFailed uint64
	Conflict        uint64
	IoFailed        uint64
	Closed          uint64
	ProtocolError   uint64
}

// Record folds err into the running counters if it is an *Error.
func (s *Stats) Record(err error) {
	var appErr *Error
	if !pkgerrors.As(err, &appErr) {
		return
	}
	switch appErr.Kind {
	case KindInvalidInput:
		s.InvalidInput++
	case KindNotFound:
		s.NotFound++
	case KindIntegrityFailed:
		s.IntegrityFailed++
	case KindConflict:
		s.Conflict++
	case KindIoFailed:
		s.IoFailed++
	case KindClosed:
		s.Closed++
	case KindProtocolError:
		s.ProtocolError++
	}
}

// Total returns the sum of all recorded counters.
func (s *Stats) Total() uint64 {
	return s.InvalidInput + s.NotFound + s.IntegrityFailed + s.Conflict +
		s.IoFailed + s.Closed + s.ProtocolError
}
