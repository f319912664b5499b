package wire

import (
	"bytes"
	"fmt"
)

// ErrorCode is the ERROR payload's numeric discriminant.
type ErrorCode uint32

const (
	ErrProtocolVersionMismatch ErrorCode = 1
	ErrInvalidMessage          ErrorCode = 2
	ErrFileNotFound            ErrorCode = 3
	ErrAccessDenied            ErrorCode = 4
	ErrChecksumMismatch        ErrorCode = 5
	ErrTransferTimeout         ErrorCode = 6
	ErrInsufficientSpace       ErrorCode = 7
	ErrInternalError           ErrorCode = 8
)

// ErrorPayload is the ERROR message payload.
type ErrorPayload struct {
	Code    ErrorCode
	Message string
}

func (e ErrorPayload) Encode() []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(e.Code))
	writeString(&buf, e.Message)
	return buf.Bytes()
}

func DecodeErrorPayload(payload []byte) (ErrorPayload, error) {
	r := bytes.NewReader(payload)
	code, err := readUint32(r)
	if err != nil {
		return ErrorPayload{}, err
	}
	msg, err := readString(r)
	if err != nil {
		return ErrorPayload{}, err
	}
	return ErrorPayload{Code: ErrorCode(code), Message: msg}, nil
}

// Error implements the error interface so an ErrorPayload can be
// returned and matched on like any other Go error.
func (e ErrorPayload) Error() string {
	return fmt.Sprintf("wire error %d: %s", e.Code, e.Message)
}

// IsRetryable reports whether retrying the operation that produced
// this error is worthwhile. Timeouts and transient space pressure
// are; everything else reflects a condition a retry cannot fix.
func (e ErrorPayload) IsRetryable() bool {
	switch e.Code {
	case ErrTransferTimeout, ErrInsufficientSpace:
		return true
	default:
		return false
	}
}

// ErrorCodeName returns the human-readable name for an error code.
func ErrorCodeName(code ErrorCode) string {
	switch code {
	case ErrProtocolVersionMismatch:
		return "PROTOCOL_VERSION_MISMATCH"
	case ErrInvalidMessage:
		return "INVALID_MESSAGE"
	case ErrFileNotFound:
		return "FILE_NOT_FOUND"
	case ErrAccessDenied:
		return "ACCESS_DENIED"
	case ErrChecksumMismatch:
		return "CHECKSUM_MISMATCH"
	case ErrTransferTimeout:
		return "TRANSFER_TIMEOUT"
	case ErrInsufficientSpace:
		return "INSUFFICIENT_SPACE"
	case ErrInternalError:
		return "INTERNAL_ERROR"
	default:
		return fmt.Sprintf("UNKNOWN_%d", code)
	}
}

// NewErrorPayload builds an ErrorPayload from code and message; the
// message is stored as given, without the code's name (see ErrorCodeName).
func NewErrorPayload(code ErrorCode, message string) ErrorPayload {
	return ErrorPayload{Code: code, Message: message}
}
