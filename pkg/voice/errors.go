package voice

import (
	"errors"
	"fmt"
)

// AbortedError is the well-known error string carried by a request that was
// cancelled rather than failed. Callers compare a request's Error() against
// this value to tell cancellation apart from a true failure.
const AbortedError = "Aborted"

// Common errors for voice operations
var (
	// ErrCanceled indicates an operation was cancelled by the caller or the system
	ErrCanceled = errors.New("request cancelled")

	// ErrTimeout indicates no activity occurred within the request deadline
	ErrTimeout = errors.New("request timed out")

	// ErrNotConnected indicates the socket connection is not established
	ErrNotConnected = errors.New("connection not established")

	// ErrRequestComplete indicates an operation was attempted on a completed request
	ErrRequestComplete = errors.New("request already complete")

	// ErrCacheMiss indicates a clip was not found in a cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrBufferUnloaded indicates a sample buffer has been released
	ErrBufferUnloaded = errors.New("sample buffer unloaded")

	// ErrDiskCacheDisabled indicates disk caching is not available for a clip
	ErrDiskCacheDisabled = errors.New("disk cache disabled for clip")
)

// ErrorCode identifies a class of failure in the error taxonomy.
type ErrorCode string

const (
	// ErrorCodeCanceled marks a caller- or system-initiated abort
	ErrorCodeCanceled ErrorCode = "CANCELED"

	// ErrorCodeTimeout marks expiry of the activity deadline
	ErrorCodeTimeout ErrorCode = "TIMEOUT"

	// ErrorCodeTransport marks a socket- or HTTP-level failure
	ErrorCodeTransport ErrorCode = "TRANSPORT"

	// ErrorCodeServer marks a non-empty error field in a well-formed response
	ErrorCodeServer ErrorCode = "SERVER_ERROR"

	// ErrorCodeDecode marks a malformed binary or JSON chunk
	ErrorCodeDecode ErrorCode = "DECODE_FAILURE"

	// ErrorCodeDiskIO marks a cache file that could not be created, written or read
	ErrorCodeDiskIO ErrorCode = "DISK_IO"
)

// VoiceError is a failure with a taxonomy code and optional cause.
type VoiceError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *VoiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *VoiceError) Unwrap() error {
	return e.Cause
}

// NewVoiceError creates an error with the given code and cause.
func NewVoiceError(code ErrorCode, message string, cause error) *VoiceError {
	return &VoiceError{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the taxonomy code from err, or empty if err carries none.
func CodeOf(err error) ErrorCode {
	var ve *VoiceError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// IsTerminalFailure reports whether an error class ends the whole request.
// Decode and per-chunk disk failures are recoverable: the chunk is skipped
// and the stream continues.
func (c ErrorCode) IsTerminalFailure() bool {
	switch c {
	case ErrorCodeDecode, ErrorCodeDiskIO:
		return false
	default:
		return true
	}
}
