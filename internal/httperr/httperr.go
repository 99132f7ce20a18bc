// Package httperr defines the error taxonomy shared by the HTTP API, the IPC
// socket server, and the buffer broadcaster. A CoreError carries a stable code
// from the taxonomy instead of an ad hoc string, so callers at every boundary
// can switch on Code rather than parsing messages.
package httperr

import "fmt"

// Code is one of the error kinds emitted on the wire and in ERROR frames.
type Code string

const (
	SessionNotFound        Code = "SESSION_NOT_FOUND"
	MessageProcessingError Code = "MESSAGE_PROCESSING_ERROR"
	InvalidOperation       Code = "INVALID_OPERATION"
	ControlMessageFailed   Code = "CONTROL_MESSAGE_FAILED"
	ResetSizeFailed        Code = "RESET_SIZE_FAILED"
	ConnectionLimit        Code = "CONNECTION_LIMIT"
	PayloadTooLarge        Code = "PAYLOAD_TOO_LARGE"
	InvalidMessageType     Code = "INVALID_MESSAGE_TYPE"
	MalformedFrame         Code = "MALFORMED_FRAME"
)

// CoreError is the explicit result type used at component boundaries in place
// of bare errors or panics, per the taxonomy in spec §7.
type CoreError struct {
	Code    Code
	Message string
	Details string
}

func (e *CoreError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs a CoreError with the given code and message.
func New(code Code, message string) *CoreError {
	return &CoreError{Code: code, Message: message}
}

// Newf constructs a CoreError with a formatted message.
func Newf(code Code, format string, args ...any) *CoreError {
	return &CoreError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns a copy of e with Details set.
func (e *CoreError) WithDetails(details string) *CoreError {
	cp := *e
	cp.Details = details
	return &cp
}

// As extracts a *CoreError from err, if any, mirroring errors.As without
// requiring callers to import errors for this one common case.
func As(err error) (*CoreError, bool) {
	ce, ok := err.(*CoreError)
	return ce, ok
}

// HTTPStatus maps a Code to the HTTP status codes documented in spec §6/§7.
func (c Code) HTTPStatus() int {
	switch c {
	case SessionNotFound:
		return 404
	case InvalidOperation:
		return 400
	case ControlMessageFailed, ResetSizeFailed:
		return 409
	case ConnectionLimit:
		return 429
	case PayloadTooLarge:
		return 413
	case InvalidMessageType, MalformedFrame, MessageProcessingError:
		return 400
	default:
		return 500
	}
}
