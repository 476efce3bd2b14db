package engine

import "errors"

// =============================================================================
// Connection Errors
// =============================================================================

var (
	// ErrConnectionUnavailable is returned when an operation needs a live
	// handle and none is held.
	ErrConnectionUnavailable = errors.New("there is no connection available at this moment")
	// ErrUnexpectedConnection matches every *UnexpectedConnectionError.
	ErrUnexpectedConnection = errors.New("an unexpected error occurred")
	// ErrHandleReleased is returned by a native handle used after Release.
	ErrHandleReleased = errors.New("engine handle has been released")
)

// UnexpectedConnectionError wraps a failure of the native engine to
// establish a connection.
type UnexpectedConnectionError struct {
	Message string
	Err     error
}

func (e *UnexpectedConnectionError) Error() string {
	return e.Message
}

func (e *UnexpectedConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnexpectedConnection}
	}
	return []error{ErrUnexpectedConnection, e.Err}
}

func newUnexpectedConnectionError(err error) *UnexpectedConnectionError {
	msg := ErrUnexpectedConnection.Error()
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &UnexpectedConnectionError{Message: msg, Err: err}
}

// =============================================================================
// Protocol Errors
// =============================================================================

var (
	// ErrUnexpectedServerResponse is returned when a response payload cannot
	// be decoded or does not answer the request it was read for.
	ErrUnexpectedServerResponse = errors.New("unexpected server response")
	// ErrUnsupportedProtocol is returned by the factory for unknown schemes.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	// ErrExportUnsupported is returned when the handle cannot export.
	ErrExportUnsupported = errors.New("engine does not support export")
)
