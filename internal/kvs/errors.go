package kvs

import (
	"errors"
	"fmt"

	"github.com/forgo/surrealembed/pkg/rpc"
)

// =============================================================================
// Connection Errors
// =============================================================================

var (
	// ErrUnsupportedEndpoint is returned by Connect for unknown endpoints.
	ErrUnsupportedEndpoint = errors.New("unsupported endpoint")
	// ErrInvalidOptions is returned by Connect when options fail validation.
	ErrInvalidOptions = errors.New("invalid engine options")
)

// =============================================================================
// Session Errors
// =============================================================================

var (
	ErrNoNamespace      = errors.New("specify a namespace to use")
	ErrNoDatabase       = errors.New("specify a database to use")
	ErrNotAllowed       = errors.New("not enough permissions to perform this action")
	ErrInvalidAuth      = errors.New("there was a problem with authentication")
	ErrSessionExpired   = errors.New("the session has expired")
	ErrInvalidSignup    = errors.New("there was a problem with signing up")
	ErrLiveDisabled     = errors.New("live query notifications are not enabled")
	ErrLiveNotFound     = errors.New("can not execute KILL statement using id")
	ErrTxTimeout        = errors.New("the transaction timed out")
	ErrQueryTimeout     = errors.New("the query was not executed because it exceeded the timeout")
	ErrQueryCancelled   = errors.New("the query was not executed due to a failed transaction")
	ErrTxCancelled      = errors.New("the query was not executed due to a cancelled transaction")
	ErrUnknownStatement = errors.New("unsupported statement")
)

// =============================================================================
// Schema Errors
// =============================================================================

var (
	ErrNotFound      = errors.New("does not exist")
	ErrAlreadyExists = errors.New("already exists")
	ErrSingleResult  = errors.New("expected a single result output when using the ONLY keyword")
	ErrVersionless   = errors.New("VERSION is only supported by versioned stores")
)

// =============================================================================
// RPC Errors
// =============================================================================

// Error is a failure that maps onto an rpc error code.
type Error struct {
	Code    int64
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func invalidParams(format string, args ...any) *Error {
	return &Error{Code: rpc.CodeInvalidParams, Message: "invalid params: " + fmt.Sprintf(format, args...)}
}

func methodNotFound(method string) *Error {
	return &Error{Code: rpc.CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
}

// toRPCError converts any error into the wire error.
func toRPCError(err error) *rpc.Error {
	var e *Error
	if errors.As(err, &e) {
		return &rpc.Error{Code: e.Code, Message: e.Message}
	}
	return &rpc.Error{Code: rpc.CodeThrown, Message: err.Error()}
}

func notFound(kind, name string) error {
	return fmt.Errorf("the %s '%s' %w", kind, name, ErrNotFound)
}

func alreadyExists(kind, name string) error {
	return fmt.Errorf("the %s '%s' %w", kind, name, ErrAlreadyExists)
}
