package surql

import "errors"

// =============================================================================
// Parse Errors
// =============================================================================

var (
	// ErrParse is wrapped by every syntax error.
	ErrParse = errors.New("parse error")
	// ErrUnknownFunction is returned when an expression calls a function
	// that does not exist.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrUnsupported is returned for syntax that is recognised but not
	// implemented.
	ErrUnsupported = errors.New("unsupported syntax")
)

// =============================================================================
// Evaluation Errors
// =============================================================================

var (
	// ErrFunctionNotAllowed is returned when capabilities forbid a function.
	ErrFunctionNotAllowed = errors.New("function not allowed")
	// ErrInvalidArgument is returned when a function receives arguments of
	// the wrong number or type.
	ErrInvalidArgument = errors.New("invalid argument")
)
