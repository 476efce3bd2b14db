package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/forgo/surrealembed/internal/surql"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // A statement or export failed
	ExitCommandError = 2 // Bad flags, config or connection
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as SurrealQL literals or JSON.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Result writes one value.
func (f *OutputFormatter) Result(v any) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(f.Writer, surql.Literal(v))
	return err
}

// Results writes the result of each statement in order.
func (f *OutputFormatter) Results(results []any) error {
	if f.Format == "json" {
		return f.Result(results)
	}
	for i, r := range results {
		entry, _ := r.(map[string]any)
		if _, err := fmt.Fprintf(f.Writer, "-- Query %d\n", i+1); err != nil {
			return err
		}
		if err := f.Result(entry["result"]); err != nil {
			return err
		}
	}
	return nil
}
