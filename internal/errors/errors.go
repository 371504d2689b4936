package errors

import (
	"fmt"

	crdb "github.com/cockroachdb/errors"
)

// Exit codes for CLI applications.
const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess = 0

	// ExitUser indicates a user-related error (invalid input, configuration, etc.).
	ExitUser = 1

	// ExitSystem indicates a system-related error (I/O, locking, sync failure, etc.).
	ExitSystem = 2
)

// Sentinel errors for fatal failure conditions.
var (
	// ErrConfiguration indicates invalid configuration or arguments.
	// Nothing at the destination has been touched when it is returned.
	ErrConfiguration = crdb.New("configuration error")

	// ErrIndexMissing indicates no persisted package index exists.
	ErrIndexMissing = crdb.New("package index not found")

	// ErrIndexCorrupt indicates the persisted package index could not be decoded
	// or is internally inconsistent.
	ErrIndexCorrupt = crdb.New("package index corrupt")

	// ErrSchedulingInconsistency indicates the counter file exists but cannot be
	// parsed, so the next level cannot be determined safely.
	ErrSchedulingInconsistency = crdb.New("scheduling inconsistency")

	// ErrLocked indicates another run holds the destination lock.
	ErrLocked = crdb.New("destination is locked by another run")

	// ErrSyncFailed indicates the copy collaborator reported failure.
	ErrSyncFailed = crdb.New("snapshot sync failed")
)

// ExitError wraps an error with an exit code and optional suggestion for CLI applications.
// It implements the error interface and supports unwrapping via errors.Unwrap.
type ExitError struct {
	// Err is the underlying error that caused the exit.
	Err error

	// Code is the exit code to return to the operating system.
	Code int

	// Suggestion is an optional actionable suggestion for the user.
	Suggestion string
}

// NewExitError creates an ExitError with the given underlying error and exit code.
// If err is nil, the returned ExitError will have a nil Err field.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{
		Err:  err,
		Code: code,
	}
}

// NewExitErrorWithSuggestion creates an ExitError with a suggestion.
func NewExitErrorWithSuggestion(err error, code int, suggestion string) *ExitError {
	return &ExitError{
		Err:        err,
		Code:       code,
		Suggestion: suggestion,
	}
}

// NewUserError creates an ExitError with ExitUser code and a suggestion.
func NewUserError(err error, suggestion string) *ExitError {
	return &ExitError{
		Err:        err,
		Code:       ExitUser,
		Suggestion: suggestion,
	}
}

// NewSystemError creates an ExitError with ExitSystem code and a suggestion.
func NewSystemError(err error, suggestion string) *ExitError {
	return &ExitError{
		Err:        err,
		Code:       ExitSystem,
		Suggestion: suggestion,
	}
}

// NewConfigError creates an ExitError with ExitUser code and a standard suggestion.
func NewConfigError(err error) *ExitError {
	return &ExitError{
		Err:        err,
		Code:       ExitUser,
		Suggestion: "Check <dest>/.backsnap/config or run: backsnap init <dest>",
	}
}

// Error returns the error message from the underlying error.
// If the underlying error is nil, it returns a generic message with the exit code.
func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error, enabling errors.Is and errors.As
// to examine the error chain.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// Classify maps an error from a run onto an ExitError carrying the exit code
// and suggestion for its failure class. Errors that already are ExitErrors
// are returned unchanged.
func Classify(err error) *ExitError {
	if err == nil {
		return nil
	}

	var exitErr *ExitError
	if As(err, &exitErr) {
		return exitErr
	}

	switch {
	case Is(err, ErrConfiguration):
		return NewConfigError(err)
	case Is(err, ErrIndexMissing), Is(err, ErrIndexCorrupt):
		return NewUserError(err, "Rerun with --reindex to rebuild the package index")
	case Is(err, ErrSchedulingInconsistency):
		return NewUserError(err, "Inspect <dest>/.backsnap/count; it must hold a single non-negative integer")
	case Is(err, ErrLocked):
		return NewSystemError(err, "Another backsnap run is in progress; wait for it to finish")
	default:
		return NewSystemError(err, "")
	}
}
