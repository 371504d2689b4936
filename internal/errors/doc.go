// Package errors provides error handling conventions for the backsnap CLI.
//
// This package defines the sentinel errors that classify fatal failures,
// an ExitError type for CLI exit code handling, and exit code constants
// following standard Unix conventions. The wrapping helpers re-export
// [github.com/cockroachdb/errors] so callers need a single import.
//
// # Sentinel Errors
//
// Fatal conditions are identified with [errors.Is]:
//
//	if errors.Is(err, bserrors.ErrIndexCorrupt) {
//	    // ask the user to rerun with --reindex
//	}
//
// # Exit Codes
//
//   - ExitSuccess (0): Command completed successfully
//   - ExitUser (1): User-related error (invalid input, configuration, etc.)
//   - ExitSystem (2): System-related error (I/O, locking, sync failure, etc.)
//
// # ExitError
//
// [ExitError] wraps an underlying error with an exit code and optional
// suggestion. The command layer converts fatal errors with [Classify]:
//
//	var exitErr *bserrors.ExitError
//	if errors.As(err, &exitErr) {
//	    if exitErr.Suggestion != "" {
//	        fmt.Println("Suggestion:", exitErr.Suggestion)
//	    }
//	    os.Exit(exitErr.Code)
//	}
package errors
