package config

import (
	"errors"
	"path/filepath"
	"strings"
)

// Validation errors for configuration fields.
var (
	// ErrMaxBackupsRange indicates MAXBACKUPS is outside [1, MaxMaxBackups].
	ErrMaxBackupsRange = errors.New("MAXBACKUPS must be a positive integer no greater than 62")

	// ErrWorkersNegative indicates WORKERS is negative.
	ErrWorkersNegative = errors.New("WORKERS must not be negative")

	// ErrInvalidPath indicates a path value is malformed.
	ErrInvalidPath = errors.New("invalid path")

	// ErrInvalidRsyncArgs indicates RSYNC_ARGS cannot be split.
	ErrInvalidRsyncArgs = errors.New("invalid RSYNC_ARGS")
)

// Validate checks a Config for validity.
// Returns nil if valid, or a slice of validation errors.
func Validate(cfg *Config) []error {
	if cfg == nil {
		return []error{errors.New("config is nil")}
	}

	var errs []error

	if cfg.MaxBackups < 1 || cfg.MaxBackups > MaxMaxBackups {
		errs = append(errs, &FieldError{Field: "MAXBACKUPS", Value: cfg.MaxBackups, Err: ErrMaxBackupsRange})
	}

	if cfg.Workers < 0 {
		errs = append(errs, &FieldError{Field: "WORKERS", Value: cfg.Workers, Err: ErrWorkersNegative})
	}

	if err := validatePath(cfg.PackageDB); err != nil {
		errs = append(errs, &FieldError{Field: "PKGDB", Value: cfg.PackageDB, Err: err})
	}

	if _, err := cfg.ExtraRsyncArgs(); err != nil {
		errs = append(errs, &FieldError{Field: "RSYNC_ARGS", Value: cfg.RsyncArgs, Err: ErrInvalidRsyncArgs})
	}

	return errs
}

// validatePath requires an absolute, NUL-free path.
func validatePath(path string) error {
	if path == "" || strings.ContainsRune(path, '\x00') {
		return ErrInvalidPath
	}
	if !filepath.IsAbs(path) {
		return ErrInvalidPath
	}
	return nil
}

// FieldError reports an invalid value for one config key.
type FieldError struct {
	Field string
	Value any
	Err   error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
