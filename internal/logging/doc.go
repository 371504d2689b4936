// Package logging provides structured logging for the backsnap CLI using slog.
//
// Output is either a colorized, TTY-aware text format or JSON. The logger
// chosen by the root command travels in the command context so that the
// scheduler, scanner and sync layers log through the same handler:
//
//	ctx = logging.NewContext(ctx, logger)
//	...
//	logging.FromContext(ctx).Info("level selected", "level", 3)
//
// For tests, use [ForTest] to route log output through t.Log.
package logging
