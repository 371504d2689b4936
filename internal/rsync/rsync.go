// Package rsync builds and runs the rsync command that copies a snapshot.
package rsync

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/thoreinstein/backsnap/internal/errors"
	"github.com/thoreinstein/backsnap/internal/logging"
)

// Binary is the rsync executable.
const Binary = "rsync"

// exitVanished is rsync's exit status when source files disappeared
// during the transfer. Everything else was copied.
const exitVanished = 24

// Options describe one rsync invocation.
type Options struct {
	// Wrapper is prepended to the command, e.g. NicePrefix's result.
	Wrapper []string

	// Sources are rsync source arguments in rsync syntax.
	Sources []string

	// Dest is the rsync destination argument.
	Dest string

	// LinkDest hardlinks unchanged files against this directory, given as
	// a path on the destination host.
	LinkDest string

	// FilesFrom names a NUL-separated list of paths relative to the single
	// source.
	FilesFrom string

	// ExcludeFrom names a file of rsync exclude rules.
	ExcludeFrom string

	// Compress enables wire compression.
	Compress bool

	// RemoteShell is the transport for host:path arguments.
	RemoteShell string

	// Relative keeps full source paths below Dest.
	Relative bool

	// Delete removes destination files missing from the source.
	Delete bool

	// DryRun reports without copying.
	DryRun bool

	// Extra holds user-supplied arguments, placed before the paths.
	Extra []string
}

// Args returns the full command line for o.
func Args(o Options) []string {
	argv := append([]string{}, o.Wrapper...)
	argv = append(argv, Binary, "-aHAX", "--numeric-ids")

	if o.Delete {
		argv = append(argv, "--delete")
	}
	if o.Relative {
		argv = append(argv, "--relative")
	}
	if o.Compress {
		argv = append(argv, "--compress")
	}
	if o.RemoteShell != "" {
		argv = append(argv, "--rsh="+o.RemoteShell)
	}
	if o.LinkDest != "" {
		argv = append(argv, "--link-dest="+o.LinkDest)
	}
	if o.FilesFrom != "" {
		argv = append(argv, "--files-from="+o.FilesFrom, "--from0")
	}
	if o.ExcludeFrom != "" {
		argv = append(argv, "--exclude-from="+o.ExcludeFrom)
	}
	if o.DryRun {
		argv = append(argv, "--dry-run", "--itemize-changes")
	}
	argv = append(argv, o.Extra...)
	argv = append(argv, o.Sources...)
	argv = append(argv, o.Dest)
	return argv
}

// NicePrefix returns the wrapper that lowers rsync's CPU and I/O priority.
// Tools missing from PATH according to lookPath are left out.
func NicePrefix(lookPath func(string) (string, error)) []string {
	var prefix []string
	if _, err := lookPath("nice"); err == nil {
		prefix = append(prefix, "nice", "-n", "19")
	}
	if _, err := lookPath("ionice"); err == nil {
		prefix = append(prefix, "ionice", "-c3")
	}
	return prefix
}

// Runner executes a command line.
type Runner interface {
	Run(ctx context.Context, argv []string) error
}

// Exec runs commands as child processes. Cancelling ctx kills the child.
type Exec struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes argv. A non-zero exit is marked ErrSyncFailed, except for
// rsync's "some files vanished" status, which is logged and tolerated.
func (e *Exec) Run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty command line")
	}
	log := logging.FromContext(ctx)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = e.Stdout
	cmd.Stderr = &stderr
	if e.Stderr != nil {
		cmd.Stderr = io.MultiWriter(e.Stderr, &stderr)
	}

	log.Info("running", "command", strings.Join(argv, " "))
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(ctxErr, "rsync interrupted")
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == exitVanished {
			log.Warn("some source files vanished during transfer")
			return nil
		}
		msg := lastLine(stderr.String())
		return errors.Mark(
			errors.Newf("%s exited with status %d: %s", argv[0], exitErr.ExitCode(), msg),
			errors.ErrSyncFailed)
	}
	return errors.Mark(errors.Wrapf(err, "starting %s", argv[0]), errors.ErrSyncFailed)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
