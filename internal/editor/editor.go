// Package editor launches the user's preferred text editor on a state file.
package editor

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/google/shlex"

	"github.com/thoreinstein/backsnap/internal/errors"
)

// Open runs the user's editor on path with the given standard streams and
// waits for it to exit.
func Open(ctx context.Context, path string, stdin io.Reader, stdout, stderr io.Writer) error {
	argv, err := command(detectEditor(), path)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "running editor %s", argv[0])
	}
	return nil
}

// command splits editor with shell quoting rules, so EDITOR="code --wait"
// works, and appends path.
func command(editor, path string) ([]string, error) {
	argv, err := shlex.Split(editor)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parsing editor command %q", editor), errors.ErrConfiguration)
	}
	if len(argv) == 0 {
		return nil, errors.Mark(errors.New("empty editor command"), errors.ErrConfiguration)
	}
	return append(argv, path), nil
}

// detectEditor returns the editor command to use based on environment variables
// and available binaries. Fallback chain: $EDITOR → $VISUAL → nano → vi
func detectEditor() string {
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor
	}
	if visual := os.Getenv("VISUAL"); visual != "" {
		return visual
	}
	if _, err := exec.LookPath("nano"); err == nil {
		return "nano"
	}
	return "vi"
}
