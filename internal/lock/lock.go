// Package lock serializes runs against one destination with an advisory
// flock(2) on a file in its state directory.
package lock

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/thoreinstein/backsnap/internal/errors"
)

// Lock is a held run lock.
type Lock struct {
	f    *os.File
	path string
}

// Acquire takes an exclusive lock on path without blocking, creating the
// file if needed. It returns ErrLocked if another process holds it. The
// holder's PID is written into the file for diagnostics.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening lock file %s", path)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, errors.Mark(errors.Newf("%s is held by another process", path), errors.ErrLocked)
		}
		return nil, errors.Wrapf(err, "locking %s", path)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &Lock{f: f, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock. The file is left in place; removing it would let
// a waiting process lock an unlinked inode. Release is safe to call more
// than once.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil

	unlockErr := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	closeErr := f.Close()
	if unlockErr != nil {
		return errors.Wrapf(unlockErr, "unlocking %s", l.path)
	}
	return errors.Wrapf(closeErr, "closing %s", l.path)
}
