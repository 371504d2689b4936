package rotation

import (
	"os"
	"strconv"
	"strings"

	"github.com/thoreinstein/backsnap/internal/errors"
	"github.com/thoreinstein/backsnap/pkg/fileutil"
)

// counterReadLimit is far above the 20 digits of the largest uint64.
const counterReadLimit = 256

// Counter persists the invocation counter as a decimal text file.
type Counter struct {
	path string
}

// NewCounter returns a Counter stored at path.
func NewCounter(path string) *Counter {
	return &Counter{path: path}
}

// Path returns the counter file path.
func (c *Counter) Path() string {
	return c.path
}

// Read returns the stored counter. A missing file is a first run and reads
// as zero. Anything that is not a single non-negative integer is an
// ErrSchedulingInconsistency: guessing would risk overwriting the wrong
// level.
func (c *Counter) Read() (uint64, error) {
	data, err := fileutil.ReadFileWithLimit(c.path, counterReadLimit)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		if errors.Is(err, fileutil.ErrFileTooLarge) {
			return 0, errors.Mark(errors.Wrapf(err, "reading counter %s", c.path), errors.ErrSchedulingInconsistency)
		}
		return 0, errors.Wrapf(err, "reading counter %s", c.path)
	}

	text := strings.TrimSpace(string(data))
	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, errors.Mark(
			errors.Wrapf(err, "counter %s holds %q", c.path, text),
			errors.ErrSchedulingInconsistency)
	}
	return n, nil
}

// Commit atomically replaces the stored counter with next.
func (c *Counter) Commit(next uint64) error {
	data := []byte(strconv.FormatUint(next, 10) + "\n")
	if err := fileutil.AtomicWriteFile(c.path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing counter %s", c.path)
	}
	return nil
}
