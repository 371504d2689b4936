package detect

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/thoreinstein/backsnap/internal/exclude"
	"github.com/thoreinstein/backsnap/internal/pkgindex"
)

// Decision is the outcome of classifying one path.
type Decision int

const (
	// Skip leaves the path out of the backup.
	Skip Decision = iota

	// Backup copies the path.
	Backup
)

func (d Decision) String() string {
	if d == Backup {
		return "backup"
	}
	return "skip"
}

// Reason explains a Decision.
type Reason string

// Reasons, in the order the policy checks them.
const (
	ReasonExcluded        Reason = "excluded"
	ReasonDirectory       Reason = "directory"
	ReasonUntracked       Reason = "untracked"
	ReasonSymlinkMatch    Reason = "symlink-unchanged"
	ReasonSymlinkChanged  Reason = "symlink-changed"
	ReasonChecksumMatch   Reason = "checksum-unchanged"
	ReasonChecksumChanged Reason = "checksum-changed"
	ReasonMTimeMatch      Reason = "mtime-unchanged"
	ReasonMTimeChanged    Reason = "mtime-changed"
	ReasonOtherType       Reason = "other-type"
	ReasonUnreadable      Reason = "unreadable"
)

// Mode selects how regular files are compared with the index.
type Mode int

const (
	// ModeChecksum compares content digests.
	ModeChecksum Mode = iota

	// ModeMTime compares modification times only.
	ModeMTime
)

func (m Mode) String() string {
	if m == ModeMTime {
		return "mtime"
	}
	return "checksum"
}

// FileRaceWarning records a path that changed or became unreadable
// between listing and inspection. The path is backed up anyway.
type FileRaceWarning struct {
	Path string `yaml:"path"`
	Err  string `yaml:"error"`
}

func (w FileRaceWarning) Error() string {
	return fmt.Sprintf("%s: %s", w.Path, w.Err)
}

// Verdict is the classification of one path.
type Verdict struct {
	Path     string
	Decision Decision
	Reason   Reason
	Size     int64
	Warning  *FileRaceWarning
}

// Detector classifies paths against an index and an exclude set. It does
// not modify either and is safe for concurrent use.
type Detector struct {
	index    *pkgindex.Index
	excludes *exclude.Matcher
	mode     Mode
	sum      Checksummer
	rootDir  string
	workers  int
}

// Option configures a Detector.
type Option func(*Detector)

// WithMode sets the comparison mode.
func WithMode(m Mode) Option {
	return func(d *Detector) { d.mode = m }
}

// WithChecksummer replaces the MD5 checksummer.
func WithChecksummer(c Checksummer) Option {
	return func(d *Detector) { d.sum = c }
}

// WithRootDir sets the on-disk directory that logical "/" maps to.
func WithRootDir(dir string) Option {
	return func(d *Detector) { d.rootDir = filepath.Clean(dir) }
}

// WithWorkers bounds the number of files inspected concurrently by Scan.
func WithWorkers(n int) Option {
	return func(d *Detector) { d.workers = n }
}

// New returns a Detector. A nil index treats every path as untracked; a
// nil matcher excludes nothing.
func New(index *pkgindex.Index, excludes *exclude.Matcher, opts ...Option) *Detector {
	d := &Detector{
		index:    index,
		excludes: excludes,
		mode:     ModeChecksum,
		sum:      MD5{},
		rootDir:  "/",
		workers:  1,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers < 1 {
		d.workers = 1
	}
	return d
}

// RootDir returns the on-disk directory that logical "/" maps to.
func (d *Detector) RootDir() string {
	return d.rootDir
}

// Logical maps an on-disk path to the path the package manager recorded.
// Paths outside the root directory are returned cleaned but unchanged.
func (d *Detector) Logical(path string) string {
	path = filepath.Clean(path)
	if d.rootDir == "/" || d.rootDir == "" {
		return path
	}
	rel, err := filepath.Rel(d.rootDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return path
	}
	if rel == "." {
		return "/"
	}
	return "/" + rel
}

// Excluded reports whether the on-disk path matches an exclude pattern.
func (d *Detector) Excluded(path string) bool {
	return d.excludes.Matches(d.Logical(path))
}

// Classify decides whether path must be backed up.
func (d *Detector) Classify(path string) Verdict {
	if d.Excluded(path) {
		return Verdict{Path: path, Decision: Skip, Reason: ReasonExcluded}
	}
	info, err := os.Lstat(path)
	if err != nil {
		return raced(path, 0, err)
	}
	return d.classifyInfo(path, info)
}

// classifyInfo applies the policy after the exclude check.
func (d *Detector) classifyInfo(path string, info fs.FileInfo) Verdict {
	if info.IsDir() {
		return Verdict{Path: path, Decision: Skip, Reason: ReasonDirectory}
	}

	size := info.Size()
	records := d.index.Lookup(d.Logical(path))
	if len(records) == 0 {
		return backup(path, size, ReasonUntracked)
	}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return raced(path, size, err)
		}
		for _, r := range records {
			if r.Kind == pkgindex.KindSymlink && r.LinkTarget == target {
				return Verdict{Path: path, Decision: Skip, Reason: ReasonSymlinkMatch}
			}
		}
		return backup(path, size, ReasonSymlinkChanged)

	case info.Mode().IsRegular():
		if d.mode == ModeMTime {
			mtime := info.ModTime().Unix()
			for _, r := range records {
				if r.Kind == pkgindex.KindRegular && r.MTime == mtime {
					return Verdict{Path: path, Decision: Skip, Reason: ReasonMTimeMatch}
				}
			}
			return backup(path, size, ReasonMTimeChanged)
		}

		sum, err := d.sum.Sum(path)
		if err != nil {
			return raced(path, size, err)
		}
		for _, r := range records {
			if r.Kind == pkgindex.KindRegular && strings.EqualFold(r.Checksum, sum) {
				return Verdict{Path: path, Decision: Skip, Reason: ReasonChecksumMatch}
			}
		}
		return backup(path, size, ReasonChecksumChanged)

	default:
		return backup(path, size, ReasonOtherType)
	}
}

func backup(path string, size int64, reason Reason) Verdict {
	return Verdict{Path: path, Decision: Backup, Reason: reason, Size: size}
}

func raced(path string, size int64, err error) Verdict {
	return Verdict{
		Path:     path,
		Decision: Backup,
		Reason:   ReasonUnreadable,
		Size:     size,
		Warning:  &FileRaceWarning{Path: path, Err: err.Error()},
	}
}
