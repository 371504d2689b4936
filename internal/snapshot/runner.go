package snapshot

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/thoreinstein/backsnap/internal/cleanup"
	"github.com/thoreinstein/backsnap/internal/config"
	"github.com/thoreinstein/backsnap/internal/errors"
	"github.com/thoreinstein/backsnap/internal/exclude"
	"github.com/thoreinstein/backsnap/internal/lock"
	"github.com/thoreinstein/backsnap/internal/paths"
	"github.com/thoreinstein/backsnap/internal/rotation"
	"github.com/thoreinstein/backsnap/internal/rsync"
)

// Runner performs runs and queries against destinations.
type Runner struct {
	sync       rsync.Runner
	lookPath   func(string) (string, error)
	userConfig string
	version    string
	tempDir    string
	now        func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithSyncRunner replaces the process that executes rsync.
func WithSyncRunner(r rsync.Runner) Option {
	return func(rn *Runner) {
		rn.sync = r
	}
}

// WithLookPath replaces exec.LookPath for locating nice and ionice.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(r *Runner) {
		r.lookPath = fn
	}
}

// WithUserConfig sets the user-wide config file layered under each
// destination's config. An empty path disables it.
func WithUserConfig(path string) Option {
	return func(r *Runner) {
		r.userConfig = path
	}
}

// WithVersion records the program version in run reports.
func WithVersion(v string) Option {
	return func(r *Runner) {
		r.version = v
	}
}

// WithTempDir sets where file lists and exclude rules are staged.
func WithTempDir(dir string) Option {
	return func(r *Runner) {
		r.tempDir = dir
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner returns a Runner that executes rsync as a child process
// writing to stdout and stderr.
func NewRunner(stdout, stderr io.Writer, opts ...Option) *Runner {
	r := &Runner{
		sync:       &rsync.Exec{Stdout: stdout, Stderr: stderr},
		lookPath:   exec.LookPath,
		userConfig: paths.UserConfigFile(),
		version:    "dev",
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// resolveLayout parses dest, making a local path absolute, and locates
// its state directory.
func resolveLayout(dest, stateDir string) (paths.Layout, error) {
	if dest == "" {
		return paths.Layout{}, errors.Mark(errors.New("destination is required"), errors.ErrConfiguration)
	}
	loc, err := paths.ParseLocation(dest)
	if err != nil {
		return paths.Layout{}, errors.Mark(err, errors.ErrConfiguration)
	}
	if !loc.IsRemote() {
		abs, err := filepath.Abs(loc.Path)
		if err != nil {
			return paths.Layout{}, errors.Wrapf(err, "resolving destination %s", dest)
		}
		loc.Path = abs
	}
	return paths.NewLayout(loc, stateDir)
}

// destination is an opened destination.
type destination struct {
	layout   paths.Layout
	cfg      *config.Config
	excludes *exclude.Matcher
	counter  *rotation.Counter
}

// open resolves dest, checks its state directory and loads its config and
// excludes. With a non-nil stack it also takes the run lock.
func (r *Runner) open(dest, stateDir string, stack *cleanup.Stack) (*destination, error) {
	layout, err := resolveLayout(dest, stateDir)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(layout.StateDir)
	switch {
	case os.IsNotExist(err):
		return nil, errors.Mark(
			errors.Newf("state directory %s does not exist; run: backsnap init %s", layout.StateDir, dest),
			errors.ErrConfiguration)
	case err != nil:
		return nil, errors.Mark(errors.Wrapf(err, "reading state directory %s", layout.StateDir), errors.ErrConfiguration)
	case !info.IsDir():
		return nil, errors.Mark(errors.Newf("%s is not a directory", layout.StateDir), errors.ErrConfiguration)
	}

	if stack != nil {
		l, err := lock.Acquire(layout.LockFile())
		if err != nil {
			return nil, err
		}
		stack.Push("release lock", l.Release)
	}

	cfg, err := config.Load(r.userConfig, layout.ConfigFile())
	if err != nil {
		return nil, err
	}
	excludes, err := exclude.Load(layout.ExcludesFile())
	if err != nil {
		return nil, err
	}

	return &destination{
		layout:   layout,
		cfg:      cfg,
		excludes: excludes,
		counter:  rotation.NewCounter(layout.CounterFile()),
	}, nil
}

// levelExists returns the predicate the schedule uses to pick a
// reference. Remote level directories are assumed present.
func (d *destination) levelExists() func(int) bool {
	if d.layout.Dest.IsRemote() {
		return nil
	}
	return func(level int) bool {
		info, err := os.Stat(d.layout.LevelDir(level).Path)
		return err == nil && info.IsDir()
	}
}

// plan reads the counter and schedules the next run.
func (d *destination) plan() (uint64, rotation.Plan, error) {
	count, err := d.counter.Read()
	if err != nil {
		return 0, rotation.Plan{}, err
	}
	plan, err := rotation.Next(count, d.cfg.MaxBackups, d.levelExists())
	if err != nil {
		return 0, rotation.Plan{}, err
	}
	return count, plan, nil
}
