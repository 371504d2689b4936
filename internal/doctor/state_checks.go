package doctor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/thoreinstein/backsnap/internal/errors"
	"github.com/thoreinstein/backsnap/internal/lock"
	"github.com/thoreinstein/backsnap/internal/paths"
	"github.com/thoreinstein/backsnap/internal/pkgindex"
	"github.com/thoreinstein/backsnap/internal/rotation"
)

// CounterCheck reads the counter and schedules the next run.
type CounterCheck struct {
	target Target
}

var _ Check = (*CounterCheck)(nil)

// NewCounterCheck creates a new counter check.
func NewCounterCheck(t Target) *CounterCheck {
	return &CounterCheck{target: t}
}

// Name returns the unique identifier for this check.
func (c *CounterCheck) Name() string { return "counter" }

// Category returns the grouping for this check.
func (c *CounterCheck) Category() string { return "schedule" }

// Run reads the counter.
func (c *CounterCheck) Run(_ context.Context) *CheckResult {
	layout := c.target.Layout
	count, err := rotation.NewCounter(layout.CounterFile()).Read()
	if err != nil {
		res := result(c, SeverityError, err.Error())
		res.FixHint = "restore " + layout.CounterFile() + " to a single non-negative integer"
		return res
	}

	var exists func(int) bool
	if !layout.Dest.IsRemote() {
		exists = func(level int) bool {
			info, err := os.Stat(layout.LevelDir(level).Path)
			return err == nil && info.IsDir()
		}
	}
	plan, err := rotation.Next(count, c.target.config().MaxBackups, exists)
	if err != nil {
		return result(c, SeverityError, err.Error())
	}

	msg := fmt.Sprintf("counter %d, next run writes %s", count, paths.LevelDirName(plan.Level))
	if plan.HasReference() {
		msg += " linked against " + paths.LevelDirName(plan.Reference)
	} else {
		msg += " as a full copy"
	}
	res := result(c, SeverityPass, msg)
	res.Details = map[string]any{"counter": count, "level": plan.Level}
	return res
}

// LockCheck reports whether a run currently holds the destination lock.
type LockCheck struct {
	target Target
}

var _ Check = (*LockCheck)(nil)

// NewLockCheck creates a new lock check.
func NewLockCheck(t Target) *LockCheck {
	return &LockCheck{target: t}
}

// Name returns the unique identifier for this check.
func (c *LockCheck) Name() string { return "lock" }

// Category returns the grouping for this check.
func (c *LockCheck) Category() string { return "state" }

// Run tries the lock and releases it at once.
func (c *LockCheck) Run(_ context.Context) *CheckResult {
	if _, err := os.Stat(c.target.Layout.StateDir); err != nil {
		return result(c, SeverityInfo, "no state directory")
	}

	l, err := lock.Acquire(c.target.Layout.LockFile())
	switch {
	case errors.Is(err, errors.ErrLocked):
		return result(c, SeverityWarning, "a run is in progress")
	case err != nil:
		return result(c, SeverityError, err.Error())
	}
	if err := l.Release(); err != nil {
		return result(c, SeverityError, err.Error())
	}
	return result(c, SeverityPass, "not locked")
}

// PackageDBCheck verifies the package manifest root exists.
type PackageDBCheck struct {
	target Target
}

var _ Check = (*PackageDBCheck)(nil)

// NewPackageDBCheck creates a new package database check.
func NewPackageDBCheck(t Target) *PackageDBCheck {
	return &PackageDBCheck{target: t}
}

// Name returns the unique identifier for this check.
func (c *PackageDBCheck) Name() string { return "package-db" }

// Category returns the grouping for this check.
func (c *PackageDBCheck) Category() string { return "index" }

// Run stats the package database.
func (c *PackageDBCheck) Run(_ context.Context) *CheckResult {
	dir := c.target.packageDB()
	entries, err := os.ReadDir(dir)
	if err != nil {
		res := result(c, SeverityWarning, dir+" is not readable; only full copies are possible")
		res.FixHint = "set PKGDB in the destination config, or back up with --incsystem"
		return res
	}
	categories := 0
	for _, e := range entries {
		if e.IsDir() {
			categories++
		}
	}
	res := result(c, SeverityPass, fmt.Sprintf("%d categories in %s", categories, dir))
	res.Details = map[string]any{"path": dir, "categories": categories}
	return res
}

// IndexCheck loads the persisted package index and compares its age with
// the package database.
type IndexCheck struct {
	target Target
}

var _ Check = (*IndexCheck)(nil)

// NewIndexCheck creates a new index check.
func NewIndexCheck(t Target) *IndexCheck {
	return &IndexCheck{target: t}
}

// Name returns the unique identifier for this check.
func (c *IndexCheck) Name() string { return "index" }

// Category returns the grouping for this check.
func (c *IndexCheck) Category() string { return "index" }

// Run loads the index.
func (c *IndexCheck) Run(_ context.Context) *CheckResult {
	layout := c.target.Layout
	rebuild := "backsnap index rebuild " + layout.Dest.String()

	ix, err := pkgindex.Load(layout.IndexFile(), layout.PackagesFile())
	switch {
	case errors.Is(err, errors.ErrIndexMissing):
		res := result(c, SeverityWarning, "no package index; scanning runs need --reindex")
		res.FixHint = rebuild
		return res
	case err != nil:
		res := result(c, SeverityError, err.Error())
		res.FixHint = rebuild
		return res
	}

	stats := ix.Stats()
	res := result(c, SeverityPass, fmt.Sprintf("%d packages, %d paths", stats.Packages, stats.Paths))
	res.Details = map[string]any{"packages": stats.Packages, "paths": stats.Paths, "records": stats.Records}

	built, err := os.Stat(layout.IndexFile())
	if err != nil {
		return res
	}
	changed, ok := newestModTime(c.target.packageDB())
	if ok && changed.After(built.ModTime()) {
		res.Status = SeverityWarning
		res.Message = fmt.Sprintf("index built %s is older than the package database (changed %s)",
			humanize.Time(built.ModTime()), humanize.Time(changed))
		res.FixHint = rebuild
	}
	return res
}

// newestModTime returns the latest modification time of dir and its
// immediate subdirectories. Installing or removing a package touches its
// category directory.
func newestModTime(dir string) (time.Time, bool) {
	info, err := os.Stat(dir)
	if err != nil {
		return time.Time{}, false
	}
	newest := info.ModTime()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return newest, true
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
	}
	return newest, true
}
