package doctor

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/thoreinstein/backsnap/internal/config"
	"github.com/thoreinstein/backsnap/internal/exclude"
)

// lowSpace is the free space below which the destination check warns.
const lowSpace = 1 << 30

// ToolCheck verifies that an external program is on PATH.
type ToolCheck struct {
	target   Target
	tool     string
	required bool
}

var _ Check = (*ToolCheck)(nil)

// NewToolCheck creates a check for tool. A missing required tool is an
// error; a missing optional one is informational.
func NewToolCheck(t Target, tool string, required bool) *ToolCheck {
	return &ToolCheck{target: t, tool: tool, required: required}
}

// Name returns the unique identifier for this check.
func (c *ToolCheck) Name() string { return "tool-" + c.tool }

// Category returns the grouping for this check.
func (c *ToolCheck) Category() string { return "tools" }

// Run looks the tool up.
func (c *ToolCheck) Run(_ context.Context) *CheckResult {
	path, err := c.target.LookPath(c.tool)
	if err == nil {
		res := result(c, SeverityPass, c.tool+" found")
		res.Details = map[string]any{"path": path}
		return res
	}

	if c.required {
		res := result(c, SeverityError, c.tool+" not found on PATH")
		res.FixHint = "install " + c.tool
		return res
	}
	if !c.target.config().Nice {
		return result(c, SeverityPass, c.tool+" not needed (NICE=false)")
	}
	return result(c, SeverityInfo, c.tool+" not found; rsync runs without it")
}

// DestinationCheck verifies a local destination directory and reports its
// free space.
type DestinationCheck struct {
	target Target
}

var _ Check = (*DestinationCheck)(nil)

// NewDestinationCheck creates a new destination check.
func NewDestinationCheck(t Target) *DestinationCheck {
	return &DestinationCheck{target: t}
}

// Name returns the unique identifier for this check.
func (c *DestinationCheck) Name() string { return "destination" }

// Category returns the grouping for this check.
func (c *DestinationCheck) Category() string { return "destination" }

// Run stats the destination.
func (c *DestinationCheck) Run(_ context.Context) *CheckResult {
	dest := c.target.Layout.Dest
	if dest.IsRemote() {
		return result(c, SeverityInfo, fmt.Sprintf("remote destination %s not checked", dest))
	}

	info, err := os.Stat(dest.Path)
	switch {
	case os.IsNotExist(err):
		res := result(c, SeverityError, dest.Path+" does not exist")
		res.FixHint = "mkdir -p " + dest.Path
		return res
	case err != nil:
		return result(c, SeverityError, fmt.Sprintf("cannot stat %s: %v", dest.Path, err))
	case !info.IsDir():
		return result(c, SeverityError, dest.Path+" is not a directory")
	}

	var fs unix.Statfs_t
	if err := unix.Statfs(dest.Path, &fs); err != nil {
		return result(c, SeverityPass, dest.Path+" exists")
	}
	free := fs.Bavail * uint64(fs.Bsize)
	res := result(c, SeverityPass, fmt.Sprintf("%s free", humanize.IBytes(free)))
	res.Details = map[string]any{"path": dest.Path, "free_bytes": free}
	if free < lowSpace {
		res.Status = SeverityWarning
		res.Message = fmt.Sprintf("only %s free on %s", humanize.IBytes(free), dest.Path)
	}
	return res
}

// StateDirCheck verifies the state directory exists and is writable.
type StateDirCheck struct {
	target Target
}

var _ Check = (*StateDirCheck)(nil)

// NewStateDirCheck creates a new state directory check.
func NewStateDirCheck(t Target) *StateDirCheck {
	return &StateDirCheck{target: t}
}

// Name returns the unique identifier for this check.
func (c *StateDirCheck) Name() string { return "state-dir" }

// Category returns the grouping for this check.
func (c *StateDirCheck) Category() string { return "state" }

// Run stats the state directory.
func (c *StateDirCheck) Run(_ context.Context) *CheckResult {
	dir := c.target.Layout.StateDir

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		res := result(c, SeverityError, dir+" does not exist")
		res.FixHint = "backsnap init " + c.target.Layout.Dest.String()
		return res
	case err != nil:
		return result(c, SeverityError, fmt.Sprintf("cannot stat %s: %v", dir, err))
	case !info.IsDir():
		return result(c, SeverityError, dir+" is not a directory")
	}

	if err := unix.Access(dir, unix.W_OK); err != nil {
		res := result(c, SeverityError, dir+" is not writable")
		res.FixHint = "run backsnap as the owner of " + dir
		return res
	}
	return result(c, SeverityPass, dir+" is writable")
}

// ConfigCheck loads and validates the destination config.
type ConfigCheck struct {
	target Target
}

var _ Check = (*ConfigCheck)(nil)

// NewConfigCheck creates a new config check.
func NewConfigCheck(t Target) *ConfigCheck {
	return &ConfigCheck{target: t}
}

// Name returns the unique identifier for this check.
func (c *ConfigCheck) Name() string { return "config" }

// Category returns the grouping for this check.
func (c *ConfigCheck) Category() string { return "state" }

// Run loads the config.
func (c *ConfigCheck) Run(_ context.Context) *CheckResult {
	file := c.target.Layout.ConfigFile()
	cfg, err := config.Load(c.target.UserConfig, file)
	if err != nil {
		res := result(c, SeverityError, err.Error())
		res.FixHint = "edit " + file
		return res
	}

	res := result(c, SeverityPass, "config is valid")
	res.Details = map[string]any{
		"maxbackups": cfg.MaxBackups,
		"workers":    cfg.WorkerCount(),
		"slownet":    cfg.SlowNet,
		"nice":       cfg.Nice,
		"pkgdb":      cfg.PackageDB,
	}
	if _, err := os.Stat(file); os.IsNotExist(err) {
		res.Status = SeverityInfo
		res.Message = "no config file; using defaults"
	}
	return res
}

// ExcludesCheck compiles the exclude list.
type ExcludesCheck struct {
	target Target
}

var _ Check = (*ExcludesCheck)(nil)

// NewExcludesCheck creates a new exclude list check.
func NewExcludesCheck(t Target) *ExcludesCheck {
	return &ExcludesCheck{target: t}
}

// Name returns the unique identifier for this check.
func (c *ExcludesCheck) Name() string { return "excludes" }

// Category returns the grouping for this check.
func (c *ExcludesCheck) Category() string { return "state" }

// Run loads the exclude list.
func (c *ExcludesCheck) Run(_ context.Context) *CheckResult {
	file := c.target.Layout.ExcludesFile()
	m, err := exclude.Load(file)
	if err != nil {
		res := result(c, SeverityError, err.Error())
		res.FixHint = "fix the pattern in " + file
		return res
	}
	if m.Len() == 0 {
		res := result(c, SeverityWarning, "exclude list is empty; /proc, /sys and /dev would be copied")
		res.FixHint = "backsnap init --force " + c.target.Layout.Dest.String()
		return res
	}
	res := result(c, SeverityPass, fmt.Sprintf("%d patterns", m.Len()))
	res.Details = map[string]any{"patterns": m.Len()}
	return res
}
