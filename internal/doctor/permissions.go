package doctor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/thoreinstein/backsnap/internal/errors"
)

// secureFilePerm is the target permission for state files (rw-r--r--).
const secureFilePerm os.FileMode = 0644

// secureDirPerm is the target permission for the state directory (rwxr-xr-x).
const secureDirPerm os.FileMode = 0755

// PermissionCheck flags a world-writable state directory or state file.
type PermissionCheck struct {
	PermissionFixer

	target Target
}

var (
	_ Check = (*PermissionCheck)(nil)
	_ Fixer = (*PermissionCheck)(nil)
)

// NewPermissionCheck creates a new permission check.
func NewPermissionCheck(t Target) *PermissionCheck {
	return &PermissionCheck{target: t}
}

// Name returns the unique identifier for this check.
func (c *PermissionCheck) Name() string { return "permissions" }

// Category returns the grouping for this check.
func (c *PermissionCheck) Category() string { return "state" }

// pathIssue represents a single permission problem.
type pathIssue struct {
	Path        string
	Type        string // "file" or "directory"
	Permissions string
}

// Run inspects the state directory and the files in it.
func (c *PermissionCheck) Run(_ context.Context) *CheckResult {
	layout := c.target.Layout
	candidates := []struct {
		path string
		typ  string
	}{
		{layout.StateDir, "directory"},
		{layout.ConfigFile(), "file"},
		{layout.ExcludesFile(), "file"},
		{layout.CounterFile(), "file"},
		{layout.IndexFile(), "file"},
		{layout.PackagesFile(), "file"},
	}

	var issues []pathIssue
	checked := 0
	for _, cand := range candidates {
		info, err := os.Stat(cand.path)
		if err != nil {
			continue
		}
		checked++
		if info.Mode().Perm()&0o002 != 0 {
			issues = append(issues, pathIssue{
				Path:        cand.path,
				Type:        cand.typ,
				Permissions: formatPermissions(info.Mode()),
			})
		}
	}
	c.setIssues(issues)

	if len(issues) == 0 {
		return result(c, SeverityPass, fmt.Sprintf("%d paths checked", checked))
	}

	names := make([]string, len(issues))
	for i, is := range issues {
		names[i] = fmt.Sprintf("%s (%s)", is.Path, is.Permissions)
	}
	res := result(c, SeverityWarning, "world-writable: "+strings.Join(names, ", "))
	res.Fixable = true
	res.FixHint = "backsnap doctor --fix"
	return res
}

// PermissionFixer removes world write access from the paths a
// PermissionCheck flagged.
type PermissionFixer struct {
	issues []pathIssue
}

// CanFix returns true if there are any permission issues.
func (f *PermissionFixer) CanFix() bool {
	return len(f.issues) > 0
}

// Fix applies secureFilePerm or secureDirPerm to every flagged path.
func (f *PermissionFixer) Fix() []FixResult {
	results := make([]FixResult, 0, len(f.issues))
	for _, issue := range f.issues {
		results = append(results, f.fixIssue(issue))
	}
	return results
}

func (f *PermissionFixer) fixIssue(issue pathIssue) FixResult {
	res := FixResult{
		Path: issue.Path,
	}

	targetPerm := secureFilePerm
	if issue.Type == "directory" {
		targetPerm = secureDirPerm
	}

	if err := os.Chmod(issue.Path, targetPerm); err != nil {
		res.Description = fmt.Sprintf("failed to chmod %04o: %v", targetPerm, err)
		res.Error = errors.Wrapf(err, "chmod %04o %s", targetPerm, issue.Path)
		return res
	}

	res.Fixed = true
	res.Description = fmt.Sprintf("chmod %04o", targetPerm)
	return res
}

func (f *PermissionFixer) setIssues(issues []pathIssue) {
	f.issues = issues
}

// formatPermissions returns the octal permission bits of mode.
func formatPermissions(mode os.FileMode) string {
	return fmt.Sprintf("%04o", mode.Perm())
}
