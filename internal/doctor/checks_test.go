package doctor

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoreinstein/backsnap/internal/config"
	"github.com/thoreinstein/backsnap/internal/lock"
	"github.com/thoreinstein/backsnap/internal/paths"
	"github.com/thoreinstein/backsnap/internal/pkgindex"
)

func allTools(name string) (string, error) { return "/usr/bin/" + name, nil }

func noTools(string) (string, error) { return "", exec.ErrNotFound }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newTarget returns a target for an initialized local destination with a
// one-package database under its root dir.
func newTarget(t *testing.T) Target {
	t.Helper()
	dest := t.TempDir()
	layout, err := paths.NewLayout(paths.Location{Path: dest}, "")
	require.NoError(t, err)

	writeFile(t, layout.ConfigFile(), string(config.Render(config.Default())))
	writeFile(t, layout.ExcludesFile(), strings.Join(append([]string{"# excludes"}, "/tmp/*", "/proc/*"), "\n"))

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "var", "db", "pkg", "app-misc", "foo-1", "CONTENTS"), "dir /usr\n")

	return Target{Layout: layout, UserConfig: "", RootDir: root, LookPath: allTools}
}

func saveIndex(t *testing.T, target Target) {
	t.Helper()
	ix := pkgindex.New()
	ix.AddPackage("app-misc/foo-1")
	ix.Add("/usr", pkgindex.Record{Package: "app-misc/foo-1", Kind: pkgindex.KindOther})
	require.NoError(t, pkgindex.Save(ix, target.Layout.IndexFile(), target.Layout.PackagesFile()))
}

func TestChecks_HealthyDestination(t *testing.T) {
	target := newTarget(t)
	saveIndex(t, target)

	report := NewRunner(Checks(target)...).Run(t.Context())

	for _, res := range report.Results {
		if res.Name == "destination" && res.Status == SeverityWarning {
			continue // small tmpfs
		}
		assert.Equal(t, SeverityPass, res.Status, "%s: %s", res.Name, res.Message)
	}
	assert.False(t, report.HasErrors())
}

func TestToolCheck(t *testing.T) {
	target := newTarget(t)
	target.LookPath = noTools

	res := NewToolCheck(target, "rsync", true).Run(t.Context())
	assert.Equal(t, SeverityError, res.Status)
	assert.Equal(t, "install rsync", res.FixHint)

	res = NewToolCheck(target, "ionice", false).Run(t.Context())
	assert.Equal(t, SeverityInfo, res.Status)

	writeFile(t, target.Layout.ConfigFile(), "NICE=false\n")
	res = NewToolCheck(target, "ionice", false).Run(t.Context())
	assert.Equal(t, SeverityPass, res.Status)

	target.LookPath = allTools
	res = NewToolCheck(target, "rsync", true).Run(t.Context())
	assert.Equal(t, SeverityPass, res.Status)
	assert.Equal(t, "/usr/bin/rsync", res.Details["path"])
}

func TestDestinationCheck(t *testing.T) {
	target := newTarget(t)
	res := NewDestinationCheck(target).Run(t.Context())
	assert.NotEqual(t, SeverityError, res.Status)
	assert.Contains(t, res.Details, "free_bytes")

	target.Layout.Dest = paths.Location{Path: filepath.Join(t.TempDir(), "absent")}
	res = NewDestinationCheck(target).Run(t.Context())
	assert.Equal(t, SeverityError, res.Status)

	target.Layout.Dest = paths.Location{Host: "pluto", Path: "/backups"}
	res = NewDestinationCheck(target).Run(t.Context())
	assert.Equal(t, SeverityInfo, res.Status)
}

func TestStateDirCheck(t *testing.T) {
	target := newTarget(t)
	assert.Equal(t, SeverityPass, NewStateDirCheck(target).Run(t.Context()).Status)

	target.Layout.StateDir = filepath.Join(t.TempDir(), "absent")
	res := NewStateDirCheck(target).Run(t.Context())
	assert.Equal(t, SeverityError, res.Status)
	assert.Contains(t, res.FixHint, "backsnap init")
}

func TestConfigCheck(t *testing.T) {
	target := newTarget(t)
	res := NewConfigCheck(target).Run(t.Context())
	assert.Equal(t, SeverityPass, res.Status)
	assert.Equal(t, config.DefaultMaxBackups, res.Details["maxbackups"])

	writeFile(t, target.Layout.ConfigFile(), "MAXBACKUPS=0\n")
	res = NewConfigCheck(target).Run(t.Context())
	assert.Equal(t, SeverityError, res.Status)
	assert.Contains(t, res.Message, "MAXBACKUPS")

	require.NoError(t, os.Remove(target.Layout.ConfigFile()))
	res = NewConfigCheck(target).Run(t.Context())
	assert.Equal(t, SeverityInfo, res.Status)
}

func TestExcludesCheck(t *testing.T) {
	target := newTarget(t)
	res := NewExcludesCheck(target).Run(t.Context())
	assert.Equal(t, SeverityPass, res.Status)
	assert.Equal(t, 2, res.Details["patterns"])

	writeFile(t, target.Layout.ExcludesFile(), "# nothing\n")
	assert.Equal(t, SeverityWarning, NewExcludesCheck(target).Run(t.Context()).Status)

	writeFile(t, target.Layout.ExcludesFile(), "/tmp/[unclosed\n")
	assert.Equal(t, SeverityError, NewExcludesCheck(target).Run(t.Context()).Status)
}

func TestCounterCheck(t *testing.T) {
	target := newTarget(t)
	res := NewCounterCheck(target).Run(t.Context())
	assert.Equal(t, SeverityPass, res.Status)
	assert.Equal(t, "counter 0, next run writes LEVEL0 as a full copy", res.Message)

	writeFile(t, target.Layout.CounterFile(), "1\n")
	require.NoError(t, os.Mkdir(target.Layout.LevelDir(0).Path, 0o755))
	res = NewCounterCheck(target).Run(t.Context())
	assert.Equal(t, "counter 1, next run writes LEVEL1 linked against LEVEL0", res.Message)

	writeFile(t, target.Layout.CounterFile(), "seven\n")
	assert.Equal(t, SeverityError, NewCounterCheck(target).Run(t.Context()).Status)
}

func TestLockCheck(t *testing.T) {
	target := newTarget(t)
	assert.Equal(t, SeverityPass, NewLockCheck(target).Run(t.Context()).Status)

	l, err := lock.Acquire(target.Layout.LockFile())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	assert.Equal(t, SeverityWarning, NewLockCheck(target).Run(t.Context()).Status)
}

func TestPackageDBCheck(t *testing.T) {
	target := newTarget(t)
	res := NewPackageDBCheck(target).Run(t.Context())
	assert.Equal(t, SeverityPass, res.Status)
	assert.Equal(t, 1, res.Details["categories"])

	target.RootDir = t.TempDir()
	assert.Equal(t, SeverityWarning, NewPackageDBCheck(target).Run(t.Context()).Status)
}

func TestIndexCheck(t *testing.T) {
	target := newTarget(t)

	res := NewIndexCheck(target).Run(t.Context())
	assert.Equal(t, SeverityWarning, res.Status)
	assert.Contains(t, res.FixHint, "index rebuild")

	saveIndex(t, target)
	old := time.Now().Add(-time.Hour)
	pkgdb := filepath.Join(target.RootDir, "var", "db", "pkg")
	require.NoError(t, os.Chtimes(pkgdb, old, old))
	require.NoError(t, os.Chtimes(filepath.Join(pkgdb, "app-misc"), old, old))

	res = NewIndexCheck(target).Run(t.Context())
	assert.Equal(t, SeverityPass, res.Status, res.Message)
	assert.Equal(t, 1, res.Details["packages"])

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(pkgdb, "app-misc"), later, later))
	res = NewIndexCheck(target).Run(t.Context())
	assert.Equal(t, SeverityWarning, res.Status)
	assert.Contains(t, res.Message, "older than the package database")

	writeFile(t, target.Layout.IndexFile(), "garbage")
	assert.Equal(t, SeverityError, NewIndexCheck(target).Run(t.Context()).Status)
}

func TestPermissionCheck_Fix(t *testing.T) {
	target := newTarget(t)
	check := NewPermissionCheck(target)

	assert.Equal(t, SeverityPass, check.Run(t.Context()).Status)
	assert.False(t, check.CanFix())

	require.NoError(t, os.Chmod(target.Layout.ConfigFile(), 0o666))
	res := check.Run(t.Context())
	assert.Equal(t, SeverityWarning, res.Status)
	assert.True(t, res.Fixable)
	assert.Contains(t, res.Message, target.Layout.ConfigFile()+" (0666)")
	require.True(t, check.CanFix())

	fixes := check.Fix()
	require.Len(t, fixes, 1)
	assert.True(t, fixes[0].Fixed)
	assert.Equal(t, "chmod 0644", fixes[0].Description)

	info, err := os.Stat(target.Layout.ConfigFile())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
	assert.Equal(t, SeverityPass, check.Run(t.Context()).Status)
}
