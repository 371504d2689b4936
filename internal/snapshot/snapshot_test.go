package snapshot

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/thoreinstein/backsnap/internal/errors"
	"github.com/thoreinstein/backsnap/internal/lock"
	"github.com/thoreinstein/backsnap/internal/logging"
	"github.com/thoreinstein/backsnap/internal/paths"
)

const helloMD5 = "5d41402abc4b2a76b9719d911017c592"

// fakeSync records command lines instead of running rsync.
type fakeSync struct {
	calls [][]string
	err   error
	onRun func(argv []string)
}

func (f *fakeSync) Run(_ context.Context, argv []string) error {
	f.calls = append(f.calls, argv)
	if f.onRun != nil {
		f.onRun(argv)
	}
	return f.err
}

func (f *fakeSync) last() []string {
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func flagValue(argv []string, prefix string) (string, bool) {
	for _, a := range argv {
		if v, ok := strings.CutPrefix(a, prefix); ok {
			return v, true
		}
	}
	return "", false
}

func noTools(string) (string, error) { return "", exec.ErrNotFound }

func newTestRunner(t *testing.T, sync *fakeSync) *Runner {
	t.Helper()
	return NewRunner(io.Discard, io.Discard,
		WithSyncRunner(sync),
		WithLookPath(noTools),
		WithUserConfig(""),
		WithTempDir(t.TempDir()),
		WithVersion("test"),
		WithClock(func() time.Time { return time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC) }),
	)
}

func testContext(t *testing.T) context.Context {
	return logging.NewContext(context.Background(), logging.ForTest(t))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func initDest(t *testing.T, r *Runner) string {
	t.Helper()
	dest := t.TempDir()
	_, _, err := r.Init(testContext(t), dest, "", false)
	require.NoError(t, err)
	return dest
}

func readCounter(t *testing.T, dest string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dest, paths.StateDirName, paths.CounterFileName))
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func TestRun_RequiresInit(t *testing.T) {
	sync := &fakeSync{}
	r := newTestRunner(t, sync)
	dest := t.TempDir()

	_, err := r.Run(testContext(t), Request{Dest: dest, Sources: []string{t.TempDir()}, IncSystem: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
	assert.Contains(t, err.Error(), "backsnap init")
	assert.Empty(t, sync.calls)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_ArgumentErrors(t *testing.T) {
	r := newTestRunner(t, &fakeSync{})
	dest := initDest(t, r)

	tests := map[string]Request{
		"no sources":      {Dest: dest},
		"no destination":  {Sources: []string{t.TempDir()}},
		"missing source":  {Dest: dest, Sources: []string{filepath.Join(t.TempDir(), "absent")}},
		"mixed sources":   {Dest: dest, Sources: []string{t.TempDir(), "earth:/var"}},
		"two hosts":       {Dest: dest, Sources: []string{"earth:/", "mars:/"}},
		"bad root dir":    {Dest: dest, Sources: []string{t.TempDir()}, RootDir: filepath.Join(t.TempDir(), "absent")},
		"remote both":     {Dest: "pluto:/backups", StateDir: t.TempDir(), Sources: []string{"earth:/"}},
		"remote no state": {Dest: "pluto:/backups", Sources: []string{t.TempDir()}},
	}

	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := r.Run(testContext(t), req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConfiguration), "got %v", err)
		})
	}
}

func TestRun_FullCopyRotation(t *testing.T) {
	sync := &fakeSync{}
	r := newTestRunner(t, sync)
	dest := initDest(t, r)
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "etc", "hosts"), "127.0.0.1 localhost")

	req := Request{Dest: dest, Sources: []string{src}, IncSystem: true}

	sum, err := r.Run(testContext(t), req)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Level)
	assert.Nil(t, sum.Reference)
	assert.Equal(t, ModeFull, sum.Mode)
	assert.Equal(t, "1\n", readCounter(t, dest))
	assert.DirExists(t, filepath.Join(dest, "LEVEL0"))

	argv := sync.last()
	assert.Contains(t, argv, "--relative")
	assert.Contains(t, argv, "--delete")
	assert.Contains(t, argv, src)
	assert.Equal(t, filepath.Join(dest, "LEVEL0")+"/", argv[len(argv)-1])
	_, hasLink := flagValue(argv, "--link-dest=")
	assert.False(t, hasLink)
	_, hasExcl := flagValue(argv, "--exclude-from=")
	assert.True(t, hasExcl)
	assert.NotContains(t, argv, "nice")

	sum, err = r.Run(testContext(t), req)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Level)
	require.NotNil(t, sum.Reference)
	assert.Equal(t, 0, *sum.Reference)
	link, ok := flagValue(sync.last(), "--link-dest=")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dest, "LEVEL0"), link)
	assert.Equal(t, "2\n", readCounter(t, dest))

	sum, err = r.Run(testContext(t), req)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Level)
	require.NotNil(t, sum.Reference)
	assert.Equal(t, 1, *sum.Reference)

	data, err := os.ReadFile(filepath.Join(dest, paths.StateDirName, paths.ReportFileName))
	require.NoError(t, err)
	var report Summary
	require.NoError(t, yaml.Unmarshal(data, &report))
	assert.Equal(t, uint64(2), report.Counter)
	assert.Equal(t, "test", report.BacksnapVersion)
	assert.Equal(t, ReportVersion, report.Version)
}

func TestRun_ClearsLevelDirectory(t *testing.T) {
	r := newTestRunner(t, &fakeSync{})
	dest := initDest(t, r)
	stale := filepath.Join(dest, "LEVEL0", "stale")
	writeFile(t, stale, "old")

	_, err := r.Run(testContext(t), Request{Dest: dest, Sources: []string{t.TempDir()}, IncSystem: true})
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
}

func TestRun_SyncFailureKeepsCounter(t *testing.T) {
	sync := &fakeSync{err: errors.Mark(errors.New("rsync exited with status 23"), errors.ErrSyncFailed)}
	r := newTestRunner(t, sync)
	dest := initDest(t, r)

	_, err := r.Run(testContext(t), Request{Dest: dest, Sources: []string{t.TempDir()}, IncSystem: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSyncFailed))
	assert.Empty(t, readCounter(t, dest))
	assert.NoFileExists(t, filepath.Join(dest, paths.StateDirName, paths.ReportFileName))
}

func TestRun_DryRunChangesNothing(t *testing.T) {
	sync := &fakeSync{}
	r := newTestRunner(t, sync)
	dest := initDest(t, r)

	sum, err := r.Run(testContext(t), Request{Dest: dest, Sources: []string{t.TempDir()}, IncSystem: true, DryRun: true})
	require.NoError(t, err)
	assert.True(t, sum.DryRun)
	assert.Contains(t, sync.last(), "--dry-run")
	assert.Empty(t, readCounter(t, dest))
	assert.NoDirExists(t, filepath.Join(dest, "LEVEL0"))
	assert.NoFileExists(t, filepath.Join(dest, paths.StateDirName, paths.ReportFileName))
}

func TestRun_Locked(t *testing.T) {
	sync := &fakeSync{}
	r := newTestRunner(t, sync)
	dest := initDest(t, r)

	held, err := lock.Acquire(filepath.Join(dest, paths.StateDirName, paths.LockFileName))
	require.NoError(t, err)
	defer held.Release()

	_, err = r.Run(testContext(t), Request{Dest: dest, Sources: []string{t.TempDir()}, IncSystem: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLocked))
	assert.Empty(t, sync.calls)
	assert.Empty(t, readCounter(t, dest))
}

func TestRun_ReleasesLock(t *testing.T) {
	r := newTestRunner(t, &fakeSync{})
	dest := initDest(t, r)

	_, err := r.Run(testContext(t), Request{Dest: dest, Sources: []string{t.TempDir()}, IncSystem: true})
	require.NoError(t, err)

	l, err := lock.Acquire(filepath.Join(dest, paths.StateDirName, paths.LockFileName))
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestRun_CorruptCounter(t *testing.T) {
	sync := &fakeSync{}
	r := newTestRunner(t, sync)
	dest := initDest(t, r)
	writeFile(t, filepath.Join(dest, paths.StateDirName, paths.CounterFileName), "three\n")

	_, err := r.Run(testContext(t), Request{Dest: dest, Sources: []string{t.TempDir()}, IncSystem: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSchedulingInconsistency))
	assert.Empty(t, sync.calls)
	assert.NoDirExists(t, filepath.Join(dest, "LEVEL0"))
}

func TestRun_SlowNetAndConfig(t *testing.T) {
	sync := &fakeSync{}
	r := newTestRunner(t, sync)
	dest := initDest(t, r)
	writeFile(t, filepath.Join(dest, paths.StateDirName, paths.ConfigFileName),
		"SLOWNET=true\nMAXBACKUPS=2\nRSYNC_ARGS=\"--bwlimit=500 --info=progress2\"\n")

	_, err := r.Run(testContext(t), Request{Dest: dest, Sources: []string{t.TempDir()}, IncSystem: true})
	require.NoError(t, err)
	argv := sync.last()
	assert.Contains(t, argv, "--compress")
	assert.Contains(t, argv, "--bwlimit=500")
	assert.Contains(t, argv, "--info=progress2")
}

func TestRun_InvalidConfig(t *testing.T) {
	sync := &fakeSync{}
	r := newTestRunner(t, sync)
	dest := initDest(t, r)
	writeFile(t, filepath.Join(dest, paths.StateDirName, paths.ConfigFileName), "MAXBACKUPS=0\n")

	_, err := r.Run(testContext(t), Request{Dest: dest, Sources: []string{t.TempDir()}, IncSystem: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
	assert.Empty(t, sync.calls)
}

// systemTree lays out a small installed system with one package.
func systemTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "var", "db", "pkg", "app-misc", "foo-1", "CONTENTS"),
		"dir /usr/bin\nobj /usr/bin/foo "+helloMD5+" 1700000000\nobj /etc/foo.conf "+helloMD5+" 1700000000\n")
	writeFile(t, filepath.Join(root, "usr", "bin", "foo"), "hello")
	writeFile(t, filepath.Join(root, "etc", "foo.conf"), "edited by the admin")
	writeFile(t, filepath.Join(root, "home", "user", "notes"), "mine")
	return root
}

func TestRun_ScanMode(t *testing.T) {
	root := systemTree(t)
	dest := filepath.Join(root, "backups")

	var fileList string
	sync := &fakeSync{onRun: func(argv []string) {
		if p, ok := flagValue(argv, "--files-from="); ok {
			data, err := os.ReadFile(p)
			require.NoError(t, err)
			fileList = string(data)
		}
	}}
	r := newTestRunner(t, sync)
	_, _, err := r.Init(testContext(t), dest, "", false)
	require.NoError(t, err)

	req := Request{Dest: dest, Sources: []string{root}, RootDir: root}

	_, err = r.Run(testContext(t), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrIndexMissing))
	assert.Empty(t, sync.calls)

	req.Reindex = true
	sum, err := r.Run(testContext(t), req)
	require.NoError(t, err)

	assert.Equal(t, ModeScan, sum.Mode)
	assert.Equal(t, "etc/foo.conf\x00home/user/notes\x00", fileList)
	assert.Equal(t, 2, sum.Files)
	assert.Equal(t, int64(len("edited by the admin")+len("mine")), sum.Bytes)
	require.NotNil(t, sum.Index)
	assert.Equal(t, 1, sum.Index.Manifests)
	assert.FileExists(t, filepath.Join(dest, paths.StateDirName, paths.IndexFileName))

	argv := sync.last()
	assert.Contains(t, argv, "--from0")
	assert.Contains(t, argv, root+"/")
	assert.NotContains(t, argv, "--delete")

	// The saved index now serves the next run.
	req.Reindex = false
	sum, err = r.Run(testContext(t), req)
	require.NoError(t, err)
	assert.Nil(t, sum.Index)
	assert.Equal(t, 2, sum.Files)
}

func TestRun_MTimeOnly(t *testing.T) {
	root := systemTree(t)
	stamp := time.Unix(1700000000, 0)
	require.NoError(t, os.Chtimes(filepath.Join(root, "etc", "foo.conf"), stamp, stamp))

	r := newTestRunner(t, &fakeSync{})
	dest := initDest(t, r)

	sum, err := r.Run(testContext(t), Request{Dest: dest, Sources: []string{root}, RootDir: root, Reindex: true, MTimeOnly: true})
	require.NoError(t, err)
	// foo.conf carries the recorded mtime, so only usr/bin/foo (new
	// mtime) and the user file remain.
	assert.Equal(t, 2, sum.Files)
}

func TestRun_RemoteDestination(t *testing.T) {
	sync := &fakeSync{}
	r := newTestRunner(t, sync)
	stateDir := t.TempDir()
	_, _, err := r.Init(testContext(t), "pluto:/backups/earth", stateDir, false)
	require.NoError(t, err)

	src := t.TempDir()
	sum, err := r.Run(testContext(t), Request{Dest: "pluto:/backups/earth", StateDir: stateDir, Sources: []string{src}, IncSystem: true})
	require.NoError(t, err)
	assert.Equal(t, "pluto:/backups/earth/LEVEL0", sum.LevelDir)

	require.Len(t, sync.calls, 2)
	clearArgv := sync.calls[0]
	assert.Contains(t, clearArgv, "--delete")
	assert.Contains(t, clearArgv, "--rsh=ssh")
	assert.Equal(t, "pluto:/backups/earth/LEVEL0/", clearArgv[len(clearArgv)-1])

	copyArgv := sync.calls[1]
	assert.Contains(t, copyArgv, "--rsh=ssh")
	assert.Equal(t, "pluto:/backups/earth/LEVEL0/", copyArgv[len(copyArgv)-1])

	sum, err = r.Run(testContext(t), Request{Dest: "pluto:/backups/earth", StateDir: stateDir, Sources: []string{src}, IncSystem: true})
	require.NoError(t, err)
	link, ok := flagValue(sync.last(), "--link-dest=")
	require.True(t, ok)
	assert.Equal(t, "/backups/earth/LEVEL0", link)
	assert.Equal(t, 1, sum.Level)
}

func TestRun_RemoteSourcesCopyEverything(t *testing.T) {
	sync := &fakeSync{}
	r := newTestRunner(t, sync)
	dest := initDest(t, r)

	sum, err := r.Run(testContext(t), Request{Dest: dest, Sources: []string{"earth:/", "earth:/var"}})
	require.NoError(t, err)
	assert.Equal(t, ModeFull, sum.Mode)

	argv := sync.last()
	assert.Contains(t, argv, "earth:/")
	assert.Contains(t, argv, "earth:/var")
	assert.Contains(t, argv, "--rsh=ssh")
}

func TestInit(t *testing.T) {
	r := newTestRunner(t, &fakeSync{})
	dest := filepath.Join(t.TempDir(), "new")

	layout, written, err := r.Init(testContext(t), dest, "", false)
	require.NoError(t, err)
	assert.Len(t, written, 2)
	assert.FileExists(t, layout.ConfigFile())
	assert.FileExists(t, layout.ExcludesFile())

	excl, err := os.ReadFile(layout.ExcludesFile())
	require.NoError(t, err)
	assert.Contains(t, string(excl), "/proc/*")

	writeFile(t, layout.ConfigFile(), "MAXBACKUPS=4\n")
	_, written, err = r.Init(testContext(t), dest, "", false)
	require.NoError(t, err)
	assert.Empty(t, written)
	cfg, err := os.ReadFile(layout.ConfigFile())
	require.NoError(t, err)
	assert.Equal(t, "MAXBACKUPS=4\n", string(cfg))

	_, written, err = r.Init(testContext(t), dest, "", true)
	require.NoError(t, err)
	assert.Len(t, written, 2)
}

func TestPlan(t *testing.T) {
	r := newTestRunner(t, &fakeSync{})
	dest := initDest(t, r)

	info, err := r.Plan(testContext(t), dest, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), info.Counter)
	assert.Equal(t, 0, info.Plan.Level)
	assert.Empty(t, info.Reference)
	assert.Len(t, info.Upcoming, upcomingRuns)

	require.NoError(t, os.Mkdir(filepath.Join(dest, "LEVEL0"), 0o755))
	writeFile(t, filepath.Join(dest, paths.StateDirName, paths.CounterFileName), "1\n")

	info, err = r.Plan(testContext(t), dest, "")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Plan.Level)
	assert.Equal(t, filepath.Join(dest, "LEVEL0"), info.Reference)
}

func TestLevels(t *testing.T) {
	r := newTestRunner(t, &fakeSync{})
	dest := initDest(t, r)
	writeFile(t, filepath.Join(dest, paths.StateDirName, paths.CounterFileName), "4\n")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, level := range []int{2, 0, 1} {
		dir := filepath.Join(dest, paths.LevelDirName(level))
		require.NoError(t, os.Mkdir(dir, 0o755))
		stamp := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(dir, stamp, stamp))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dest, "LEVELX"), 0o755))

	levels, err := r.Levels(testContext(t), dest, "")
	require.NoError(t, err)
	require.Len(t, levels, 3)

	order := make([]int, 0, len(levels))
	for _, l := range levels {
		order = append(order, l.Level)
	}
	assert.Equal(t, []int{2, 0, 1}, order)

	idx := slices.IndexFunc(levels, func(l LevelInfo) bool { return l.Level == 2 })
	assert.True(t, levels[idx].HasLastCounter)
	assert.Equal(t, uint64(3), levels[idx].LastCounter)
}

func TestLevels_RemoteDestination(t *testing.T) {
	r := newTestRunner(t, &fakeSync{})
	stateDir := t.TempDir()
	_, _, err := r.Init(testContext(t), "pluto:/b", stateDir, false)
	require.NoError(t, err)

	_, err = r.Levels(testContext(t), "pluto:/b", stateDir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestScan(t *testing.T) {
	root := systemTree(t)
	r := newTestRunner(t, &fakeSync{})
	dest := initDest(t, r)

	res, stats, err := r.Scan(testContext(t), Request{Dest: dest, Sources: []string{root}, RootDir: root, Reindex: true, DryRun: true})
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, []string{
		filepath.Join(root, "etc", "foo.conf"),
		filepath.Join(root, "home", "user", "notes"),
	}, res.Paths)
	assert.NoFileExists(t, filepath.Join(dest, paths.StateDirName, paths.IndexFileName))

	_, _, err = r.Scan(testContext(t), Request{Dest: dest, Sources: []string{"earth:/"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestRebuildAndLoadIndex(t *testing.T) {
	root := systemTree(t)
	r := newTestRunner(t, &fakeSync{})
	dest := initDest(t, r)

	_, _, err := r.LoadIndex(testContext(t), dest, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrIndexMissing))

	info, err := r.RebuildIndex(testContext(t), dest, "", root)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Stats.Packages)
	assert.Equal(t, 3, info.Stats.Paths)
	require.NotNil(t, info.Build)

	ix, loaded, err := r.LoadIndex(testContext(t), dest, "")
	require.NoError(t, err)
	assert.Equal(t, info.Stats, loaded.Stats)
	assert.Equal(t, []string{"app-misc/foo-1"}, ix.Packages())
}

func TestRebuildIndex_MissingPackageDB(t *testing.T) {
	r := newTestRunner(t, &fakeSync{})
	dest := initDest(t, r)

	_, err := r.RebuildIndex(testContext(t), dest, "", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestRelativeSource(t *testing.T) {
	assert.Equal(t, "/var", relativeSource(paths.Location{Path: "/var"}, "/"))
	assert.Equal(t, "/mnt/sys/./etc", relativeSource(paths.Location{Path: "/mnt/sys/etc"}, "/mnt/sys"))
	assert.Equal(t, "/mnt/sys/./", relativeSource(paths.Location{Path: "/mnt/sys"}, "/mnt/sys"))
	assert.Equal(t, "/srv", relativeSource(paths.Location{Path: "/srv"}, "/mnt/sys"))
	assert.Equal(t, "earth:/var", relativeSource(paths.Location{Host: "earth", Path: "/var"}, "/mnt/sys"))
}

func TestDestExcludes(t *testing.T) {
	assert.Equal(t, []string{"/backups", "/backups/*"}, destExcludes(paths.Location{Path: "/backups"}, "/"))
	assert.Equal(t, []string{`/b\[1\]`, `/b\[1\]/*`}, destExcludes(paths.Location{Path: "/mnt/b[1]"}, "/mnt"))
	assert.Nil(t, destExcludes(paths.Location{Path: "/elsewhere"}, "/mnt"))
	assert.Nil(t, destExcludes(paths.Location{Host: "pluto", Path: "/backups"}, "/"))
}
