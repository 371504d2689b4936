package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/thoreinstein/backsnap/internal/cleanup"
	"github.com/thoreinstein/backsnap/internal/config"
	"github.com/thoreinstein/backsnap/internal/detect"
	"github.com/thoreinstein/backsnap/internal/doctor"
	"github.com/thoreinstein/backsnap/internal/errors"
	"github.com/thoreinstein/backsnap/internal/exclude"
	"github.com/thoreinstein/backsnap/internal/logging"
	"github.com/thoreinstein/backsnap/internal/paths"
	"github.com/thoreinstein/backsnap/internal/pkgindex"
	"github.com/thoreinstein/backsnap/internal/rotation"
	"github.com/thoreinstein/backsnap/pkg/fileutil"
)

// upcomingRuns is how far ahead Plan projects the schedule.
const upcomingRuns = 16

// Init creates the state directory for dest and writes the default config
// and exclude list. Existing files are kept unless force is set. It
// returns the files it wrote.
func (r *Runner) Init(ctx context.Context, dest, stateDir string, force bool) (paths.Layout, []string, error) {
	log := logging.FromContext(ctx)

	layout, err := resolveLayout(dest, stateDir)
	if err != nil {
		return paths.Layout{}, nil, err
	}

	if err := os.MkdirAll(layout.StateDir, 0o755); err != nil {
		return layout, nil, errors.Wrapf(err, "creating state directory %s", layout.StateDir)
	}

	files := []struct {
		path string
		data []byte
	}{
		{layout.ConfigFile(), config.Render(config.Default())},
		{layout.ExcludesFile(), renderExcludes(exclude.Defaults())},
	}

	var written []string
	for _, f := range files {
		if !force {
			if _, err := os.Stat(f.path); err == nil {
				log.Info("keeping existing file", "path", f.path)
				continue
			}
		}
		if err := fileutil.AtomicWriteFile(f.path, f.data, 0o644); err != nil {
			return layout, written, errors.Wrapf(err, "writing %s", f.path)
		}
		written = append(written, f.path)
	}

	return layout, written, nil
}

func renderExcludes(patterns []string) []byte {
	var b strings.Builder
	b.WriteString("# backsnap exclude list: one glob per line, matched against full paths.\n")
	b.WriteString("# '*' also matches '/', so /tmp/* excludes everything below /tmp.\n")
	for _, p := range patterns {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Plan reports what the next run against dest would do.
func (r *Runner) Plan(_ context.Context, dest, stateDir string) (*PlanInfo, error) {
	d, err := r.open(dest, stateDir, nil)
	if err != nil {
		return nil, err
	}
	count, plan, err := d.plan()
	if err != nil {
		return nil, err
	}
	upcoming, err := rotation.Schedule(count, upcomingRuns, plan.MaxLevels)
	if err != nil {
		return nil, err
	}

	info := &PlanInfo{
		Counter:  count,
		Plan:     plan,
		LevelDir: d.layout.LevelDir(plan.Level).String(),
		Upcoming: upcoming,
	}
	if plan.HasReference() {
		info.Reference = d.layout.LevelDir(plan.Reference).String()
	}
	return info, nil
}

// Levels lists the level directories of a local destination, oldest
// first by modification time.
func (r *Runner) Levels(_ context.Context, dest, stateDir string) ([]LevelInfo, error) {
	d, err := r.open(dest, stateDir, nil)
	if err != nil {
		return nil, err
	}
	if d.layout.Dest.IsRemote() {
		return nil, errors.Mark(
			errors.Newf("cannot list levels of remote destination %s", d.layout.Dest),
			errors.ErrConfiguration)
	}
	count, err := d.counter.Read()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(d.layout.Dest.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", d.layout.Dest.Path)
	}

	var levels []LevelInfo
	for _, e := range entries {
		level, ok := paths.ParseLevelDirName(e.Name())
		if !ok || !e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		li := LevelInfo{
			Level:   level,
			Path:    filepath.Join(d.layout.Dest.Path, e.Name()),
			ModTime: fi.ModTime(),
		}
		if level < d.cfg.MaxBackups {
			li.LastCounter, li.HasLastCounter = rotation.LastWritten(level, count, d.cfg.MaxBackups)
		}
		levels = append(levels, li)
	}

	sort.SliceStable(levels, func(i, j int) bool {
		if levels[i].ModTime.Equal(levels[j].ModTime) {
			return levels[i].Level < levels[j].Level
		}
		return levels[i].ModTime.Before(levels[j].ModTime)
	})
	return levels, nil
}

// Scan classifies the sources the way a run would and returns the files
// it would copy, without copying anything. With req.Reindex the index is
// rebuilt first and saved unless req.DryRun is set.
func (r *Runner) Scan(ctx context.Context, req Request) (res *detect.Result, stats *pkgindex.BuildStats, err error) {
	log := logging.FromContext(ctx)
	stack := cleanup.New()
	defer func() {
		if cerr := stack.Run(ctx); cerr != nil {
			log.Warn("cleanup incomplete", "error", cerr)
		}
	}()

	sources, err := parseSources(req.Sources)
	if err != nil {
		return nil, nil, err
	}
	if anyRemote(sources) {
		return nil, nil, errors.Mark(errors.New("cannot scan remote sources"), errors.ErrConfiguration)
	}
	rootDir, err := resolveRootDir(req.RootDir)
	if err != nil {
		return nil, nil, err
	}

	var lockStack *cleanup.Stack
	if req.Reindex && !req.DryRun {
		lockStack = stack
	}
	d, err := r.open(req.Dest, req.StateDir, lockStack)
	if err != nil {
		return nil, nil, err
	}

	excludes, err := d.excludes.With(destExcludes(d.layout.Dest, rootDir)...)
	if err != nil {
		return nil, nil, err
	}
	return r.scan(ctx, d, excludes, sources, rootDir, req)
}

// RebuildIndex rebuilds and saves the package index of dest from the
// package database under rootDir.
func (r *Runner) RebuildIndex(ctx context.Context, dest, stateDir, rootDir string) (info *IndexInfo, err error) {
	log := logging.FromContext(ctx)
	stack := cleanup.New()
	defer func() {
		if cerr := stack.Run(ctx); cerr != nil {
			log.Warn("cleanup incomplete", "error", cerr)
		}
	}()

	root, err := resolveRootDir(rootDir)
	if err != nil {
		return nil, err
	}
	d, err := r.open(dest, stateDir, stack)
	if err != nil {
		return nil, err
	}

	ix, stats, err := r.index(ctx, d, root, true, false)
	if err != nil {
		return nil, err
	}
	return &IndexInfo{
		IndexFile:    d.layout.IndexFile(),
		PackagesFile: d.layout.PackagesFile(),
		Stats:        ix.Stats(),
		Build:        stats,
	}, nil
}

// LoadIndex reads the persisted package index of dest.
func (r *Runner) LoadIndex(_ context.Context, dest, stateDir string) (*pkgindex.Index, *IndexInfo, error) {
	d, err := r.open(dest, stateDir, nil)
	if err != nil {
		return nil, nil, err
	}
	ix, err := pkgindex.Load(d.layout.IndexFile(), d.layout.PackagesFile())
	if err != nil {
		return nil, nil, err
	}
	return ix, &IndexInfo{
		IndexFile:    d.layout.IndexFile(),
		PackagesFile: d.layout.PackagesFile(),
		Stats:        ix.Stats(),
	}, nil
}

// Doctor runs the diagnostic checks against dest. With fix set, the
// problems the checks can repair are repaired and the checks run again.
func (r *Runner) Doctor(ctx context.Context, dest, stateDir, rootDir string, fix bool) (*doctor.Report, []doctor.FixResult, error) {
	layout, err := resolveLayout(dest, stateDir)
	if err != nil {
		return nil, nil, err
	}
	root, err := resolveRootDir(rootDir)
	if err != nil {
		return nil, nil, err
	}

	runner := doctor.NewRunner(doctor.Checks(doctor.Target{
		Layout:     layout,
		UserConfig: r.userConfig,
		RootDir:    root,
		LookPath:   r.lookPath,
	})...)
	report := runner.Run(ctx)
	if !fix {
		return report, nil, nil
	}

	fixes := runner.Fix()
	if len(fixes) > 0 {
		logging.FromContext(ctx).Info("applied fixes", "count", len(fixes))
		report = runner.Run(ctx)
	}
	return report, fixes, nil
}

// Layout resolves the destination and state directory paths of dest.
func (r *Runner) Layout(dest, stateDir string) (paths.Layout, error) {
	return resolveLayout(dest, stateDir)
}

// Validate loads the config and exclude list of dest the way a run
// would, without locking.
func (r *Runner) Validate(_ context.Context, dest, stateDir string) error {
	_, err := r.open(dest, stateDir, nil)
	return err
}
