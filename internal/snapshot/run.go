package snapshot

import (
	"context"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/thoreinstein/backsnap/internal/cleanup"
	"github.com/thoreinstein/backsnap/internal/detect"
	"github.com/thoreinstein/backsnap/internal/errors"
	"github.com/thoreinstein/backsnap/internal/exclude"
	"github.com/thoreinstein/backsnap/internal/logging"
	"github.com/thoreinstein/backsnap/internal/paths"
	"github.com/thoreinstein/backsnap/internal/pkgindex"
	"github.com/thoreinstein/backsnap/internal/rsync"
	"github.com/thoreinstein/backsnap/pkg/fileutil"
)

// remoteShell carries host:path transfers.
const remoteShell = "ssh"

// Run performs one backup. On success the counter has advanced by one
// and the report has been written, unless req.DryRun is set, in which
// case nothing at the destination has changed.
func (r *Runner) Run(ctx context.Context, req Request) (summary *Summary, err error) {
	log := logging.FromContext(ctx)
	started := r.now()

	stack := cleanup.New()
	defer func() {
		if cerr := stack.Run(ctx); cerr != nil && err == nil {
			log.Warn("cleanup incomplete", "error", cerr)
		}
	}()

	sources, err := parseSources(req.Sources)
	if err != nil {
		return nil, err
	}
	rootDir, err := resolveRootDir(req.RootDir)
	if err != nil {
		return nil, err
	}

	d, err := r.open(req.Dest, req.StateDir, stack)
	if err != nil {
		return nil, err
	}
	if d.layout.Dest.IsRemote() && anyRemote(sources) {
		return nil, errors.Mark(
			errors.New("destination and sources cannot both be remote"),
			errors.ErrConfiguration)
	}

	count, plan, err := d.plan()
	if err != nil {
		return nil, err
	}
	levelDir := d.layout.LevelDir(plan.Level)
	log.Info("scheduled", "counter", count, "level", plan.Level, "reference", plan.Reference)

	summary = &Summary{
		Version:         ReportVersion,
		BacksnapVersion: r.version,
		StartedAt:       started,
		DryRun:          req.DryRun,
		Counter:         count,
		Level:           plan.Level,
		LevelDir:        levelDir.String(),
		Mode:            ModeFull,
	}
	for _, s := range sources {
		summary.Sources = append(summary.Sources, s.String())
	}
	if plan.HasReference() {
		ref := plan.Reference
		summary.Reference = &ref
	}

	opts := rsync.Options{
		Dest:     levelDir.String() + "/",
		Compress: d.cfg.SlowNet || req.SlowNet,
		DryRun:   req.DryRun,
	}
	if d.cfg.Nice {
		opts.Wrapper = rsync.NicePrefix(r.lookPath)
	}
	if d.layout.Dest.IsRemote() || anyRemote(sources) {
		opts.RemoteShell = remoteShell
	}
	if plan.HasReference() {
		opts.LinkDest = d.layout.LevelDir(plan.Reference).Path
	}
	if opts.Extra, err = d.cfg.ExtraRsyncArgs(); err != nil {
		return nil, errors.Mark(err, errors.ErrConfiguration)
	}

	excludes, err := d.excludes.With(destExcludes(d.layout.Dest, rootDir)...)
	if err != nil {
		return nil, err
	}

	scanMode := !req.IncSystem && !anyRemote(sources)
	if !req.IncSystem && anyRemote(sources) {
		log.Warn("sources are remote; package-aware scanning disabled, copying everything")
	}

	if scanMode {
		summary.Mode = ModeScan
		res, stats, err := r.scan(ctx, d, excludes, sources, rootDir, req)
		if err != nil {
			return nil, err
		}
		summary.Index = stats
		if stats != nil {
			summary.ManifestWarnings = stats.Skipped()
		}
		summary.Files = len(res.Paths)
		summary.Bytes = res.TotalBytes
		summary.BytesHuman = humanize.IBytes(uint64(res.TotalBytes))
		summary.Scanned = res.Scanned
		summary.Skipped = res.Skipped
		summary.FileWarnings = res.Warnings
		summary.UnreadableDirs = res.Unreadable

		list, err := r.stage(stack, "files", res.WriteFileList)
		if err != nil {
			return nil, err
		}
		opts.FilesFrom = list
		opts.Sources = []string{withSlash(rootDir)}
	} else {
		rules, err := r.stage(stack, "excludes", func(w io.Writer) error {
			return rsync.WriteExcludeRules(w, excludes.Patterns())
		})
		if err != nil {
			return nil, err
		}
		opts.ExcludeFrom = rules
		opts.Relative = true
		opts.Delete = true
		for _, s := range sources {
			opts.Sources = append(opts.Sources, relativeSource(s, rootDir))
		}
	}

	if !req.DryRun {
		if err := r.clearLevel(ctx, stack, levelDir, opts); err != nil {
			return nil, err
		}
	}

	if err := r.sync.Run(ctx, rsync.Args(opts)); err != nil {
		return nil, errors.Wrapf(err, "writing %s", levelDir)
	}

	summary.FinishedAt = r.now()
	if req.DryRun {
		return summary, nil
	}

	if err := d.counter.Commit(count + 1); err != nil {
		return nil, err
	}
	if err := fileutil.AtomicWriteYAML(d.layout.ReportFile(), summary); err != nil {
		log.Warn("could not write run report", "path", d.layout.ReportFile(), "error", err)
	}

	return summary, nil
}

// scan loads or rebuilds the index and classifies the sources.
func (r *Runner) scan(ctx context.Context, d *destination, excludes *exclude.Matcher,
	sources []paths.Location, rootDir string, req Request,
) (*detect.Result, *pkgindex.BuildStats, error) {
	roots := make([]string, 0, len(sources))
	for _, s := range sources {
		abs, err := filepath.Abs(s.Path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "resolving source %s", s)
		}
		if !detect.Within(rootDir, abs) {
			return nil, nil, errors.Mark(
				errors.Newf("source %s is outside root directory %s", abs, rootDir),
				errors.ErrConfiguration)
		}
		roots = append(roots, abs)
	}

	ix, stats, err := r.index(ctx, d, rootDir, req.Reindex, req.DryRun)
	if err != nil {
		return nil, nil, err
	}

	mode := detect.ModeChecksum
	if req.MTimeOnly {
		mode = detect.ModeMTime
	}
	det := detect.New(ix, excludes,
		detect.WithMode(mode),
		detect.WithRootDir(rootDir),
		detect.WithWorkers(d.cfg.WorkerCount()))

	res, err := det.Scan(ctx, roots...)
	if err != nil {
		return nil, nil, err
	}
	return res, stats, nil
}
