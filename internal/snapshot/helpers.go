package snapshot

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/thoreinstein/backsnap/internal/cleanup"
	"github.com/thoreinstein/backsnap/internal/detect"
	"github.com/thoreinstein/backsnap/internal/errors"
	"github.com/thoreinstein/backsnap/internal/logging"
	"github.com/thoreinstein/backsnap/internal/paths"
	"github.com/thoreinstein/backsnap/internal/pkgindex"
	"github.com/thoreinstein/backsnap/internal/rsync"
)

// parseSources parses and checks the source arguments. Remote sources
// must all name the same host; local and remote sources cannot be mixed.
// Local sources must exist.
func parseSources(args []string) ([]paths.Location, error) {
	if len(args) == 0 {
		return nil, errors.Mark(errors.New("at least one source is required"), errors.ErrConfiguration)
	}

	var (
		locs  []paths.Location
		host  string
		local int
	)
	for _, a := range args {
		loc, err := paths.ParseLocation(a)
		if err != nil {
			return nil, errors.Mark(err, errors.ErrConfiguration)
		}

		if loc.IsRemote() {
			if host != "" && loc.Host != host {
				return nil, errors.Mark(
					errors.Newf("sources name different hosts: %s and %s", host, loc.Host),
					errors.ErrConfiguration)
			}
			host = loc.Host
		} else {
			abs, err := filepath.Abs(loc.Path)
			if err != nil {
				return nil, errors.Wrapf(err, "resolving source %s", a)
			}
			if _, err := os.Lstat(abs); err != nil {
				return nil, errors.Mark(errors.Wrapf(err, "source %s", a), errors.ErrConfiguration)
			}
			loc.Path = abs
			local++
		}
		locs = append(locs, loc)
	}

	if host != "" && local > 0 {
		return nil, errors.Mark(errors.New("local and remote sources cannot be mixed"), errors.ErrConfiguration)
	}
	return locs, nil
}

func anyRemote(locs []paths.Location) bool {
	for _, l := range locs {
		if l.IsRemote() {
			return true
		}
	}
	return false
}

// resolveRootDir returns the absolute root directory, "/" by default.
func resolveRootDir(dir string) (string, error) {
	if dir == "" {
		return "/", nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrapf(err, "resolving root directory %s", dir)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "root directory %s", dir), errors.ErrConfiguration)
	}
	if !info.IsDir() {
		return "", errors.Mark(errors.Newf("root directory %s is not a directory", dir), errors.ErrConfiguration)
	}
	return abs, nil
}

// destExcludes returns patterns that keep a local destination out of its
// own backup when it lies below the root directory.
func destExcludes(dest paths.Location, rootDir string) []string {
	if dest.IsRemote() || !detect.Within(rootDir, dest.Path) {
		return nil
	}
	rel, err := filepath.Rel(rootDir, dest.Path)
	if err != nil || rel == "." {
		return nil
	}
	logical := globEscape("/" + filepath.ToSlash(rel))
	return []string{logical, logical + "/*"}
}

// globEscape quotes glob metacharacters in a literal path.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`*?[]{}\`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func withSlash(dir string) string {
	if strings.HasSuffix(dir, "/") {
		return dir
	}
	return dir + "/"
}

// relativeSource formats a source for rsync --relative so that the copy
// mirrors its logical path: /mnt/sys/etc under root /mnt/sys becomes
// /mnt/sys/./etc and lands at LEVELn/etc.
func relativeSource(src paths.Location, rootDir string) string {
	if src.IsRemote() || rootDir == "/" || !detect.Within(rootDir, src.Path) {
		return src.String()
	}
	rel, err := filepath.Rel(rootDir, src.Path)
	if err != nil {
		return src.String()
	}
	if rel == "." {
		return withSlash(rootDir) + "./"
	}
	return withSlash(rootDir) + "./" + rel
}

// stage writes a temporary file that is removed when stack runs.
func (r *Runner) stage(stack *cleanup.Stack, name string, write func(io.Writer) error) (string, error) {
	f, err := os.CreateTemp(r.tempDir, "backsnap-"+name+"-*")
	if err != nil {
		return "", errors.Wrapf(err, "creating %s list", name)
	}
	path := f.Name()
	stack.Push("remove "+path, func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})

	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		f.Close()
		return "", errors.Wrapf(err, "writing %s list", name)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return "", errors.Wrapf(err, "writing %s list", name)
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, "closing %s list", name)
	}
	return path, nil
}

// clearLevel empties the level directory about to be written. A remote
// level is emptied by syncing an empty directory over it.
func (r *Runner) clearLevel(ctx context.Context, stack *cleanup.Stack, level paths.Location, opts rsync.Options) error {
	log := logging.FromContext(ctx)
	log.Info("clearing level directory", "path", level.String())

	if !level.IsRemote() {
		if err := os.RemoveAll(level.Path); err != nil {
			return errors.Wrapf(err, "clearing %s", level.Path)
		}
		if err := os.MkdirAll(level.Path, 0o755); err != nil {
			return errors.Wrapf(err, "creating %s", level.Path)
		}
		return nil
	}

	empty, err := os.MkdirTemp(r.tempDir, "backsnap-empty-*")
	if err != nil {
		return errors.Wrap(err, "creating empty directory")
	}
	stack.Push("remove "+empty, func() error { return os.RemoveAll(empty) })

	argv := rsync.Args(rsync.Options{
		Wrapper:     opts.Wrapper,
		Sources:     []string{withSlash(empty)},
		Dest:        opts.Dest,
		RemoteShell: opts.RemoteShell,
		Delete:      true,
	})
	if err := r.sync.Run(ctx, argv); err != nil {
		return errors.Wrapf(err, "clearing %s", level)
	}
	return nil
}

// index loads the persisted package index, or rebuilds it from the
// package database under rootDir when rebuild is set. A rebuilt index is
// saved unless dryRun is set.
func (r *Runner) index(ctx context.Context, d *destination, rootDir string, rebuild, dryRun bool) (*pkgindex.Index, *pkgindex.BuildStats, error) {
	if !rebuild {
		ix, err := pkgindex.Load(d.layout.IndexFile(), d.layout.PackagesFile())
		if err != nil {
			return nil, nil, err
		}
		return ix, nil, nil
	}

	db := filepath.Join(rootDir, d.cfg.PackageDB)
	log := logging.FromContext(ctx)
	log.Info("rebuilding package index", "pkgdb", db)

	ix, stats, err := pkgindex.Build(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	if stats.Skipped() > 0 {
		log.Warn("package database entries skipped",
			"malformed_lines", stats.Malformed,
			"unreadable", stats.Unreadable)
	}

	if !dryRun {
		if err := pkgindex.Save(ix, d.layout.IndexFile(), d.layout.PackagesFile()); err != nil {
			return nil, nil, err
		}
	}
	return ix, &stats, nil
}
