package detect

import (
	"bufio"
	"context"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/thoreinstein/backsnap/internal/errors"
	"github.com/thoreinstein/backsnap/internal/logging"
)

// Result is the outcome of a Scan.
type Result struct {
	// Base is the root directory Paths are relative to in a file list.
	Base string

	// Paths are the on-disk paths to back up, in traversal order.
	Paths []string

	// TotalBytes is the summed size of Paths.
	TotalBytes int64

	// Scanned counts the non-directory entries inspected.
	Scanned int

	// Skipped counts excluded entries and unchanged package files.
	Skipped int

	// Warnings lists paths backed up because they could not be inspected.
	Warnings []FileRaceWarning

	// Unreadable lists directories whose contents could not be listed.
	// Nothing below them is in Paths.
	Unreadable []FileRaceWarning
}

type sequenced struct {
	seq int
	v   Verdict
}

// Scan walks roots in order and classifies every entry below them. The
// walk is sequential; inspection, which includes checksumming, runs on up
// to the configured number of workers. Roots nested inside an earlier
// root are walked once.
//
// An excluded directory is not descended into. A directory that cannot
// be listed is recorded in Result.Unreadable. Scan fails only when a root
// cannot be read or ctx is cancelled.
func (d *Detector) Scan(ctx context.Context, roots ...string) (*Result, error) {
	log := logging.FromContext(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	var (
		mu         sync.Mutex
		verdicts   []sequenced
		unreadable []FileRaceWarning
	)
	seq, scanned, excluded := 0, 0, 0

	walk := func(root string) error {
		return filepath.WalkDir(root, func(path string, de fs.DirEntry, err error) error {
			if ctxErr := gctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				if de == nil {
					return errors.Wrapf(err, "scanning %s", path)
				}
				log.Warn("cannot read directory, contents not backed up", "path", path, "error", err)
				mu.Lock()
				unreadable = append(unreadable, FileRaceWarning{Path: path, Err: err.Error()})
				mu.Unlock()
				if de.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.Excluded(path) {
				excluded++
				log.Log(gctx, logging.LevelTrace, "excluded", "path", path)
				if de.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if de.IsDir() {
				return nil
			}

			n := seq
			seq++
			scanned++
			g.Go(func() error {
				var v Verdict
				if info, err := de.Info(); err != nil {
					v = raced(path, 0, err)
				} else {
					v = d.classifyInfo(path, info)
				}
				log.Log(gctx, logging.LevelTrace, "classified",
					"path", path, "decision", v.Decision.String(), "reason", string(v.Reason))

				mu.Lock()
				verdicts = append(verdicts, sequenced{seq: n, v: v})
				mu.Unlock()
				return nil
			})
			return nil
		})
	}

	var walkErr error
	for _, root := range normalizeRoots(roots) {
		if walkErr = walk(root); walkErr != nil {
			break
		}
	}
	if err := g.Wait(); err != nil && walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		return nil, walkErr
	}

	sort.Slice(verdicts, func(i, j int) bool { return verdicts[i].seq < verdicts[j].seq })

	res := &Result{
		Base:       d.rootDir,
		Scanned:    scanned,
		Skipped:    excluded,
		Unreadable: unreadable,
	}
	for _, s := range verdicts {
		if s.v.Decision == Skip {
			res.Skipped++
			continue
		}
		res.Paths = append(res.Paths, s.v.Path)
		res.TotalBytes += s.v.Size
		if s.v.Warning != nil {
			res.Warnings = append(res.Warnings, *s.v.Warning)
		}
	}

	log.Info("scan complete",
		"scanned", res.Scanned,
		"backup", len(res.Paths),
		"skipped", res.Skipped,
		"warnings", len(res.Warnings),
		"unreadable", len(res.Unreadable))

	return res, nil
}

// normalizeRoots cleans roots and drops any nested inside another.
func normalizeRoots(roots []string) []string {
	cleaned := make([]string, 0, len(roots))
	for _, r := range roots {
		cleaned = append(cleaned, filepath.Clean(r))
	}

	var out []string
	for i, r := range cleaned {
		nested := false
		for j, other := range cleaned {
			if i == j {
				continue
			}
			if Within(other, r) && (other != r || j < i) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, r)
		}
	}
	return out
}

// Within reports whether path is parent or lies below it.
func Within(parent, path string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, "../"))
}

// WriteFileList writes Paths relative to Base, each terminated by NUL, in
// the form rsync --files-from --from0 reads.
func (r *Result) WriteFileList(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, p := range r.Paths {
		rel, err := filepath.Rel(r.Base, p)
		if err != nil || !Within(r.Base, p) || rel == "." {
			return errors.Newf("%s is not below %s", p, r.Base)
		}
		if _, err := bw.WriteString(rel); err != nil {
			return err
		}
		if err := bw.WriteByte(0); err != nil {
			return err
		}
	}
	return bw.Flush()
}
