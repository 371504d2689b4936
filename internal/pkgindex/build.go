package pkgindex

import (
	"bufio"
	"context"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/thoreinstein/backsnap/internal/errors"
	"github.com/thoreinstein/backsnap/internal/logging"
)

// ManifestName is the file name of a package manifest.
const ManifestName = "CONTENTS"

// maxLineLength bounds a single manifest line.
const maxLineLength = 1 << 20

// BuildStats counts what Build read and what it had to skip.
type BuildStats struct {
	Manifests  int `yaml:"manifests"`
	Lines      int `yaml:"lines"`
	Malformed  int `yaml:"malformed"`
	Unreadable int `yaml:"unreadable"`
}

// Skipped returns the number of recovered problems.
func (s BuildStats) Skipped() int {
	return s.Malformed + s.Unreadable
}

// Build walks root and indexes every CONTENTS manifest under it. The
// package id is the manifest's directory relative to root, e.g.
// "sys-apps/coreutils-9.4". Malformed lines and unreadable files or
// directories are counted and skipped; only cancellation or a missing
// root stops the build.
func Build(ctx context.Context, root string) (*Index, BuildStats, error) {
	log := logging.FromContext(ctx)
	ix := New()
	var stats BuildStats

	info, err := os.Stat(root)
	if err != nil {
		wrapped := errors.Wrapf(err, "reading package database %s", root)
		if os.IsNotExist(err) {
			wrapped = errors.Mark(wrapped, errors.ErrConfiguration)
		}
		return nil, stats, wrapped
	}
	if !info.IsDir() {
		return nil, stats, errors.Newf("package database %s is not a directory", root)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			stats.Unreadable++
			log.Warn("skipping unreadable package database entry", "path", path, "error", err)
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || d.Name() != ManifestName {
			return nil
		}

		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil || rel == "." {
			rel = filepath.Base(filepath.Dir(path))
		}
		pkg := filepath.ToSlash(rel)

		if err := parseManifest(ix, pkg, path, &stats); err != nil {
			stats.Unreadable++
			log.Warn("skipping unreadable manifest", "path", path, "error", err)
			return nil
		}
		stats.Manifests++
		return nil
	})
	if err != nil {
		return nil, stats, errors.Wrapf(err, "indexing %s", root)
	}

	log.Debug("package index built",
		"manifests", stats.Manifests,
		"paths", len(ix.paths),
		"packages", len(ix.packages),
		"malformed", stats.Malformed,
		"unreadable", stats.Unreadable)

	return ix, stats, nil
}

// parseManifest adds the entries of one manifest. Records read before a
// read error are kept.
func parseManifest(ix *Index, pkg, path string, stats *BuildStats) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ix.AddPackage(pkg)

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		stats.Lines++

		entryPath, rec, ok := ParseLine(line)
		if !ok {
			stats.Malformed++
			continue
		}
		rec.Package = pkg
		ix.Add(entryPath, rec)
	}
	return sc.Err()
}

// ParseLine parses one manifest line into the path it describes and a
// record without its Package. Paths may contain spaces: for "obj" the
// checksum and mtime are the last two fields, and for "sym" the target
// follows the last " -> ". Extra spaces after the tag are ignored.
func ParseLine(line string) (string, Record, bool) {
	tag, rest, ok := strings.Cut(line, " ")
	if !ok {
		return "", Record{}, false
	}
	rest = strings.TrimLeft(rest, " ")

	switch tag {
	case "obj":
		head, mtime, ok := cutLast(rest, " ")
		if !ok {
			return "", Record{}, false
		}
		path, sum, ok := cutLast(head, " ")
		if !ok || path == "" || sum == "" {
			return "", Record{}, false
		}
		mt, ok := parseMTime(mtime)
		if !ok {
			return "", Record{}, false
		}
		return path, Record{Kind: KindRegular, Checksum: strings.ToLower(sum), MTime: mt}, true

	case "sym":
		head, mtime, ok := cutLast(rest, " ")
		if !ok {
			return "", Record{}, false
		}
		path, target, ok := cutLast(head, " -> ")
		if !ok || path == "" || target == "" {
			return "", Record{}, false
		}
		mt, ok := parseMTime(mtime)
		if !ok {
			return "", Record{}, false
		}
		return path, Record{Kind: KindSymlink, LinkTarget: target, MTime: mt}, true

	default:
		path := strings.TrimSpace(rest)
		if path == "" {
			return "", Record{}, false
		}
		return path, Record{Kind: KindOther}, true
	}
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

// parseMTime accepts integer seconds, and the fractional form some old
// Portage versions wrote.
func parseMTime(s string) (int64, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}
