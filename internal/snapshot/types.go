package snapshot

import (
	"time"

	"github.com/thoreinstein/backsnap/internal/detect"
	"github.com/thoreinstein/backsnap/internal/pkgindex"
	"github.com/thoreinstein/backsnap/internal/rotation"
)

// ReportVersion is the format version of last-run.yaml.
const ReportVersion = 1

// Copy modes.
const (
	// ModeScan copies only files the package manager cannot restore.
	ModeScan = "scan"

	// ModeFull copies the sources whole, minus excludes.
	ModeFull = "full"
)

// Request describes one run.
type Request struct {
	// Dest is the destination, a local path or host:path.
	Dest string

	// Sources are the trees to back up, local paths or host:path.
	Sources []string

	// StateDir overrides <dest>/.backsnap. Required for a remote Dest.
	StateDir string

	// RootDir is the on-disk directory holding the installed system the
	// package database describes. Defaults to "/".
	RootDir string

	// DryRun reports what would be copied without changing anything.
	DryRun bool

	// SlowNet forces wire compression regardless of config.
	SlowNet bool

	// MTimeOnly compares package files by modification time.
	MTimeOnly bool

	// Reindex rebuilds the package index before scanning.
	Reindex bool

	// IncSystem copies package files too, skipping the scan.
	IncSystem bool
}

// Summary is the outcome of a run. It is also written to last-run.yaml.
type Summary struct {
	Version         int       `yaml:"version"`
	BacksnapVersion string    `yaml:"backsnap_version"`
	StartedAt       time.Time `yaml:"started_at"`
	FinishedAt      time.Time `yaml:"finished_at"`
	DryRun          bool      `yaml:"dry_run"`

	Counter   uint64   `yaml:"counter"`
	Level     int      `yaml:"level"`
	Reference *int     `yaml:"reference,omitempty"`
	LevelDir  string   `yaml:"level_dir"`
	Mode      string   `yaml:"mode"`
	Sources   []string `yaml:"sources"`

	Files      int    `yaml:"files,omitempty"`
	Bytes      int64  `yaml:"bytes,omitempty"`
	BytesHuman string `yaml:"bytes_human,omitempty"`
	Scanned    int    `yaml:"scanned,omitempty"`
	Skipped    int    `yaml:"skipped,omitempty"`

	Index            *pkgindex.BuildStats     `yaml:"index_rebuild,omitempty"`
	ManifestWarnings int                      `yaml:"manifest_warnings,omitempty"`
	FileWarnings     []detect.FileRaceWarning `yaml:"file_warnings,omitempty"`
	UnreadableDirs   []detect.FileRaceWarning `yaml:"unreadable_dirs,omitempty"`
}

func (s *Summary) Warnings() int {
	return s.ManifestWarnings + len(s.FileWarnings) + len(s.UnreadableDirs)
}

// PlanInfo describes the next run against a destination.
type PlanInfo struct {
	Counter   uint64
	Plan      rotation.Plan
	LevelDir  string
	Reference string
	Upcoming  []int
}

// LevelInfo describes one level directory at a local destination.
type LevelInfo struct {
	Level   int
	Path    string
	ModTime time.Time

	// LastCounter is the counter value that last wrote this level
	// according to the schedule, if any.
	LastCounter    uint64
	HasLastCounter bool
}

// IndexInfo describes a persisted package index.
type IndexInfo struct {
	IndexFile    string
	PackagesFile string
	Stats        pkgindex.Stats
	Build        *pkgindex.BuildStats
}
