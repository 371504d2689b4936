package paths

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"

	"github.com/thoreinstein/backsnap/internal/errors"
)

// AppName is used for the user config directory.
const AppName = "backsnap"

// Names inside the destination.
const (
	StateDirName     = ".backsnap"
	ConfigFileName   = "config"
	ExcludesFileName = "excludes"
	CounterFileName  = "count"
	IndexFileName    = "index"
	PackagesFileName = "packages"
	LockFileName     = "lock"
	ReportFileName   = "last-run.yaml"
	LevelDirPrefix   = "LEVEL"
)

// DefaultPackageDB is where Portage keeps per-package CONTENTS manifests,
// relative to the root of the installed system.
const DefaultPackageDB = "/var/db/pkg"

// ErrInvalidPath indicates the provided path is malformed.
var ErrInvalidPath = errors.New("invalid path")

// ConfigHome returns the XDG config home directory.
func ConfigHome() string {
	return xdg.ConfigHome
}

// UserConfigFile returns the optional user-wide defaults file,
// $XDG_CONFIG_HOME/backsnap/config.
func UserConfigFile() string {
	return filepath.Join(ConfigHome(), AppName, ConfigFileName)
}

// Location is a local path or a remote host:path.
type Location struct {
	// Host is empty for local locations.
	Host string

	// Path is the path on Host (or locally).
	Path string
}

// ParseLocation parses s as either a local path or a host:path pair.
// A colon counts as a host separator only when it appears before the first
// slash, so "/mnt/a:b" and "./x:y" stay local.
func ParseLocation(s string) (Location, error) {
	if s == "" {
		return Location{}, errors.Wrap(ErrInvalidPath, "empty path")
	}

	colon := strings.IndexByte(s, ':')
	slash := strings.IndexByte(s, '/')
	if colon < 0 || (slash >= 0 && slash < colon) {
		return Location{Path: filepath.Clean(s)}, nil
	}

	host, p := s[:colon], s[colon+1:]
	if host == "" {
		return Location{}, errors.Wrapf(ErrInvalidPath, "%q has an empty host", s)
	}
	if p == "" {
		p = "."
	}
	return Location{Host: host, Path: filepath.Clean(p)}, nil
}

// IsRemote reports whether the location names another host.
func (l Location) IsRemote() bool {
	return l.Host != ""
}

// Join appends path elements, keeping the host.
func (l Location) Join(elem ...string) Location {
	return Location{Host: l.Host, Path: filepath.Join(append([]string{l.Path}, elem...)...)}
}

// String formats the location the way rsync expects it.
func (l Location) String() string {
	if l.Host == "" {
		return l.Path
	}
	return l.Host + ":" + l.Path
}

// LevelDirName returns the directory name for a level, e.g. "LEVEL3".
func LevelDirName(level int) string {
	return LevelDirPrefix + strconv.Itoa(level)
}

// ParseLevelDirName extracts the level from a directory name produced by
// LevelDirName.
func ParseLevelDirName(name string) (int, bool) {
	digits, ok := strings.CutPrefix(name, LevelDirPrefix)
	if !ok || digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 || strconv.Itoa(n) != digits {
		return 0, false
	}
	return n, true
}

// Layout resolves the files backsnap keeps for one destination.
type Layout struct {
	// Dest is the destination root holding the level directories.
	Dest Location

	// StateDir is a local path to the state directory. For a local
	// destination it is <dest>/.backsnap.
	StateDir string
}

// NewLayout builds the layout for dest. stateDir overrides the state
// directory location and is required when dest is remote, because the
// counter, lock and index must be read and written locally.
func NewLayout(dest Location, stateDir string) (Layout, error) {
	if stateDir == "" {
		if dest.IsRemote() {
			return Layout{}, errors.Mark(
				errors.Newf("destination %s is remote; --state-dir must name a local state directory", dest),
				errors.ErrConfiguration)
		}
		stateDir = filepath.Join(dest.Path, StateDirName)
	}

	abs, err := filepath.Abs(stateDir)
	if err != nil {
		return Layout{}, errors.Wrapf(err, "resolving state directory %s", stateDir)
	}

	return Layout{Dest: dest, StateDir: abs}, nil
}

// ConfigFile returns the destination config path.
func (l Layout) ConfigFile() string { return filepath.Join(l.StateDir, ConfigFileName) }

// ExcludesFile returns the exclude list path.
func (l Layout) ExcludesFile() string { return filepath.Join(l.StateDir, ExcludesFileName) }

// CounterFile returns the invocation counter path.
func (l Layout) CounterFile() string { return filepath.Join(l.StateDir, CounterFileName) }

// IndexFile returns the persisted package index path.
func (l Layout) IndexFile() string { return filepath.Join(l.StateDir, IndexFileName) }

// PackagesFile returns the persisted package set path.
func (l Layout) PackagesFile() string { return filepath.Join(l.StateDir, PackagesFileName) }

// LockFile returns the run lock path.
func (l Layout) LockFile() string { return filepath.Join(l.StateDir, LockFileName) }

// ReportFile returns the last-run report path.
func (l Layout) ReportFile() string { return filepath.Join(l.StateDir, ReportFileName) }

// LevelDir returns the location of a level directory.
func (l Layout) LevelDir(level int) Location {
	return l.Dest.Join(LevelDirName(level))
}
