package doctor

import (
	"path/filepath"

	"github.com/thoreinstein/backsnap/internal/config"
	"github.com/thoreinstein/backsnap/internal/paths"
)

// Target is the destination under diagnosis.
type Target struct {
	// Layout locates the destination and its state directory.
	Layout paths.Layout

	// UserConfig is the optional user-wide config file.
	UserConfig string

	// RootDir is the root of the installed system. Defaults to "/".
	RootDir string

	// LookPath resolves external tools.
	LookPath func(string) (string, error)
}

// config loads the destination config, falling back to the defaults when
// it cannot be loaded. ConfigCheck reports the load error.
func (t Target) config() *config.Config {
	cfg, err := config.Load(t.UserConfig, t.Layout.ConfigFile())
	if err != nil {
		return config.Default()
	}
	return cfg
}

func (t Target) packageDB() string {
	root := t.RootDir
	if root == "" {
		root = "/"
	}
	return filepath.Join(root, t.config().PackageDB)
}

// Checks returns the standard checks for t, in reporting order.
func Checks(t Target) []Check {
	return []Check{
		NewToolCheck(t, "rsync", true),
		NewToolCheck(t, "nice", false),
		NewToolCheck(t, "ionice", false),
		NewDestinationCheck(t),
		NewStateDirCheck(t),
		NewPermissionCheck(t),
		NewConfigCheck(t),
		NewExcludesCheck(t),
		NewCounterCheck(t),
		NewLockCheck(t),
		NewPackageDBCheck(t),
		NewIndexCheck(t),
	}
}
