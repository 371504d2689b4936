package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/viper"

	"github.com/thoreinstein/backsnap/internal/errors"
	"github.com/thoreinstein/backsnap/internal/paths"
)

// EnvPrefix is the prefix for environment overrides, e.g. BACKSNAP_SLOWNET.
const EnvPrefix = "BACKSNAP"

// Defaults.
const (
	// DefaultMaxBackups is the default tower-of-Hanoi depth.
	DefaultMaxBackups = 8

	// MaxMaxBackups bounds MAXBACKUPS so that level periods fit in a uint64.
	MaxMaxBackups = 62
)

// Config holds the options of one destination.
type Config struct {
	// SlowNet enables rsync wire compression.
	SlowNet bool `mapstructure:"slownet"`

	// MaxBackups is the number of rotation levels.
	MaxBackups int `mapstructure:"maxbackups"`

	// Nice runs rsync under nice and ionice.
	Nice bool `mapstructure:"nice"`

	// Workers bounds concurrent checksum computation. Zero means one per CPU.
	Workers int `mapstructure:"workers"`

	// RsyncArgs holds extra rsync arguments, split with shell quoting rules.
	RsyncArgs string `mapstructure:"rsync_args"`

	// PackageDB is the package manifest root relative to the source root.
	PackageDB string `mapstructure:"pkgdb"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		SlowNet:    false,
		MaxBackups: DefaultMaxBackups,
		Nice:       true,
		Workers:    0,
		PackageDB:  paths.DefaultPackageDB,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("env")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("slownet", d.SlowNet)
	v.SetDefault("maxbackups", d.MaxBackups)
	v.SetDefault("nice", d.Nice)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("rsync_args", d.RsyncArgs)
	v.SetDefault("pkgdb", d.PackageDB)
	return v
}

// Load reads the user file and the destination file, either of which may
// be empty or absent, and returns the validated result.
func Load(userFile, destFile string) (*Config, error) {
	v := newViper()

	for _, path := range []string{userFile, destFile} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Mark(errors.Wrapf(err, "reading config %s", path), errors.ErrConfiguration)
		}

		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "parsing config %s", path), errors.ErrConfiguration)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decoding config"), errors.ErrConfiguration)
	}

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, errors.Mark(errors.Join(errs...), errors.ErrConfiguration)
	}

	return &cfg, nil
}

// WorkerCount resolves Workers, mapping zero to the CPU count.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// ExtraRsyncArgs splits RsyncArgs with shell quoting rules.
func (c *Config) ExtraRsyncArgs() ([]string, error) {
	if strings.TrimSpace(c.RsyncArgs) == "" {
		return nil, nil
	}
	args, err := shlex.Split(c.RsyncArgs)
	if err != nil {
		return nil, errors.Wrap(err, "splitting RSYNC_ARGS")
	}
	return args, nil
}

// Render formats cfg as a destination config file.
func Render(cfg *Config) []byte {
	var b strings.Builder
	b.WriteString("# backsnap destination configuration\n")
	b.WriteString("# Environment variables BACKSNAP_<KEY> override these values.\n\n")
	b.WriteString("# Compress rsync traffic (for slow links).\n")
	fmt.Fprintf(&b, "SLOWNET=%t\n", cfg.SlowNet)
	b.WriteString("# Number of tower-of-Hanoi levels (LEVEL0 .. LEVELn-1).\n")
	fmt.Fprintf(&b, "MAXBACKUPS=%d\n", cfg.MaxBackups)
	b.WriteString("# Run rsync under nice/ionice.\n")
	fmt.Fprintf(&b, "NICE=%t\n", cfg.Nice)
	b.WriteString("# Concurrent checksum workers (0 = one per CPU).\n")
	fmt.Fprintf(&b, "WORKERS=%d\n", cfg.Workers)
	b.WriteString("# Package manifest directory, relative to the source root.\n")
	fmt.Fprintf(&b, "PKGDB=%s\n", cfg.PackageDB)
	b.WriteString("# Extra rsync arguments.\n")
	fmt.Fprintf(&b, "RSYNC_ARGS=%q\n", cfg.RsyncArgs)
	return []byte(b.String())
}
