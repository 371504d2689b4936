// Package exclude decides which paths never enter a snapshot.
//
// Patterns are shell globs matched against the whole absolute path, not
// the base name. As with fnmatch, '*' also matches '/', so "/tmp/*"
// excludes everything below /tmp. '?', character classes and brace
// alternatives ("/var/{tmp,cache}/*") work as in the shell.
package exclude

import (
	"bufio"
	"os"
	"strings"

	glob "github.com/pachyderm/ohmyglob"

	"github.com/thoreinstein/backsnap/internal/errors"
)

// Matcher holds an ordered, immutable set of exclude patterns.
type Matcher struct {
	patterns []string
	globs    []*glob.Glob
}

// New compiles patterns. An invalid pattern is a configuration error.
func New(patterns []string) (*Matcher, error) {
	m := &Matcher{
		patterns: make([]string, 0, len(patterns)),
		globs:    make([]*glob.Glob, 0, len(patterns)),
	}
	for _, p := range patterns {
		if err := m.add(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Matcher) add(pattern string) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "compiling exclude pattern %q", pattern), errors.ErrConfiguration)
	}
	m.patterns = append(m.patterns, pattern)
	m.globs = append(m.globs, g)
	return nil
}

// Load reads patterns from path, one per line. Blank lines and lines
// starting with '#' are ignored, as is surrounding whitespace. A missing
// file yields an empty matcher.
func Load(path string) (*Matcher, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(nil)
		}
		return nil, errors.Mark(errors.Wrapf(err, "opening exclude list %s", path), errors.ErrConfiguration)
	}
	defer f.Close()

	var patterns []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "reading exclude list %s", path), errors.ErrConfiguration)
	}

	return New(patterns)
}

// With returns a new Matcher holding m's patterns followed by extra.
func (m *Matcher) With(extra ...string) (*Matcher, error) {
	return New(append(m.Patterns(), extra...))
}

// Matches reports whether path matches any pattern.
func (m *Matcher) Matches(path string) bool {
	if m == nil {
		return false
	}
	for _, g := range m.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Patterns returns a copy of the patterns in load order.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}

// Len returns the number of patterns.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.patterns)
}

// Matches reports whether path matches any of patterns. Invalid patterns
// never match.
func Matches(path string, patterns []string) bool {
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			continue
		}
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Defaults returns the exclude list written by "backsnap init": virtual
// and volatile filesystems, caches, and the package database itself.
func Defaults() []string {
	return []string{
		"/tmp/*",
		"/dev/*",
		"/proc/*",
		"/sys/*",
		"/run/*",
		"/var/db/pkg/*",
		"/var/tmp/*",
		"/var/cache/edb/*",
		"/usr/portage/*",
		"/usr/lib/python2*.pyc",
	}
}
