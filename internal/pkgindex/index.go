package pkgindex

import (
	"sort"
)

// Kind is the type of a manifest entry.
type Kind uint8

const (
	// KindOther covers directories, devices, fifos and unknown entries.
	KindOther Kind = iota

	// KindRegular is an "obj" entry: a regular file with checksum and mtime.
	KindRegular

	// KindSymlink is a "sym" entry: a symlink with its target.
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindSymlink:
		return "symlink"
	default:
		return "other"
	}
}

// Record is one package's claim on a path.
type Record struct {
	Package    string `msgpack:"p"`
	Kind       Kind   `msgpack:"k"`
	Checksum   string `msgpack:"c,omitempty"`
	MTime      int64  `msgpack:"m,omitempty"`
	LinkTarget string `msgpack:"t,omitempty"`
}

// Index maps absolute paths to the records of the packages that own them.
// It is built once and then only read.
type Index struct {
	paths    map[string][]Record
	packages map[string]bool
}

// Stats summarizes an Index.
type Stats struct {
	Paths    int `yaml:"paths"`
	Records  int `yaml:"records"`
	Packages int `yaml:"packages"`
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		paths:    make(map[string][]Record),
		packages: make(map[string]bool),
	}
}

// Add appends r to the records of path and registers its package.
func (ix *Index) Add(path string, r Record) {
	ix.paths[path] = append(ix.paths[path], r)
	ix.packages[r.Package] = true
}

// AddPackage registers a package that may own no paths.
func (ix *Index) AddPackage(pkg string) {
	ix.packages[pkg] = true
}

// Lookup returns the records for path in manifest order, or nil.
func (ix *Index) Lookup(path string) []Record {
	if ix == nil {
		return nil
	}
	return ix.paths[path]
}

// HasPackage reports whether pkg contributed to the index.
func (ix *Index) HasPackage(pkg string) bool {
	return ix != nil && ix.packages[pkg]
}

// Packages returns the package identifiers, sorted.
func (ix *Index) Packages() []string {
	if ix == nil {
		return nil
	}
	pkgs := make([]string, 0, len(ix.packages))
	for p := range ix.packages {
		pkgs = append(pkgs, p)
	}
	sort.Strings(pkgs)
	return pkgs
}

// Stats counts paths, records and packages.
func (ix *Index) Stats() Stats {
	if ix == nil {
		return Stats{}
	}
	s := Stats{Paths: len(ix.paths), Packages: len(ix.packages)}
	for _, recs := range ix.paths {
		s.Records += len(recs)
	}
	return s
}

// validate checks that every record names a known package.
func (ix *Index) validate() (string, bool) {
	for path, recs := range ix.paths {
		if len(recs) == 0 {
			return path, false
		}
		for _, r := range recs {
			if !ix.packages[r.Package] {
				return path, false
			}
		}
	}
	return "", true
}
