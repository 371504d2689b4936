package pkgindex

import (
	"io"
	"os"

	"github.com/vmihailenco/msgpack"

	"github.com/thoreinstein/backsnap/internal/errors"
	"github.com/thoreinstein/backsnap/pkg/fileutil"
)

// FormatVersion identifies the on-disk encoding. Files with another
// version are reported as corrupt and must be rebuilt.
const FormatVersion = 1

type indexFile struct {
	Version int                 `msgpack:"version"`
	Paths   map[string][]Record `msgpack:"paths"`
}

type packagesFile struct {
	Version  int             `msgpack:"version"`
	Packages map[string]bool `msgpack:"packages"`
}

// Save writes ix to indexPath and its package set to packagesPath. Each
// file is replaced atomically. If only the first replacement succeeds,
// Load reports the pair as corrupt.
func Save(ix *Index, indexPath, packagesPath string) error {
	if err := writeMsgpack(indexPath, &indexFile{Version: FormatVersion, Paths: ix.paths}); err != nil {
		return errors.Wrapf(err, "saving package index %s", indexPath)
	}
	if err := writeMsgpack(packagesPath, &packagesFile{Version: FormatVersion, Packages: ix.packages}); err != nil {
		return errors.Wrapf(err, "saving package set %s", packagesPath)
	}
	return nil
}

func writeMsgpack(path string, v any) error {
	return fileutil.AtomicWrite(path, 0o644, func(w io.Writer) error {
		return msgpack.NewEncoder(w).Encode(v)
	})
}

// Load reads an index written by Save. It returns ErrIndexMissing if
// either file is absent and ErrIndexCorrupt if they cannot be decoded,
// carry another FormatVersion, or disagree on the package set.
func Load(indexPath, packagesPath string) (*Index, error) {
	var idx indexFile
	if err := readMsgpack(indexPath, &idx); err != nil {
		return nil, err
	}
	var pkgs packagesFile
	if err := readMsgpack(packagesPath, &pkgs); err != nil {
		return nil, err
	}

	for name, v := range map[string]int{indexPath: idx.Version, packagesPath: pkgs.Version} {
		if v != FormatVersion {
			return nil, errors.Mark(
				errors.Newf("%s has format version %d, want %d", name, v, FormatVersion),
				errors.ErrIndexCorrupt)
		}
	}

	ix := &Index{paths: idx.Paths, packages: pkgs.Packages}
	if ix.paths == nil {
		ix.paths = make(map[string][]Record)
	}
	if ix.packages == nil {
		ix.packages = make(map[string]bool)
	}

	if path, ok := ix.validate(); !ok {
		return nil, errors.Mark(
			errors.Newf("index entry %s names a package missing from %s", path, packagesPath),
			errors.ErrIndexCorrupt)
	}

	return ix, nil
}

func readMsgpack(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Mark(errors.Wrapf(err, "opening %s", path), errors.ErrIndexMissing)
		}
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	if err := msgpack.NewDecoder(f).Decode(v); err != nil {
		return errors.Mark(errors.Wrapf(err, "decoding %s", path), errors.ErrIndexCorrupt)
	}
	return nil
}
