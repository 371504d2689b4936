// Package fileutil provides file system utilities including atomic write operations.
package fileutil

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"gopkg.in/yaml.v3"

	"github.com/thoreinstein/backsnap/internal/errors"
)

// AtomicWrite streams the output of write into path atomically: the data
// goes to a pending temp file in the same directory which replaces path
// only after write returns nil and the data has been flushed. On any error
// the original file is left untouched and the temp file is removed.
//
// The caller is responsible for ensuring the parent directory exists.
func AtomicWrite(path string, perm os.FileMode, write func(w io.Writer) error) error {
	pending, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer pending.Cleanup()

	if err := pending.Chmod(perm); err != nil {
		return errors.Wrap(err, "setting file permissions")
	}

	bw := bufio.NewWriter(pending)
	if err := write(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "writing temp file")
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return errors.Wrap(err, "replacing file")
	}
	return nil
}

// AtomicWriteFile writes data to a file atomically.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return AtomicWrite(path, perm, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(data))
		return errors.Wrap(err, "writing temp file")
	})
}

// AtomicWriteYAMLWithPerm writes v as YAML to path atomically with specified permissions.
func AtomicWriteYAMLWithPerm(path string, v any, perm os.FileMode) (err error) {
	// yaml.Marshal panics on unmarshalable types; recover and return error
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("marshaling YAML: %v", r)
		}
	}()

	data, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshaling YAML")
	}

	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}

	return AtomicWriteFile(path, data, perm)
}

// AtomicWriteYAML writes v as YAML to path atomically with 0644 permissions.
func AtomicWriteYAML(path string, v any) error {
	return AtomicWriteYAMLWithPerm(path, v, 0o644)
}
