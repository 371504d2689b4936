package detect

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
)

// Checksummer computes the digest a manifest records for a regular file.
type Checksummer interface {
	Sum(path string) (string, error)
}

// MD5 hashes files with MD5, the digest in Portage CONTENTS files.
type MD5 struct{}

// Sum returns the lowercase hex MD5 of the file at path.
func (MD5) Sum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
