// Package pkgindex builds and persists the index of files installed by
// the package manager.
//
// Portage records every installed package under /var/db/pkg/<category>/<name>/
// with a CONTENTS manifest listing what it installed:
//
//	dir /usr/share/doc/foo-1.0
//	obj /usr/bin/foo 5d41402abc4b2a76b9719d911017c592 1700000000
//	sym /usr/lib/libfoo.so -> libfoo.so.1 1700000000
//
// Build turns those manifests into an Index mapping each absolute path to
// the ordered list of packages that claim it. A path claimed by several
// packages keeps every claim.
package pkgindex
