// Package detect decides which files under a source tree must be copied.
//
// A file is skipped when it is excluded, when it is a directory, or when
// the package index shows it is an unmodified copy of something a package
// installed. Everything else is backed up. Any doubt, such as a file that
// vanishes or cannot be read mid-scan, resolves to backing it up.
//
// Paths are compared in their logical form: with a root directory of
// /mnt/sys, the on-disk file /mnt/sys/etc/fstab is looked up and matched
// against excludes as /etc/fstab.
package detect
