// Package snapshot runs one backup against a destination.
//
// A run locks the destination's state directory, loads its config and
// exclude list, asks the rotation schedule which level to write and which
// to hardlink against, optionally scans the sources for files that differ
// from what the package manager installed, and hands the result to rsync.
// The counter advances only after rsync succeeds. Every check that can
// fail runs before the level directory is touched.
//
// The same Runner serves the read-only queries behind the CLI: the next
// plan, the existing levels, a scan without copying, and index upkeep.
package snapshot
