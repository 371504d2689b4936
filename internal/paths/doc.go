// Package paths defines where backsnap keeps things.
//
// Everything backsnap needs between runs lives at the destination, in a
// state directory next to the level directories:
//
//	<dest>/.backsnap/config         destination options (KEY=VALUE)
//	<dest>/.backsnap/excludes       exclude globs, one per line
//	<dest>/.backsnap/count          invocation counter
//	<dest>/.backsnap/index          persisted package content index
//	<dest>/.backsnap/packages       package set of the index
//	<dest>/.backsnap/lock           run lock
//	<dest>/.backsnap/last-run.yaml  report of the last successful run
//	<dest>/LEVEL0 ... LEVEL<n-1>    snapshots
//
// Sources and destinations may be remote, written as host:path the way
// rsync and scp accept them. [ParseLocation] recognizes that form.
//
// User-wide defaults are read from the XDG config directory
// (see [UserConfigFile]), resolved with github.com/adrg/xdg.
package paths
