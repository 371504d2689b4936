// Package cmd holds the build metadata of the backsnap binary, injected
// via ldflags:
//
//	go build -ldflags "-X github.com/thoreinstein/backsnap/cmd.Version=1.2.0"
package cmd

import "fmt"

// Build-time variables set via ldflags.
var (
	// Version is the semantic version of the build.
	Version = "dev"
	// Commit is the git commit SHA of the build.
	Commit = "none"
	// Date is the build date.
	Date = "unknown"
)

// Short returns the version with an abbreviated commit, as recorded in
// run reports.
func Short() string {
	commit := Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s (%s)", Version, commit)
}
