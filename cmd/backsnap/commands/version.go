package commands

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	build "github.com/thoreinstein/backsnap/cmd"
	"github.com/thoreinstein/backsnap/internal/paths"
	"github.com/thoreinstein/backsnap/internal/rsync"
)

// lookPath finds external tools for the version report. Tests replace it.
var lookPath = exec.LookPath

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Print the version, commit, and build date of backsnap, and where it finds rsync.`,
	Run: func(cmd *cobra.Command, _ []string) {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "backsnap version %s\n", build.Version)
		fmt.Fprintf(w, "  commit:    %s\n", build.Commit)
		fmt.Fprintf(w, "  built:     %s\n", build.Date)
		fmt.Fprintf(w, "  go:        %s\n", runtime.Version())
		fmt.Fprintf(w, "  config:    %s\n", paths.UserConfigFile())
		if p, err := lookPath(rsync.Binary); err == nil {
			fmt.Fprintf(w, "  rsync:     %s\n", p)
		} else {
			fmt.Fprintf(w, "  rsync:     %s\n", warnColor.Sprint("not found"))
		}
	},
}
