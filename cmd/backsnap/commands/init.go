package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initForce bool

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false,
		"overwrite an existing config and exclude list")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <dest>",
	Short: "Prepare a backup destination",
	Long: `Create the state directory of a destination (<dest>/.backsnap, or the
directory given with --state-dir) holding the default config and exclude
list. Existing files are kept unless --force is given.

For a remote destination the state directory must be local, so
--state-dir is required.`,
	Example: `  # Prepare a local destination
  backsnap init /mnt/backup

  # Prepare a remote destination with local state
  backsnap init --state-dir /var/lib/backsnap/pluto pluto:/backups`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	layout, written, err := newRunner(cmd).Init(cmd.Context(), args[0], stateDir, initForce)
	if err != nil {
		return err
	}
	if quiet {
		return nil
	}

	w := cmd.OutOrStdout()
	successColor.Fprintf(w, "Initialized %s\n", layout.StateDir)
	for _, f := range written {
		fmt.Fprintf(w, "  wrote %s\n", f)
	}
	if len(written) == 0 {
		fmt.Fprintln(w, dimColor.Sprint("  existing files kept (use --force to overwrite)"))
	}
	return nil
}
