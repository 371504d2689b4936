package commands

import (
	"github.com/spf13/cobra"

	"github.com/thoreinstein/backsnap/internal/editor"
	"github.com/thoreinstein/backsnap/internal/errors"
)

func init() {
	rootCmd.AddCommand(editCmd)
}

var editCmd = &cobra.Command{
	Use:   "edit <dest> [config|excludes]",
	Short: "Edit the config or exclude list of a destination",
	Long: `Open the destination config (default) or exclude list in $EDITOR, then
check that a run would accept the result.`,
	Example: `  backsnap edit /mnt/backup
  EDITOR="code --wait" backsnap edit /mnt/backup excludes`,
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"config", "excludes"},
	RunE:      runEdit,
}

func runEdit(cmd *cobra.Command, args []string) error {
	r := newRunner(cmd)
	layout, err := r.Layout(args[0], stateDir)
	if err != nil {
		return err
	}

	path := layout.ConfigFile()
	if len(args) == 2 {
		switch args[1] {
		case "config":
		case "excludes":
			path = layout.ExcludesFile()
		default:
			return errors.NewUserError(errors.Newf("unknown file %q", args[1]), "Choose config or excludes")
		}
	}

	if err := editor.Open(cmd.Context(), path, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
		return err
	}
	if err := r.Validate(cmd.Context(), args[0], stateDir); err != nil {
		return errors.NewUserError(err, "Run: backsnap edit "+args[0]+" to fix it")
	}
	if !quiet {
		successColor.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
	}
	return nil
}
