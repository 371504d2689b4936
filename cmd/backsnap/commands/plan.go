package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thoreinstein/backsnap/internal/paths"
)

func init() {
	rootCmd.AddCommand(planCmd)
}

var planCmd = &cobra.Command{
	Use:   "plan <dest>",
	Short: "Show which level the next run writes",
	Long: `Show the counter, the level the next run against <dest> would write,
the level it would hardlink unchanged files from, and the levels of the
runs after it.`,
	Example: `  backsnap plan /mnt/backup`,
	Args:    cobra.ExactArgs(1),
	RunE:    runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	info, err := newRunner(cmd).Plan(cmd.Context(), args[0], stateDir)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "counter:    %d\n", info.Counter)
	fmt.Fprintf(w, "level:      %s (%s)\n", paths.LevelDirName(info.Plan.Level), info.LevelDir)
	if info.Plan.HasReference() {
		fmt.Fprintf(w, "reference:  %s (%s, written at counter %d)\n",
			paths.LevelDirName(info.Plan.Reference), info.Reference, info.Plan.ReferenceCounter)
	} else {
		fmt.Fprintf(w, "reference:  %s\n", dimColor.Sprint("none (full copy)"))
	}
	fmt.Fprintf(w, "max levels: %d\n", info.Plan.MaxLevels)

	upcoming := make([]string, len(info.Upcoming))
	for i, l := range info.Upcoming {
		upcoming[i] = strconv.Itoa(l)
	}
	fmt.Fprintf(w, "upcoming:   %s\n", strings.Join(upcoming, " "))
	return nil
}
