package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ktr0731/go-fuzzyfinder"
	"github.com/spf13/cobra"

	"github.com/thoreinstein/backsnap/internal/errors"
	"github.com/thoreinstein/backsnap/internal/paths"
	"github.com/thoreinstein/backsnap/internal/snapshot"
)

var (
	levelsPick bool
	levelsJSON bool
)

// pickLevel chooses one level interactively. Tests replace it.
var pickLevel = fuzzyPickLevel

func init() {
	levelsCmd.Flags().BoolVar(&levelsPick, "pick", false,
		"choose a level interactively and print its path")
	levelsCmd.Flags().BoolVar(&levelsJSON, "json", false,
		"output in JSON format")
	rootCmd.AddCommand(levelsCmd)
}

var levelsCmd = &cobra.Command{
	Use:   "levels <dest>",
	Short: "List the level directories of a destination",
	Long: `List the level directories of a local destination, oldest first, with
the counter value that last wrote each according to the schedule.

With --pick, choose a level in a fuzzy finder and print its path, which
is handy for restoring:

  cd "$(backsnap levels --pick /mnt/backup)"`,
	Example: `  # List levels
  backsnap levels /mnt/backup

  # Output as JSON
  backsnap levels --json /mnt/backup`,
	Args: cobra.ExactArgs(1),
	RunE: runLevels,
}

// levelOutput represents a level in JSON output.
type levelOutput struct {
	Level       int       `json:"level"`
	Path        string    `json:"path"`
	ModTime     time.Time `json:"mod_time"`
	LastCounter *uint64   `json:"last_counter,omitempty"`
}

func runLevels(cmd *cobra.Command, args []string) error {
	if levelsPick && levelsJSON {
		return errors.NewUserError(errors.New("--pick and --json are mutually exclusive"), "")
	}

	levels, err := newRunner(cmd).Levels(cmd.Context(), args[0], stateDir)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch {
	case levelsPick:
		if len(levels) == 0 {
			return errors.NewUserError(errors.Newf("no levels at %s", args[0]), "Run a backup first")
		}
		idx, err := pickLevel(levels)
		if err != nil {
			if errors.Is(err, fuzzyfinder.ErrAbort) {
				return nil
			}
			return errors.Wrap(err, "picking level")
		}
		fmt.Fprintln(w, levels[idx].Path)
		return nil
	case levelsJSON:
		return outputLevelsJSON(w, levels)
	}

	if len(levels) == 0 {
		fmt.Fprintln(w, "No levels yet.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LEVEL\tMODIFIED\tCOUNTER\tPATH")
	for _, l := range levels {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			paths.LevelDirName(l.Level),
			humanize.Time(l.ModTime),
			lastCounter(l),
			l.Path)
	}
	return tw.Flush()
}

func lastCounter(l snapshot.LevelInfo) string {
	if !l.HasLastCounter {
		return "-"
	}
	return strconv.FormatUint(l.LastCounter, 10)
}

func outputLevelsJSON(w io.Writer, levels []snapshot.LevelInfo) error {
	out := make([]levelOutput, 0, len(levels))
	for _, l := range levels {
		o := levelOutput{Level: l.Level, Path: l.Path, ModTime: l.ModTime}
		if l.HasLastCounter {
			c := l.LastCounter
			o.LastCounter = &c
		}
		out = append(out, o)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func fuzzyPickLevel(levels []snapshot.LevelInfo) (int, error) {
	return fuzzyfinder.Find(
		levels,
		func(i int) string {
			return fmt.Sprintf("%s  %s", paths.LevelDirName(levels[i].Level), humanize.Time(levels[i].ModTime))
		},
		fuzzyfinder.WithPreviewWindow(func(i, _, _ int) string {
			if i == -1 {
				return ""
			}
			l := levels[i]
			return fmt.Sprintf("Level: %d\nPath: %s\nModified: %s\nCounter: %s",
				l.Level,
				l.Path,
				l.ModTime.Format(time.RFC3339),
				lastCounter(l),
			)
		}),
	)
}
