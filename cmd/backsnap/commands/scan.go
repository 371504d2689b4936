package commands

import (
	"bufio"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/thoreinstein/backsnap/internal/snapshot"
)

var (
	scanMTimeOnly bool
	scanReindex   bool
	scanNoSave    bool
	scanPrint0    bool
)

func init() {
	scanCmd.Flags().BoolVar(&scanMTimeOnly, "mtimeonly", false,
		"compare package files by modification time instead of checksum")
	scanCmd.Flags().BoolVar(&scanReindex, "reindex", false,
		"rebuild the package index before scanning")
	scanCmd.Flags().BoolVarP(&scanNoSave, "dry-run", "n", false,
		"do not save a rebuilt index")
	scanCmd.Flags().BoolVarP(&scanPrint0, "print0", "0", false,
		"separate paths with NUL instead of newline")
	rootCmd.AddCommand(scanCmd)
}

var scanCmd = &cobra.Command{
	Use:   "scan <dest> <src>...",
	Short: "Print the files a run would copy",
	Long: `Classify the sources the way a run against <dest> would and print the
files that would be copied, one per line, followed by a total on stderr.
Files owned by a package and unchanged since it was installed are left
out, as are excluded paths. Nothing is copied and the counter is not
touched.`,
	Example: `  # What differs from the installed packages?
  backsnap scan /mnt/backup /etc

  # Feed the list to another tool
  backsnap scan -0 /mnt/backup / | xargs -0 ls -l`,
	Args: cobra.MinimumNArgs(2),
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	req := snapshot.Request{
		Dest:      args[0],
		Sources:   args[1:],
		StateDir:  stateDir,
		RootDir:   rootDir,
		DryRun:    scanNoSave,
		MTimeOnly: scanMTimeOnly,
		Reindex:   scanReindex,
	}

	res, _, err := newRunner(cmd).Scan(cmd.Context(), req)
	if err != nil {
		return err
	}

	sep := byte('\n')
	if scanPrint0 {
		sep = 0
	}
	bw := bufio.NewWriter(cmd.OutOrStdout())
	for _, p := range res.Paths {
		bw.WriteString(p)
		bw.WriteByte(sep)
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	if !quiet {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s files, %s (%s scanned, %s unchanged or excluded)\n",
			humanize.Comma(int64(len(res.Paths))),
			humanize.Bytes(uint64(max(res.TotalBytes, 0))),
			humanize.Comma(int64(res.Scanned)),
			humanize.Comma(int64(res.Skipped)))
	}
	printFileWarnings(cmd.ErrOrStderr(), res.Warnings)
	printUnreadableDirs(cmd.ErrOrStderr(), res.Unreadable)
	return nil
}
