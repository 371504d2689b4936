package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/thoreinstein/backsnap/internal/pkgindex"
)

func init() {
	indexCmd.AddCommand(indexRebuildCmd, indexStatsCmd, indexPackagesCmd)
	rootCmd.AddCommand(indexCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the package content index",
	Long: `The package content index maps every path installed by Portage to the
packages that claim it, with the checksum and mtime recorded at install
time. It is built from the CONTENTS manifests below the package database
(PKGDB in the destination config, /var/db/pkg by default) and stored in
the destination's state directory.`,
}

var indexRebuildCmd = &cobra.Command{
	Use:     "rebuild <dest>",
	Short:   "Rebuild the package index from the package database",
	Example: `  backsnap index rebuild --rootdir /mnt/gentoo /mnt/backup`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := newRunner(cmd).RebuildIndex(cmd.Context(), args[0], stateDir, rootDir)
		if err != nil {
			return err
		}
		if quiet {
			return nil
		}
		w := cmd.OutOrStdout()
		successColor.Fprintf(w, "Rebuilt %s\n", info.IndexFile)
		printIndexStats(w, info.Stats)
		if b := info.Build; b != nil {
			fmt.Fprintf(w, "  manifests: %d (%d lines)\n", b.Manifests, b.Lines)
			if b.Skipped() > 0 {
				warnColor.Fprintf(w, "  skipped:   %d malformed lines, %d unreadable manifests\n", b.Malformed, b.Unreadable)
			}
		}
		return nil
	},
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats <dest>",
	Short: "Show the size of the saved package index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, info, err := newRunner(cmd).LoadIndex(cmd.Context(), args[0], stateDir)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "index:     %s\n", info.IndexFile)
		printIndexStats(w, info.Stats)
		return nil
	},
}

var indexPackagesCmd = &cobra.Command{
	Use:   "packages <dest>",
	Short: "List the packages in the saved index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ix, _, err := newRunner(cmd).LoadIndex(cmd.Context(), args[0], stateDir)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, p := range ix.Packages() {
			fmt.Fprintln(w, p)
		}
		return nil
	},
}

func printIndexStats(w io.Writer, s pkgindex.Stats) {
	fmt.Fprintf(w, "  packages:  %d\n", s.Packages)
	fmt.Fprintf(w, "  paths:     %d\n", s.Paths)
	fmt.Fprintf(w, "  records:   %d\n", s.Records)
}
