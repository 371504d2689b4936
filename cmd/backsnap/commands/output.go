package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/thoreinstein/backsnap/internal/detect"
	"github.com/thoreinstein/backsnap/internal/errors"
	"github.com/thoreinstein/backsnap/internal/paths"
	"github.com/thoreinstein/backsnap/internal/snapshot"
)

var (
	headerColor  = color.New(color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

// printSummary writes the human-readable outcome of a run.
func printSummary(w io.Writer, s *snapshot.Summary) {
	if s.DryRun {
		headerColor.Fprintf(w, "Dry run: would write %s\n", s.LevelDir)
	} else {
		successColor.Fprintf(w, "Snapshot written to %s\n", s.LevelDir)
	}

	fmt.Fprintf(w, "  counter:   %d\n", s.Counter)
	fmt.Fprintf(w, "  mode:      %s\n", s.Mode)
	if s.Reference != nil {
		fmt.Fprintf(w, "  reference: %s\n", paths.LevelDirName(*s.Reference))
	} else {
		fmt.Fprintf(w, "  reference: %s\n", dimColor.Sprint("none (full copy)"))
	}
	if s.Mode == snapshot.ModeScan {
		fmt.Fprintf(w, "  files:     %s (%s)\n", humanize.Comma(int64(s.Files)), humanize.Bytes(uint64(max(s.Bytes, 0))))
		fmt.Fprintf(w, "  unchanged: %s of %s scanned\n", humanize.Comma(int64(s.Skipped)), humanize.Comma(int64(s.Scanned)))
	}
	if s.Index != nil {
		fmt.Fprintf(w, "  reindexed: %d manifests, %d lines\n", s.Index.Manifests, s.Index.Lines)
	}
	if n := s.Warnings(); n > 0 {
		warnColor.Fprintf(w, "  warnings:  %d\n", n)
	}
	if n := len(s.UnreadableDirs); n > 0 {
		warnColor.Fprintf(w, "  skipped:   %d unreadable directories, not backed up\n", n)
	}
	fmt.Fprintf(w, "  elapsed:   %s\n", s.FinishedAt.Sub(s.StartedAt).Round(10*time.Millisecond))
}

// printFileWarnings lists files that were copied because they could not
// be inspected.
func printFileWarnings(w io.Writer, warnings []detect.FileRaceWarning) {
	for _, fw := range warnings {
		warnColor.Fprint(w, "warning: ")
		fmt.Fprintf(w, "%s (copied)\n", fw.Error())
	}
}

// printError writes err and its suggestion, if any.
// printUnreadableDirs lists directories left out of a snapshot because
// they could not be listed.
func printUnreadableDirs(w io.Writer, dirs []detect.FileRaceWarning) {
	for _, d := range dirs {
		warnColor.Fprint(w, "warning: ")
		fmt.Fprintf(w, "%s (not backed up)\n", d.Error())
	}
}

func printError(w io.Writer, err *errors.ExitError) {
	errorColor.Fprint(w, "Error: ")
	fmt.Fprintln(w, err.Error())
	if err.Suggestion != "" {
		dimColor.Fprintf(w, "  %s\n", err.Suggestion)
	}
}
