package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/thoreinstein/backsnap/internal/doctor"
	"github.com/thoreinstein/backsnap/internal/errors"
)

var (
	doctorJSON    bool
	doctorFix     bool
	doctorShowAll bool
)

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false,
		"output results as JSON")
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false,
		"repair fixable problems, then check again")
	doctorCmd.Flags().BoolVarP(&doctorShowAll, "all", "a", false,
		"show passed checks too")
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor <dest>",
	Short: "Diagnose problems with a destination",
	Long: `Run diagnostic checks against a destination: rsync and the nice/ionice
wrappers, free space, the state directory and its permissions, the config,
the exclude list, the counter, the lock, the package database and the
package index.

Exit codes:
  0 - All checks passed (no errors or warnings)
  1 - Warnings present, no errors
  2 - Errors present`,
	Example: `  backsnap doctor /mnt/backup
  backsnap doctor --fix /mnt/backup
  backsnap doctor --json --state-dir /var/lib/backsnap/pluto pluto:/backups`,
	Args: cobra.ExactArgs(1),
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	report, fixes, err := newRunner(cmd).Doctor(cmd.Context(), args[0], stateDir, rootDir, doctorFix)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch {
	case doctorJSON:
		if err := outputDoctorJSON(w, report, fixes); err != nil {
			return err
		}
	case !quiet:
		outputDoctorText(w, report, fixes)
	}

	if report.HasErrors() {
		return errors.NewExitError(errDoctorErrors, errors.ExitSystem)
	}
	if report.HasWarnings() {
		return errors.NewExitError(errDoctorWarnings, errors.ExitUser)
	}
	return nil
}

func outputDoctorJSON(w io.Writer, report *doctor.Report, fixes []doctor.FixResult) error {
	out := struct {
		*doctor.Report
		Fixes []doctor.FixResult `json:"fixes,omitempty"`
	}{report, fixes}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return errors.Wrap(err, "encoding JSON")
	}
	return nil
}

func outputDoctorText(w io.Writer, report *doctor.Report, fixes []doctor.FixResult) {
	for _, f := range fixes {
		if f.Fixed {
			successColor.Fprintf(w, "fixed %s: %s\n", f.Path, f.Description)
		} else {
			warnColor.Fprintf(w, "could not fix %s: %s\n", f.Path, f.Description)
		}
	}

	hasOutput := false
	for _, res := range report.Results {
		if !doctorShowAll && res.Status != doctor.SeverityError && res.Status != doctor.SeverityWarning {
			continue
		}

		hasOutput = true
		fmt.Fprintf(w, "%s [%s] %s: %s\n", statusIcon(res.Status), res.Category, res.Name, res.Message)
		if res.FixHint != "" && res.Status >= doctor.SeverityWarning {
			dimColor.Fprintf(w, "  hint: %s\n", res.FixHint)
		}
	}

	if hasOutput {
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Summary: %d passed, %d info, %d warnings, %d errors\n",
		report.Summary.Passed, report.Summary.Info, report.Summary.Warnings, report.Summary.Errors)
}

func statusIcon(s doctor.Severity) string {
	switch s {
	case doctor.SeverityPass:
		return successColor.Sprint("✓")
	case doctor.SeverityInfo:
		return "ℹ"
	case doctor.SeverityWarning:
		return warnColor.Sprint("⚠")
	case doctor.SeverityError:
		return errorColor.Sprint("✗")
	default:
		return "?"
	}
}

// errDoctorWarnings is a sentinel error for exit code 1.
var errDoctorWarnings = errors.New("doctor found warnings")

// errDoctorErrors is a sentinel error for exit code 2.
var errDoctorErrors = errors.New("doctor found errors")
