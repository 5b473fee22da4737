package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/visualtrans/internal/report"
	"github.com/andresmejia3/visualtrans/internal/types"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the report of a recorded run (a unique ID prefix is enough)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openHistory(cmd.Context(), true)
		if err != nil {
			return err
		}
		rec, err := s.GetRun(cmd.Context(), args[0])
		if err != nil {
			return fail(fmt.Sprintf("Cannot show run %q", args[0]), err)
		}
		return printRun(os.Stdout, *rec)
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func printRun(w io.Writer, rec types.RunRecord) error {
	fmt.Fprintf(w, "Run:       %s\n", rec.RunID)
	fmt.Fprintf(w, "Image:     %s (%s)\n", rec.ImageName, rec.MediaType)
	fmt.Fprintf(w, "SHA-256:   %s\n", rec.Fingerprint)
	fmt.Fprintf(w, "Language:  %s\n", rec.Language.Label())
	fmt.Fprintf(w, "Finished:  %s (%s)\n", rec.FinishedAt.Local().Format("2006-01-02 15:04:05"), rec.FinishedAt.Sub(rec.StartedAt).Round(1e6))

	if rec.Status == types.RunFailed {
		fmt.Fprintf(w, "Status:    ❌ failed: %s\n", rec.ErrorMessage)
		return nil
	}
	if rec.Report == nil {
		fmt.Fprintln(w, "Status:    succeeded (no report stored)")
		return nil
	}
	return report.Render(w, report.Build(&types.MergedResult{
		RunID:     rec.RunID,
		Language:  rec.Language,
		ImageName: rec.ImageName,
		Report:    *rec.Report,
	}))
}
