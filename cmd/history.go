package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/visualtrans/internal/report"
	"github.com/andresmejia3/visualtrans/internal/types"
	"github.com/andresmejia3/visualtrans/internal/utils"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent localization runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openHistory(cmd.Context(), true)
		if err != nil {
			return err
		}
		runs, err := s.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return fail("Failed to list runs", err)
		}
		printHistory(os.Stdout, runs)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to show")
	rootCmd.AddCommand(historyCmd)
}

func printHistory(out io.Writer, runs []types.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded yet.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN\tIMAGE\tLANGUAGE\tSTATUS\tRESULT\tFINISHED")
	fmt.Fprintln(w, "---\t-----\t--------\t------\t------\t--------")

	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(r.RunID),
			utils.Truncate(r.ImageName, 28),
			r.Language,
			r.Status,
			outcome(r),
			r.FinishedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	w.Flush()
}

// outcome summarises a run in one cell: verdict and score, or the failure message.
func outcome(r types.RunRecord) string {
	if r.Status == types.RunFailed {
		return utils.Truncate(r.ErrorMessage, 40)
	}
	v := report.Build(&types.MergedResult{Report: reportOrEmpty(r.Report)})
	switch {
	case v.Verdict != "" && v.HasScore:
		return fmt.Sprintf("%s %d%%", v.Verdict, v.Percent)
	case v.Verdict != "":
		return string(v.Verdict)
	case v.HasScore:
		return fmt.Sprintf("%d%%", v.Percent)
	default:
		return "-"
	}
}

func reportOrEmpty(r *types.EvaluationReport) types.EvaluationReport {
	if r == nil {
		return types.EvaluationReport{}
	}
	return *r
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
