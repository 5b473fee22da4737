package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop the run history tables",
	Long:  "Clears all recorded runs. The schema is recreated on the next connection.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openHistory(cmd.Context(), true)
		if err != nil {
			return err
		}

		if !resetYes && !confirm(bufio.NewReader(os.Stdin), os.Stdout, "⚠️  Are you sure you want to DROP all run history?") {
			fmt.Println("Aborted.")
			return nil
		}

		fmt.Println("🗑️  Clearing run history...")
		if err := s.Reset(cmd.Context()); err != nil {
			return fail("Failed to reset database", err)
		}
		fmt.Println("✨ Reset complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
