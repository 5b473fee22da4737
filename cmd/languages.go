package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/visualtrans/internal/types"
	"github.com/spf13/cobra"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List supported target languages",
	Run: func(cmd *cobra.Command, args []string) {
		printLanguages(os.Stdout, Cfg.Language())
	},
}

func init() {
	rootCmd.AddCommand(languagesCmd)
}

func printLanguages(out io.Writer, selected types.TargetLanguage) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CODE\tLABEL\t")
	fmt.Fprintln(w, "----\t-----\t")
	for _, l := range types.Languages {
		mark := ""
		if l == selected {
			mark = "(default)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", l, l.Label(), mark)
	}
	w.Flush()
}
