package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/visualtrans/internal/imagesource"
	"github.com/andresmejia3/visualtrans/internal/orchestrator"
	"github.com/andresmejia3/visualtrans/internal/remote"
	"github.com/andresmejia3/visualtrans/internal/report"
	"github.com/andresmejia3/visualtrans/internal/store"
	"github.com/andresmejia3/visualtrans/internal/types"
	"github.com/andresmejia3/visualtrans/internal/ui"
	"github.com/andresmejia3/visualtrans/internal/utils"
	"github.com/spf13/cobra"
)

// LocalizeOptions holds the flags of the localize command
type LocalizeOptions struct {
	Language    string
	JSONOut     string
	PreviewOut  string
	ShowSteps   bool
	SkipHistory bool
}

var localizeOpts LocalizeOptions

var localizeCmd = &cobra.Command{
	Use:   "localize <image>",
	Short: "Translate the text in a product image and verify it by back-translation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocalize(cmd.Context(), args[0], localizeOpts)
	},
}

func init() {
	localizeCmd.Flags().StringVarP(&localizeOpts.Language, "lang", "l", "", "Target language: Korean, English, Chinese, Japanese, Spanish, French (default from config)")
	localizeCmd.Flags().StringVar(&localizeOpts.JSONOut, "json", "", "Write the merged result as JSON to this file")
	localizeCmd.Flags().StringVar(&localizeOpts.PreviewOut, "save-preview", "", "Write the local preview image to this file")
	localizeCmd.Flags().BoolVar(&localizeOpts.ShowSteps, "steps", false, "Print the stage checklist when the run finishes")
	localizeCmd.Flags().BoolVar(&localizeOpts.SkipHistory, "no-history", false, "Do not record this run in the history database")
	rootCmd.AddCommand(localizeCmd)
}

func runLocalize(ctx context.Context, path string, opts LocalizeOptions) error {
	lang := Cfg.Language()
	if opts.Language != "" {
		l, err := types.ParseLanguage(opts.Language)
		if err != nil {
			return fail("Unsupported target language", err)
		}
		lang = l
	}

	in, err := imagesource.FromPath(path)
	if err != nil {
		return fail("Cannot read image", err)
	}

	var history *store.Store
	if !opts.SkipHistory {
		if history, err = openHistory(ctx, false); err != nil {
			return err
		}
	}
	orch, err := newOrchestrator(Cfg, history)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "🖼️  %s (%s) → %s\n", in.Name, utils.FormatFileSize(len(in.Data)), lang.Label())

	progress := ui.NewStageProgress(os.Stderr, orch.StageCount())
	unsubscribe := orch.Subscribe(progress.Update)
	result, err := orch.Process(ctx, in, lang)
	unsubscribe()
	progress.Stop()

	if err != nil {
		var invalid *imagesource.InvalidInputError
		switch {
		case errors.As(err, &invalid):
			return fail("Cannot use image", err)
		case errors.Is(err, context.Canceled):
			return fail("Localization cancelled", err)
		}
		if opts.ShowSteps {
			fmt.Fprint(os.Stderr, ui.StepIndicator(orch.Snapshot().Stage))
		}
		return fail("Localization failed", errors.New(remote.Message(err)))
	}

	if opts.ShowSteps {
		fmt.Fprint(os.Stderr, ui.StepIndicator(types.StageIndex(orch.StageCount())))
	}
	if err := report.Render(os.Stdout, report.Build(result)); err != nil {
		return fail("Failed to render report", err)
	}

	if opts.JSONOut != "" {
		if err := writeResultJSON(opts.JSONOut, result); err != nil {
			return fail("Failed to write JSON result", err)
		}
		fmt.Fprintf(os.Stderr, "💾 Result saved to %s\n", opts.JSONOut)
	}
	if opts.PreviewOut != "" {
		if err := writePreview(opts.PreviewOut, result.Preview); err != nil {
			return fail("Failed to write preview", err)
		}
		fmt.Fprintf(os.Stderr, "💾 Preview saved to %s\n", opts.PreviewOut)
	}

	fmt.Fprintf(os.Stderr, "✨ Run %s complete.\n", result.RunID)
	return nil
}

func writeResultJSON(path string, result *types.MergedResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

func writePreview(path string, preview types.PreviewHandle) error {
	_, data, err := imagesource.DecodeDataURI(preview.DataURI)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

var _ orchestrator.Recorder = (*store.Store)(nil)
