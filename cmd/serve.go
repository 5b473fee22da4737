package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/visualtrans/internal/server"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the upload API: drop an image, poll the stage and the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if cmd.Flags().Changed("addr") {
			Cfg.Server.Addr = serveAddr
		}

		history, err := openHistory(ctx, false)
		if err != nil {
			return err
		}
		orch, err := newOrchestrator(Cfg, history)
		if err != nil {
			return err
		}

		// A nil *store.Store must not become a non-nil interface.
		var h server.History
		if history != nil {
			h = history
		}

		fmt.Fprintf(os.Stderr, "🌐 VisualTrans API on %s → service %s\n", Cfg.Server.Addr, Cfg.Service.URL)
		if err := server.New(ctx, orch, h, Cfg.Server.MaxUploadBytes).ListenAndServe(ctx, Cfg.Server); err != nil {
			return fail("Server failed", err)
		}
		fmt.Fprintln(os.Stderr, "👋 Server stopped.")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default :8080)")
	rootCmd.AddCommand(serveCmd)
}
