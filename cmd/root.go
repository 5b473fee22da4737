package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/visualtrans/internal/config"
	"github.com/andresmejia3/visualtrans/internal/imagesource"
	"github.com/andresmejia3/visualtrans/internal/logging"
	"github.com/andresmejia3/visualtrans/internal/orchestrator"
	"github.com/andresmejia3/visualtrans/internal/remote"
	"github.com/andresmejia3/visualtrans/internal/stages"
	"github.com/andresmejia3/visualtrans/internal/store"
	"github.com/andresmejia3/visualtrans/internal/utils"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Cfg is the resolved configuration shared by subcommands
	Cfg *config.Config
	// History is the run history store, nil until a subcommand opens it
	History *store.Store

	configPath string
	apiURL     string
	dbURL      string
	logLevel   string
	logFormat  string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "visualtrans",
	Short:         "Product image localization with back-translation checks",
	Version:       Version, // This enables the --version flag
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return fail("Failed to load configuration", err)
		}

		flags := cmd.Flags()
		if flags.Changed("api-url") {
			c.Service.URL = apiURL
		}
		if flags.Changed("db") {
			c.Database.URL = dbURL
		}
		if flags.Changed("log-level") {
			c.Log.Level = logLevel
		}
		if flags.Changed("log-format") {
			c.Log.Format = logFormat
		}

		if err := c.Validate(); err != nil {
			return fail("Invalid configuration", err)
		}
		if err := logging.Init(os.Stderr, c.Log.Level, c.Log.Format); err != nil {
			return fail("Failed to initialize logging", err)
		}
		Cfg = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if History != nil {
			History.Close()
			History = nil
		}
	},
}

// openHistory connects to the run history database. When required is false a
// missing or unreachable database only disables history.
func openHistory(ctx context.Context, required bool) (*store.Store, error) {
	if History != nil {
		return History, nil
	}
	if !Cfg.HistoryEnabled() {
		if required {
			return nil, fail("Run history is disabled", errors.New("set --db, VISUALTRANS_DATABASE_URL or POSTGRES_HOST"))
		}
		return nil, nil
	}

	s, err := store.New(ctx, Cfg.Database.URL)
	if err != nil {
		if required {
			return nil, fail("Failed to connect to database", err)
		}
		log.Warn().Err(err).Msg("Run history unavailable, continuing without it")
		fmt.Fprintf(os.Stderr, "⚠️  Run history unavailable: %v\n", err)
		return nil, nil
	}
	History = s
	return s, nil
}

// newOrchestrator wires the remote client, stage narrative and optional history.
func newOrchestrator(c *config.Config, history *store.Store) (*orchestrator.Orchestrator, error) {
	client, err := remote.NewClient(c.Service.URL, c.Service.UserAgent+"/"+Version)
	if err != nil {
		return nil, fail("Invalid service URL", err)
	}

	opts := []orchestrator.Option{
		orchestrator.WithCapturer(imagesource.New(c.Pipeline.PreviewDimension)),
	}
	if history != nil {
		opts = append(opts, orchestrator.WithRecorder(history))
	}
	return orchestrator.New(client, stages.New(c.Pipeline.MinPause, c.Pipeline.MaxPause), opts...), nil
}

// commandError carries the headline shown in the error box.
type commandError struct {
	context string
	err     error
}

func (e *commandError) Error() string { return e.context + ": " + e.err.Error() }
func (e *commandError) Unwrap() error { return e.err }

func fail(context string, err error) error {
	return &commandError{context: context, err: err}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// PersistentPostRun is skipped when a command fails.
		if History != nil {
			History.Close()
		}
		stop()
		var ce *commandError
		if errors.As(err, &ce) {
			utils.Die(ce.context, ce.err)
		}
		utils.Die("Command failed", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Localization service URL (default: http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for run history")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json (default: console)")
}
