// Package cli provides the command-line interface for dataquality.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/dataquality/internal/app"
	"github.com/raphaelgruber/dataquality/internal/config"
	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/operators"
	"github.com/raphaelgruber/dataquality/internal/service"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	configPath string
	datasetID  string

	// Global config and dependencies
	cfg         config.Config
	deps        *app.App
	closeLogger func() error
)

var errNoDatabase = errors.New("this command needs a surrealdb connection")

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dataquality",
	Short: "Scan datasets for data quality issues",
	Long: `Dataquality scans image datasets for six kinds of quality issues:
brightness, blurriness, aspect ratio, entropy, near duplicates and exact
duplicates. Scans run in process or are delegated to a worker; results are
reviewed per issue against adjustable thresholds.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		path := configPath
		if path == "" {
			path = os.Getenv("DQ_CONFIG")
		}
		var err error
		cfg, err = config.LoadWithFile(path)
		if err != nil {
			return err
		}
		if datasetID != "" {
			cfg.DatasetID = datasetID
		}

		// Keep the terminal quiet unless asked; the log file gets everything.
		level := slog.LevelWarn
		if verbose {
			level = cfg.LogLevel
		}
		var logger *slog.Logger
		logger, closeLogger = config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)

		deps, err = app.Open(cmd.Context(), cfg, logger)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if deps != nil && verbose {
			printStats(cmd, deps.Metrics.Snapshot())
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	defer cleanup()
	return rootCmd.ExecuteContext(ctx)
}

// cleanup closes what PersistentPreRunE opened. It also runs when a command
// fails, which PersistentPostRun does not.
func cleanup() {
	if deps != nil {
		if err := deps.Close(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close backends: %v\n", err)
		}
		deps = nil
	}
	if closeLogger != nil {
		_ = closeLogger()
		closeLogger = nil
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $DQ_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&datasetID, "dataset", "d", "", "dataset id (default from config)")

	// Add subcommands
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkNewCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(thresholdCmd)
	rootCmd.AddCommand(duplicatesCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(importCmd)
}

// withEngine loads the engine of the selected dataset, runs fn and flushes
// the session afterwards.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *service.Engine) error) (err error) {
	ctx := cmd.Context()
	e, err := deps.Engine(ctx, cfg.DatasetID)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := e.Unload(context.WithoutCancel(ctx)); err == nil {
			err = uerr
		}
	}()
	if !e.Supported() {
		return fmt.Errorf("dataset %s: %w", e.Dataset().ID(), operators.ErrUnsupportedMedia)
	}
	return fn(ctx, e)
}

// openAnalysis opens the analysis screen of issue the way its home card
// would, recomputing when the card asks for it.
func openAnalysis(ctx context.Context, e *service.Engine, issue models.IssueType) error {
	target, err := e.NavigationTarget(ctx, issue)
	if err != nil {
		return err
	}
	return e.Navigate(ctx, issue, service.ScreenAnalysis, target.Recompute)
}

func issueArg(args []string) (models.IssueType, error) {
	if len(args) == 0 {
		return "", service.ErrIssueTypeRequired
	}
	return models.ParseIssueType(args[0])
}
