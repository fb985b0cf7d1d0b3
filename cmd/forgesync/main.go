package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/forgesync/forgesync/internal/config"
	"github.com/forgesync/forgesync/internal/logging"
	"github.com/forgesync/forgesync/internal/storage"
)

var (
	flagConfig string
	flagDB     string
	flagDebug  bool

	cfg    config.Config
	logger *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "forgesync",
	Short: "Mirror issues, dependencies and commits from a Git forge into a local database",
	Long: `forgesync continuously reconciles issues, pull requests, sub-issue
hierarchies, blocking dependencies and commits from a Git hosting provider
into a local SQLite database.

Two channels feed the database: webhook deltas received by "forgesync serve"
and scheduled bulk sync runs ("forgesync sync"). Both are idempotent, so
out-of-order and duplicate delivery between the channels is harmless.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagDB != "" {
			cfg.DBPath = flagDB
		}
		if flagDebug {
			cfg.LogLevel = "debug"
		}
		logger = logging.New(cfg.LogLevel, cfg.LogFile)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "forgesync.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
}

// openStore opens the configured database.
func openStore(cmd *cobra.Command) (storage.Store, error) {
	store, err := storage.NewStore(cmd.Context(), &storage.Config{Path: cfg.DBPath})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.DBPath, err)
	}
	return store, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
