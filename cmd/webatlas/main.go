package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"webatlas/internal/config"
	"webatlas/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	apiKey     string

	// Loaded configuration
	cfg *config.Config

	// Logger for CLI-facing output; category file logs are separate.
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "webatlas",
	Short: "webatlas - autonomous web application state explorer",
	Long: `webatlas drives a real browser through a web application, persisting
every distinct page state as a node in a graph and every meaningful
transition as a replayable edge.

The resulting atlas supports teleporting a fresh session to any
discovered state and running the test ideas collected along the way.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		if apiKey != "" {
			cfg.Reasoner.APIKey = apiKey
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return logging.Configure(cfg.Logging)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Gemini API key (overrides GEMINI_API_KEY)")

	rootCmd.AddCommand(exploreCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
