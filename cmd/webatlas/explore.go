package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"webatlas/internal/browser"
	"webatlas/internal/config"
	"webatlas/internal/engine"
	"webatlas/internal/reasoning"
)

var (
	maxDepth int
	maxNodes int
)

var exploreCmd = &cobra.Command{
	Use:   "explore [start-url]",
	Short: "Explore a web application from a start URL",
	Long: `Explores the application breadth-by-priority: each page is
fingerprinted and persisted, the reasoner proposes interactions, and
every meaningful transition becomes a replayable edge.

The run ends when the task frontier drains or a bound is hit. Progress
is persisted continuously, so an interrupted run resumes where it left
off.

Example:
  webatlas explore https://app.example.com --max-depth 5 --max-nodes 50`,
	Args: cobra.ExactArgs(1),
	RunE: runExplore,
}

func init() {
	exploreCmd.Flags().IntVar(&maxDepth, "max-depth", 0, "depth bound per branch (0 = config value)")
	exploreCmd.Flags().IntVar(&maxNodes, "max-nodes", 0, "total node budget (0 = config value)")
}

// signalContext returns a context canceled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()
	return ctx, cancel
}

// buildEngine wires a live engine: real browser, real reasoner.
func buildEngine(ctx context.Context) (*engine.Engine, *browser.RodDriver, error) {
	if cfg.Browser.ScreenshotDir == "" {
		cfg.Browser.ScreenshotDir = cfg.Storage.ScreenshotDir
	}
	driver := browser.NewRodDriver(cfg.Browser)
	if err := driver.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}

	reasoner, err := reasoning.NewGenAIReasoner(ctx, cfg.Reasoner)
	if err != nil {
		driver.Shutdown()
		return nil, nil, err
	}

	eng, err := engine.New(cfg, driver, reasoner)
	if err != nil {
		driver.Shutdown()
		return nil, nil, err
	}
	return eng, driver, nil
}

func runExplore(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	eng, driver, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()
	defer driver.Shutdown()

	// Hot-reload logging settings while the run is going.
	watcher, err := config.NewWatcher(configFile(), nil)
	if err == nil {
		if err := watcher.Start(ctx); err == nil {
			defer watcher.Stop()
		}
	}

	startURL := args[0]
	logger.Info("Starting exploration",
		zap.String("start_url", startURL),
		zap.Int("max_depth", maxDepth),
		zap.Int("max_nodes", maxNodes))

	summary, err := eng.StartExploration(ctx, startURL, maxDepth, maxNodes)
	if summary != nil {
		fmt.Printf("Exploration finished: %d nodes, %d edges, max depth %d\n",
			summary.TotalNodes, summary.TotalEdges, summary.MaxDepthReached)
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func configFile() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}
