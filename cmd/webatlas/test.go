package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run the test ideas collected during exploration",
	Long: `Teleports a clean browser session to each node that owns test
ideas, drives every (input, expected) case, and appends a pass/fail
report per case.

With no ideas registered the run completes immediately with all
counters at zero.`,
	RunE: runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	eng, driver, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()
	defer driver.Shutdown()

	logger.Info("Starting testing run")
	summary, err := eng.StartTesting(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	if summary != nil {
		logger.Info("Testing finished",
			zap.Int("total", summary.TotalTests),
			zap.Int("passed", summary.Passed),
			zap.Int("failed", summary.Failed))
		fmt.Printf("Tests: %d total, %d passed, %d failed\n",
			summary.TotalTests, summary.Passed, summary.Failed)
	}
	return nil
}
