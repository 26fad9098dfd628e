package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"webatlas/internal/atlas"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted atlas state",
	Long: `Prints the aggregate counters of the persisted graph: nodes,
edges, maximum depth, the recorded root, and how much of the task
frontier is still unexplored.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := atlas.NewStore(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		return err
	}
	pending, err := store.TotalPending()
	if err != nil {
		return err
	}
	frontier, err := store.Frontier()
	if err != nil {
		return err
	}

	fmt.Printf("Atlas: %s\n", cfg.Storage.DatabasePath)
	fmt.Printf("  Nodes:     %d\n", stats.TotalNodes)
	fmt.Printf("  Edges:     %d\n", stats.TotalEdges)
	fmt.Printf("  Max depth: %d\n", stats.MaxDepth)
	fmt.Printf("  Pending:   %d tasks on %d nodes\n", pending, len(frontier))

	if rootID, rootURL, err := store.RootMeta(); err == nil && rootID != "" {
		fmt.Printf("  Root:      %s (%s)\n", rootID, rootURL)
	}

	bad, err := store.VerifyIndex()
	if err != nil {
		return err
	}
	if len(bad) > 0 {
		fmt.Printf("  Index:     INCONSISTENT (%d identities out of sync)\n", len(bad))
		return fmt.Errorf("graph index inconsistent: %v", bad)
	}
	fmt.Printf("  Index:     consistent\n")
	return nil
}
