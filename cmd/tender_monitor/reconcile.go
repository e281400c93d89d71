package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/tender-monitor/internal/observability"
	"github.com/jonathan/tender-monitor/internal/pipeline"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Refresh stored tenders that still have open items",
	Long: "Re-fetches the items of every stored tender with open items, resolves award results " +
		"and persists the store. Fails if the store does not exist.",
	RunE: runReconcile,
}

var reconcileWorkers int

func init() {
	reconcileCmd.Flags().IntVar(&reconcileWorkers, "workers", 0, "Concurrent reconciliations (overrides config)")

	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	if reconcileWorkers > 0 {
		s.cfg.ReconcileWorkers = reconcileWorkers
	}

	opts := pipeline.Options{
		Config:   s.cfg,
		Taxonomy: s.taxonomy,
		Logger:   s.log,
	}
	if s.cfg.Verbose {
		opts.Printer = observability.NewPrinter(cmd.OutOrStdout())
	}

	summary, err := pipeline.RunReconcile(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(),
		"reconciled: candidates=%d refreshed=%d changed=%d unchanged=%d failed=%d corrected=%d\n",
		summary.Candidates, summary.Refreshed, summary.Changed, summary.Unchanged, summary.Failed, summary.Corrected)
	return nil
}
