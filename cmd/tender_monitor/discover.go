package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/tender-monitor/internal/checkpoint"
	"github.com/jonathan/tender-monitor/internal/observability"
	"github.com/jonathan/tender-monitor/internal/pipeline"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover tenders published on the next checkpoint day",
	Long: "Lists the tenders published on the day after the checkpoint, keeps the ones with items matching " +
		"the keyword taxonomy, persists the store, advances the checkpoint and emits more_backlog.",
	RunE: runDiscover,
}

var discoverMaxDays int

func init() {
	discoverCmd.Flags().IntVar(&discoverMaxDays, "max-days", 0, "Maximum days to discover in this run (overrides config)")

	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	if discoverMaxDays > 0 {
		s.cfg.MaxDays = discoverMaxDays
	}

	opts := pipeline.Options{
		Config:   s.cfg,
		Taxonomy: s.taxonomy,
		Logger:   s.log,
	}
	if s.cfg.Verbose {
		opts.Printer = observability.NewPrinter(cmd.OutOrStdout())
	}

	summary, err := pipeline.RunDiscovery(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(),
		"discovered %d day(s): listed=%d matched=%d updated=%d failed=%d records=%d next=%s more_backlog=%t\n",
		len(summary.Days), summary.Listed, summary.Matched, summary.Updated, summary.Failed,
		summary.Records, summary.Next.Format(checkpoint.Layout), summary.Backlog)
	return nil
}
