package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/tender-monitor/internal/checkpoint"
	"github.com/jonathan/tender-monitor/internal/observability"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Show or set the next day to discover",
	Long:  "Prints the next day discovery will crawl and whether it is already due. With --set, moves the checkpoint.",
	RunE:  runCheckpoint,
}

var checkpointSet string

func init() {
	checkpointCmd.Flags().StringVar(&checkpointSet, "set", "", "Next day to discover, as YYYYMMDD")

	rootCmd.AddCommand(checkpointCmd)
}

func runCheckpoint(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	tracker := checkpoint.New(s.cfg.CheckpointPath, s.cfg.SeedDays, checkpoint.WithLogger(s.log))

	next := tracker.Load()
	if checkpointSet != "" {
		day, err := time.ParseInLocation(checkpoint.Layout, checkpointSet, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --set value %q: expected YYYYMMDD", checkpointSet)
		}
		if next, err = tracker.Advance(day.AddDate(0, 0, -1)); err != nil {
			return err
		}
		s.log.Info("checkpoint moved", "next", next.Format(checkpoint.Layout))
	}

	backlog := tracker.Backlog(next)
	if s.cfg.Verbose {
		observability.NewPrinter(cmd.OutOrStdout()).PrintBacklog(next, backlog)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "next=%s more_backlog=%t\n", next.Format(checkpoint.Layout), backlog)
	return nil
}
