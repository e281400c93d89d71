// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jonathan/tender-monitor/internal/discovery"
	"github.com/jonathan/tender-monitor/internal/reconcile"
	"github.com/jonathan/tender-monitor/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
	dayLayout      = "2006-01-02"
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(title, boxWidth-4))
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintDiscoveryReport outputs the counts of one discovered day.
func (p *Printer) PrintDiscoveryReport(report *discovery.Report) {
	if report == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Listed:    %d\n", report.Listed))
	sb.WriteString(fmt.Sprintf("Matched:   %d\n", report.Matched))
	sb.WriteString(fmt.Sprintf("Updated:   %d\n", report.Updated))
	sb.WriteString(fmt.Sprintf("No match:  %d\n", report.NoMatch))
	sb.WriteString(fmt.Sprintf("Failed:    %d", report.Failed))
	if report.Partial {
		sb.WriteString("\n\n! listing incomplete, day will be retried")
	}

	p.printBox("DISCOVERY "+report.Day.Format(dayLayout), sb.String())
}

// PrintReconcileReport outputs the counts of a reconciliation pass.
func (p *Printer) PrintReconcileReport(report *reconcile.Report) {
	if report == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Candidates: %d\n", report.Candidates))
	sb.WriteString(fmt.Sprintf("Refreshed:  %d (%d changed)\n", report.Refreshed, report.Changed))
	sb.WriteString(fmt.Sprintf("Unchanged:  %d\n", report.Unchanged))
	sb.WriteString(fmt.Sprintf("Failed:     %d\n", report.Failed))
	sb.WriteString(fmt.Sprintf("Corrected:  %d", report.Corrected))

	p.printBox("RECONCILIATION", sb.String())
}

// PrintBacklog outputs the next day to discover and whether it is already due.
func (p *Printer) PrintBacklog(next time.Time, backlog bool) {
	status := "caught up"
	if backlog {
		status = "more days pending"
	}
	p.printBox("CHECKPOINT", fmt.Sprintf("Next day: %s\nStatus:   %s", next.Format(dayLayout), status))
}

// PrintStoreSummary outputs record and item counts per situation, followed by
// the records with the most items.
func (p *Printer) PrintStoreSummary(records []types.TenderRecord) {
	var sb strings.Builder

	bySituation := make(map[string]int)
	items := 0
	for _, rec := range records {
		for _, item := range rec.Items {
			label := string(item.Situation)
			if label == "" {
				label = string(types.SituationOpen)
			}
			bySituation[label]++
			items++
		}
	}

	sb.WriteString(fmt.Sprintf("Records: %d\n", len(records)))
	sb.WriteString(fmt.Sprintf("Items:   %d\n", items))

	if len(bySituation) > 0 {
		labels := make([]string, 0, len(bySituation))
		for label := range bySituation {
			labels = append(labels, label)
		}
		sort.Strings(labels)

		sb.WriteString("\nBy situation:\n")
		for _, label := range labels {
			sb.WriteString(fmt.Sprintf("  • %-14s %d\n", label, bySituation[label]))
		}
	}

	if len(records) > 0 {
		ranked := make([]types.TenderRecord, len(records))
		copy(ranked, records)
		sort.SliceStable(ranked, func(i, j int) bool {
			return len(ranked[i].Items) > len(ranked[j].Items)
		})

		sb.WriteString("\nLargest:\n")
		count := min(len(ranked), maxItemsToShow)
		for i := 0; i < count; i++ {
			rec := ranked[i]
			sb.WriteString(fmt.Sprintf("  %s (%d items)\n", rec.ID, len(rec.Items)))
			if rec.Object != "" {
				sb.WriteString(fmt.Sprintf("    %s\n", truncate(rec.Object, 45)))
			}
		}
		if len(ranked) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more records\n", len(ranked)-maxItemsToShow))
		}
	}

	p.printBox("TENDER STORE", strings.TrimSuffix(sb.String(), "\n"))
}
