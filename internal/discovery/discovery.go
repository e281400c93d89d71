// Package discovery ingests one calendar day of tenders from the registry,
// keeping only tenders with at least one keyword-matching line item.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/tender-monitor/internal/logger"
	"github.com/jonathan/tender-monitor/internal/registry"
	"github.com/jonathan/tender-monitor/internal/textnorm"
	"github.com/jonathan/tender-monitor/internal/types"
)

// DefaultWorkers bounds concurrent item fetches. Discovery issues a single
// request per tender, so it runs a wider pool than reconciliation.
const DefaultWorkers = 16

// Registry is the part of the registry client discovery uses.
type Registry interface {
	ListTenders(ctx context.Context, day time.Time) ([]registry.TenderSummary, error)
	ListItems(ctx context.Context, key types.TenderKey) ([]registry.Item, error)
	BrowseLink(key types.TenderKey) string
}

// Merger receives admitted records. Only the aggregating goroutine calls it.
type Merger interface {
	Merge(rec types.TenderRecord) bool
}

// Result is the outcome of one tender summary.
type Result struct {
	ID      string
	Outcome types.Outcome
	Record  *types.TenderRecord
	Err     error
}

// Report aggregates one day of discovery.
type Report struct {
	Day     time.Time
	Listed  int
	Matched int // tenders with at least one matching item
	Updated int // matched tenders that changed the store
	NoMatch int
	Failed  int
	// Partial is set when a list page after the first failed; later pages were not read.
	Partial bool
}

// Fetcher runs discovery against a registry.
type Fetcher struct {
	reg        Registry
	matcher    *textnorm.Matcher
	situations types.SituationTable
	workers    int
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher. workers <= 0 uses DefaultWorkers.
func NewFetcher(reg Registry, matcher *textnorm.Matcher, situations types.SituationTable, workers int, log *slog.Logger) *Fetcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if situations == nil {
		situations = types.DefaultSituationTable()
	}
	return &Fetcher{
		reg:        reg,
		matcher:    matcher,
		situations: situations,
		workers:    workers,
		logger:     logger.OrDiscard(log),
	}
}

// DiscoverDay lists tenders published on day, fetches each tender's items
// concurrently and merges every admitted record into sink.
// Records are merged in completion order. A failure of the first list page is
// returned as an error; per-tender failures are only counted.
func (f *Fetcher) DiscoverDay(ctx context.Context, day time.Time, sink Merger) (*Report, error) {
	report := &Report{Day: day}

	summaries, err := f.reg.ListTenders(ctx, day)
	if err != nil {
		var pageErr *registry.PageError
		if !errors.As(err, &pageErr) || pageErr.Page <= 1 {
			return nil, fmt.Errorf("failed to list tenders for %s: %w", day.Format(registry.DateLayout), err)
		}
		report.Partial = true
		f.logger.Warn("tender list incomplete", "day", day.Format(registry.DateLayout), "failed_page", pageErr.Page, "error", err)
	}
	report.Listed = len(summaries)

	results := make(chan Result)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	go func() {
		for _, s := range summaries {
			g.Go(func() error {
				results <- f.process(gctx, s)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	for res := range results {
		f.aggregate(report, res, sink)
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (f *Fetcher) aggregate(report *Report, res Result, sink Merger) {
	switch res.Outcome {
	case types.OutcomeUpdated:
		report.Matched++
		if sink.Merge(*res.Record) {
			report.Updated++
		}
		f.logger.Debug("tender admitted", "id", res.ID, "items", len(res.Record.Items), "outcome", res.Outcome)
	case types.OutcomeSkipped:
		report.Failed++
		f.logger.Warn("tender skipped", "id", res.ID, "outcome", res.Outcome, "error", res.Err)
	default:
		report.NoMatch++
	}
}

// process fetches and filters one tender. It never returns an error: failures
// become an OutcomeSkipped result for that tender alone.
func (f *Fetcher) process(ctx context.Context, s registry.TenderSummary) Result {
	key, err := types.NewTenderKey(s.Organization.CNPJ, int(s.Year), int(s.Sequence))
	if err != nil {
		return Result{ID: s.Organization.CNPJ, Outcome: types.OutcomeSkipped, Err: err}
	}
	id := key.ID()

	items, err := f.reg.ListItems(ctx, key)
	if err != nil {
		return Result{ID: id, Outcome: types.OutcomeSkipped, Err: err}
	}

	var matched []types.LineItem
	for _, it := range items {
		if !f.matcher.Match(it.Description) {
			continue
		}
		matched = append(matched, f.admitItem(it))
	}
	if len(matched) == 0 {
		return Result{ID: id, Outcome: types.OutcomeUnchanged}
	}

	rec := BuildRecord(s, key, f.reg.BrowseLink(key), matched)
	return Result{ID: id, Outcome: types.OutcomeUpdated, Record: &rec}
}

// admitItem converts a matching item. Discovery never looks up award results,
// so an item already awarded upstream is stored open until reconciliation
// resolves its supplier.
func (f *Fetcher) admitItem(it registry.Item) types.LineItem {
	item := it.LineItem(f.situations)
	if item.Situation.IsAwarded() {
		item.Situation = types.SituationOpen
	}
	return item
}

// BuildRecord shapes a record from a list summary and its admitted items.
func BuildRecord(s registry.TenderSummary, key types.TenderKey, link string, items []types.LineItem) types.TenderRecord {
	return types.TenderRecord{
		ID:           key.ID(),
		Edital:       strings.TrimSpace(s.Number),
		PublishedAt:  s.PublishedAt,
		ClosingAt:    s.ClosingAt,
		UF:           strings.TrimSpace(s.Unit.UFSigla),
		Municipality: strings.TrimSpace(s.Unit.MunicipioNome),
		Organization: strings.TrimSpace(s.Organization.RazaoSocial),
		Object:       strings.TrimSpace(s.Object),
		Link:         link,
		Items:        items,
	}
}
