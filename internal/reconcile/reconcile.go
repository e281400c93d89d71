// Package reconcile refreshes stored tenders whose items may still change
// upstream, resolving award results and correcting status-reporting lag.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/tender-monitor/internal/logger"
	"github.com/jonathan/tender-monitor/internal/registry"
	"github.com/jonathan/tender-monitor/internal/types"
)

// DefaultWorkers bounds concurrent reconciliations. Each task may issue a
// result lookup per item on top of the item list, so the pool is kept small.
const DefaultWorkers = 4

// Registry is the part of the registry client reconciliation uses.
type Registry interface {
	ListItems(ctx context.Context, key types.TenderKey) ([]registry.Item, error)
	FirstResult(ctx context.Context, key types.TenderKey, itemNumber int) (*registry.Result, error)
}

// Store is the record store as seen by ReconcileAll.
type Store interface {
	Get(id string) (types.TenderRecord, bool)
	Merge(rec types.TenderRecord) bool
}

// Result is the outcome of reconciling one record.
type Result struct {
	ID      string
	Outcome types.Outcome
	Record  *types.TenderRecord
	Err     error
	// Corrected counts items moved from open to awarded because a supplier was already published.
	Corrected int
}

// Report aggregates a reconciliation pass.
type Report struct {
	Candidates int
	Refreshed  int // records rebuilt from upstream
	Changed    int // refreshed records that differ from the stored version
	Unchanged  int // upstream returned no items; stored record kept
	Failed     int
	Corrected  int
}

// Reconciler re-fetches items and award results for stored records.
type Reconciler struct {
	reg        Registry
	situations types.SituationTable
	workers    int
	logger     *slog.Logger
}

// New creates a Reconciler. workers <= 0 uses DefaultWorkers.
func New(reg Registry, situations types.SituationTable, workers int, log *slog.Logger) *Reconciler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if situations == nil {
		situations = types.DefaultSituationTable()
	}
	return &Reconciler{reg: reg, situations: situations, workers: workers, logger: logger.OrDiscard(log)}
}

// Reconcile rebuilds old's items from upstream. Header fields are carried over
// unchanged. If upstream has no items the result is OutcomeUnchanged; any error
// makes the whole record OutcomeSkipped, so items are never partially updated.
func (r *Reconciler) Reconcile(ctx context.Context, id string, old types.TenderRecord) Result {
	key, err := types.DecodeID(id)
	if err != nil {
		return Result{ID: id, Outcome: types.OutcomeSkipped, Err: err}
	}

	upstream, err := r.reg.ListItems(ctx, key)
	if err != nil {
		return Result{ID: id, Outcome: types.OutcomeSkipped, Err: err}
	}
	if len(upstream) == 0 {
		return Result{ID: id, Outcome: types.OutcomeUnchanged}
	}

	previous := make(map[int]types.LineItem, len(old.Items))
	for _, item := range old.Items {
		previous[item.Number] = item
	}

	items := make([]types.LineItem, 0, len(upstream))
	corrected := 0
	for _, it := range upstream {
		item, fixed, err := r.refreshItem(ctx, key, it, previous)
		if err != nil {
			return Result{ID: id, Outcome: types.OutcomeSkipped, Err: fmt.Errorf("item %d: %w", int(it.Number), err)}
		}
		if fixed {
			corrected++
		}
		items = append(items, item)
	}

	rec := old.WithItems(items)
	return Result{ID: id, Outcome: types.OutcomeUpdated, Record: &rec, Corrected: corrected}
}

// refreshItem maps one upstream item. A result lookup happens when upstream
// flags a result or the mapped label is awarded. A resolved supplier on an
// item still mapped open upgrades it to awarded; nothing is ever downgraded by
// that rule. An awarded item whose supplier cannot be resolved keeps the
// supplier it was stored with, or stays open until the result is published.
func (r *Reconciler) refreshItem(ctx context.Context, key types.TenderKey, it registry.Item, previous map[int]types.LineItem) (types.LineItem, bool, error) {
	item := it.LineItem(r.situations)
	if !it.HasResult && !item.Situation.IsAwarded() {
		return item, false, nil
	}

	res, err := r.reg.FirstResult(ctx, key, item.Number)
	if err != nil {
		return item, false, err
	}

	corrected := false
	if res != nil && strings.TrimSpace(res.Supplier) != "" {
		supplier := strings.TrimSpace(res.Supplier)
		price := float64(res.UnitPrice)
		item.Supplier = &supplier
		item.AwardedUnitPrice = &price
		if item.Situation.IsOpen() {
			item.Situation = types.SituationAwarded
			corrected = true
		}
	}

	if item.Situation.IsAwarded() && item.Supplier == nil {
		if prev, ok := previous[item.Number]; ok && prev.Supplier != nil {
			item.Supplier = prev.Supplier
			item.AwardedUnitPrice = prev.AwardedUnitPrice
		} else {
			item.Situation = types.SituationOpen
		}
	}
	return item, corrected, nil
}

type task struct {
	id  string
	old types.TenderRecord
}

// ReconcileAll reconciles ids concurrently and merges refreshed records into st.
// Stored records are read before any task starts and st is only written by the
// calling goroutine, in completion order.
func (r *Reconciler) ReconcileAll(ctx context.Context, st Store, ids []string) (*Report, error) {
	report := &Report{Candidates: len(ids)}

	tasks := make([]task, 0, len(ids))
	for _, id := range ids {
		old, ok := st.Get(id)
		if !ok {
			continue
		}
		tasks = append(tasks, task{id: id, old: old})
	}

	results := make(chan Result)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	go func() {
		for _, t := range tasks {
			g.Go(func() error {
				results <- r.Reconcile(gctx, t.id, t.old)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	for res := range results {
		r.aggregate(report, res, st)
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (r *Reconciler) aggregate(report *Report, res Result, st Store) {
	switch res.Outcome {
	case types.OutcomeUpdated:
		report.Refreshed++
		report.Corrected += res.Corrected
		if st.Merge(*res.Record) {
			report.Changed++
		}
		r.logger.Debug("record refreshed", "id", res.ID, "corrected", res.Corrected, "outcome", res.Outcome)
	case types.OutcomeSkipped:
		report.Failed++
		r.logger.Warn("record skipped", "id", res.ID, "outcome", res.Outcome, "error", res.Err)
	default:
		report.Unchanged++
		r.logger.Debug("record unchanged", "id", res.ID, "outcome", res.Outcome)
	}
}
