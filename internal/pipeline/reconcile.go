package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/tender-monitor/internal/db"
	"github.com/jonathan/tender-monitor/internal/reconcile"
	"github.com/jonathan/tender-monitor/internal/store"
	"github.com/jonathan/tender-monitor/internal/triage"
)

// ReconcileSummary holds the aggregate counts of a reconciliation run.
type ReconcileSummary struct {
	RunID uuid.UUID
	reconcile.Report
	Records  int
	Mirrored int
}

// Counts returns the summary counts keyed by name.
func (s *ReconcileSummary) Counts() map[string]int {
	return map[string]int{
		"candidates": s.Candidates,
		"refreshed":  s.Refreshed,
		"changed":    s.Changed,
		"unchanged":  s.Unchanged,
		"failed":     s.Failed,
		"corrected":  s.Corrected,
		"records":    s.Records,
		"mirrored":   s.Mirrored,
	}
}

// RunReconcile refreshes every stored record that still has open items and
// persists the store if anything changed. A missing or unreadable store is an error.
func RunReconcile(ctx context.Context, opts Options) (*ReconcileSummary, error) {
	env, err := prepare(ctx, db.RunKindReconcile, opts)
	if err != nil {
		return nil, err
	}
	defer env.close()

	cfg := env.cfg
	summary := &ReconcileSummary{RunID: env.id}
	fail := func(err error) (*ReconcileSummary, error) {
		env.log.Error("reconciliation failed", "error", err)
		env.finish(ctx, db.RunStatusFailed, summary.Counts())
		return summary, err
	}

	st, err := store.Load(cfg.StorePath)
	if err != nil {
		return fail(fmt.Errorf("cannot reconcile without a record store: %w", err))
	}
	summary.Records = st.Len()
	env.emit(StepLoadStore, fmt.Sprintf("Loaded %d records", st.Len()), nil)

	ids := triage.Select(st)
	env.log.Info("selected records for reconciliation", "candidates", len(ids), "records", st.Len())
	env.emit(StepSelect, fmt.Sprintf("Selected %d of %d records", len(ids), st.Len()), ids)

	tracked := newChangeTracker(st)
	reconciler := reconcile.New(env.registry, env.taxonomy.SituationCodes, cfg.ReconcileWorkers, env.log)
	report, err := reconciler.ReconcileAll(ctx, tracked, ids)
	if report != nil {
		summary.Report = *report
	}
	if err != nil {
		return fail(err)
	}
	env.emit(StepReconcile, fmt.Sprintf("Refreshed %d records, %d changed", report.Refreshed, report.Changed), report)
	if env.printer != nil {
		env.printer.PrintReconcileReport(report)
	}

	if report.Changed > 0 {
		if err := st.Persist(); err != nil {
			return fail(err)
		}
		env.emit(StepPersist, fmt.Sprintf("Persisted %d records", st.Len()), nil)
	}

	summary.Mirrored = env.mirrorChanged(ctx, tracked.Changed())

	env.log.Info("reconciliation complete",
		"candidates", summary.Candidates,
		"refreshed", summary.Refreshed,
		"changed", summary.Changed,
		"unchanged", summary.Unchanged,
		"failed", summary.Failed,
		"corrected", summary.Corrected,
	)

	env.finish(ctx, db.RunStatusCompleted, summary.Counts())
	return summary, nil
}
