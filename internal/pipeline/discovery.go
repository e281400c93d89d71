package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/tender-monitor/internal/checkpoint"
	"github.com/jonathan/tender-monitor/internal/db"
	"github.com/jonathan/tender-monitor/internal/discovery"
	"github.com/jonathan/tender-monitor/internal/store"
	"github.com/jonathan/tender-monitor/internal/textnorm"
)

// DiscoverySummary holds the aggregate counts of a discovery run.
type DiscoverySummary struct {
	RunID   uuid.UUID
	Days    []*discovery.Report
	Listed  int
	Matched int
	Updated int
	NoMatch int
	Failed  int
	// Partial is set when a day's listing was incomplete; its checkpoint was not advanced.
	Partial bool
	// Next is the day the following run will discover.
	Next     time.Time
	Backlog  bool
	Records  int
	Mirrored int
}

func (s *DiscoverySummary) add(r *discovery.Report) {
	s.Days = append(s.Days, r)
	s.Listed += r.Listed
	s.Matched += r.Matched
	s.Updated += r.Updated
	s.NoMatch += r.NoMatch
	s.Failed += r.Failed
	s.Partial = s.Partial || r.Partial
}

// Counts returns the summary counts keyed by name.
func (s *DiscoverySummary) Counts() map[string]int {
	return map[string]int{
		"days":     len(s.Days),
		"listed":   s.Listed,
		"matched":  s.Matched,
		"updated":  s.Updated,
		"no_match": s.NoMatch,
		"failed":   s.Failed,
		"records":  s.Records,
		"mirrored": s.Mirrored,
	}
}

// RunDiscovery crawls the day after the checkpoint, merges matching tenders into
// the store, persists it, advances the checkpoint and emits the backlog signal.
// With Config.MaxDays > 1 it keeps going while days remain, up to that many.
//
// A corrupt store file is quarantined and discovery starts from an empty store.
// A failure of the first list page aborts the run without touching the checkpoint.
func RunDiscovery(ctx context.Context, opts Options) (*DiscoverySummary, error) {
	env, err := prepare(ctx, db.RunKindDiscovery, opts)
	if err != nil {
		return nil, err
	}
	defer env.close()

	cfg := env.cfg
	summary := &DiscoverySummary{RunID: env.id}
	fail := func(err error) (*DiscoverySummary, error) {
		env.log.Error("discovery failed", "error", err)
		env.finish(ctx, db.RunStatusFailed, summary.Counts())
		return summary, err
	}

	st, err := store.LoadOrEmpty(cfg.StorePath)
	if err != nil {
		var corrupt *store.CorruptError
		if !errors.As(err, &corrupt) {
			return fail(err)
		}
		dest, qerr := store.Quarantine(cfg.StorePath)
		if qerr != nil {
			return fail(qerr)
		}
		env.log.Warn("record store unreadable, starting empty", "path", cfg.StorePath, "quarantined_to", dest, "error", err)
	}
	tracked := newChangeTracker(st)
	env.emit(StepLoadStore, fmt.Sprintf("Loaded %d records", st.Len()), nil)

	tracker := checkpoint.New(cfg.CheckpointPath, cfg.SeedDays,
		checkpoint.WithClock(env.now), checkpoint.WithLogger(env.log))
	fetcher := discovery.NewFetcher(env.registry, textnorm.NewMatcher(env.taxonomy.Keywords),
		env.taxonomy.SituationCodes, cfg.DiscoveryWorkers, env.log)

	maxDays := max(cfg.MaxDays, 1)
	for i := 0; i < maxDays; i++ {
		day := tracker.Load()
		env.log.Info("discovering day", "day", day.Format(checkpoint.Layout))

		report, err := fetcher.DiscoverDay(ctx, day, tracked)
		if err != nil {
			return fail(err)
		}
		summary.add(report)
		env.emit(StepDiscoverDay, fmt.Sprintf("Discovered %s: %d listed, %d matched", day.Format(checkpoint.Layout), report.Listed, report.Matched), report)
		if env.printer != nil {
			env.printer.PrintDiscoveryReport(report)
		}

		if err := st.Persist(); err != nil {
			return fail(err)
		}
		env.emit(StepPersist, fmt.Sprintf("Persisted %d records", st.Len()), nil)

		if report.Partial {
			// Retry the same day on the next scheduled run rather than immediately.
			summary.Next = day
			summary.Backlog = false
			env.log.Warn("listing incomplete, checkpoint kept", "day", day.Format(checkpoint.Layout))
			break
		}

		next, err := tracker.Advance(day)
		if err != nil {
			return fail(err)
		}
		summary.Next = next
		summary.Backlog = tracker.Backlog(next)
		env.emit(StepCheckpoint, "Checkpoint advanced to "+next.Format(checkpoint.Layout), nil)

		if !summary.Backlog {
			break
		}
	}

	summary.Records = st.Len()
	summary.Mirrored = env.mirrorChanged(ctx, tracked.Changed())

	env.log.Info("discovery complete",
		"days", len(summary.Days),
		"listed", summary.Listed,
		"matched", summary.Matched,
		"updated", summary.Updated,
		"failed", summary.Failed,
		"records", summary.Records,
		"next", summary.Next.Format(checkpoint.Layout),
		backlogSignalKey, summary.Backlog,
	)
	if env.printer != nil {
		env.printer.PrintBacklog(summary.Next, summary.Backlog)
	}

	if err := EmitBacklog(cfg.BacklogOutput, summary.Backlog); err != nil {
		return fail(err)
	}
	env.emit(StepBacklogEmit, fmt.Sprintf("%s=%t", backlogSignalKey, summary.Backlog), nil)

	env.finish(ctx, db.RunStatusCompleted, summary.Counts())
	return summary, nil
}
