// Package pipeline provides the high-level orchestration of discovery and reconciliation runs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/tender-monitor/internal/config"
	"github.com/jonathan/tender-monitor/internal/db"
	"github.com/jonathan/tender-monitor/internal/fetch"
	"github.com/jonathan/tender-monitor/internal/logger"
	"github.com/jonathan/tender-monitor/internal/observability"
	"github.com/jonathan/tender-monitor/internal/registry"
	"github.com/jonathan/tender-monitor/internal/store"
	"github.com/jonathan/tender-monitor/internal/types"
)

// ProgressEvent represents a progress update during a run
type ProgressEvent struct {
	Step    string `json:"step"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
	Content any    `json:"content,omitempty"`
}

// ProgressCallback is called when run progress occurs
type ProgressCallback func(event ProgressEvent)

// Step names reported through ProgressCallback
const (
	StepLoadStore   = "load_store"
	StepDiscoverDay = "discover_day"
	StepPersist     = "persist_store"
	StepCheckpoint  = "advance_checkpoint"
	StepSelect      = "select_candidates"
	StepReconcile   = "reconcile"
	StepMirror      = "mirror"
	StepBacklogEmit = "emit_backlog"
)

const backlogSignalKey = "more_backlog"

// Mirror receives changed records and the run log after the store is persisted.
// *db.DB implements it.
type Mirror interface {
	CreateRun(ctx context.Context, id uuid.UUID, kind string) error
	CompleteRun(ctx context.Context, id uuid.UUID, status string, counts map[string]int) error
	UpsertTenders(ctx context.Context, records []types.TenderRecord) (int, error)
}

// Options holds configuration for a run
type Options struct {
	Config *config.Config // Required
	// Taxonomy defaults to the file named by Config.TaxonomyPath, or the embedded default.
	Taxonomy   *config.Taxonomy
	HTTPClient *http.Client
	Now        func() time.Time
	Logger     *slog.Logger
	// Printer, when set, receives human-readable summaries (verbose mode).
	Printer *observability.Printer
	// Mirror overrides the database mirror opened from Config.DatabaseURL.
	Mirror     Mirror
	OnProgress ProgressCallback
}

// runEnv is the state shared by one discovery or reconciliation run.
type runEnv struct {
	id         uuid.UUID
	kind       string
	cfg        *config.Config
	taxonomy   *config.Taxonomy
	registry   *registry.Client
	now        func() time.Time
	log        *slog.Logger
	printer    *observability.Printer
	mirror     Mirror
	runLogged  bool
	onProgress ProgressCallback
	closers    []func()
}

func prepare(ctx context.Context, kind string, opts Options) (*runEnv, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("pipeline: config is required")
	}
	cfg := opts.Config

	env := &runEnv{
		id:         uuid.New(),
		kind:       kind,
		cfg:        cfg,
		taxonomy:   opts.Taxonomy,
		now:        opts.Now,
		printer:    opts.Printer,
		onProgress: opts.OnProgress,
	}
	if env.now == nil {
		env.now = time.Now
	}
	env.log = logger.OrDiscard(opts.Logger).With("run_id", env.id.String(), "run", kind)

	if env.taxonomy == nil {
		tax, err := config.LoadTaxonomy(cfg.TaxonomyPath)
		if err != nil {
			return nil, err
		}
		env.taxonomy = tax
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		fetchOpts := cfg.Fetch()
		fetchOpts.Logger = env.log
		httpClient = fetch.NewClient(fetchOpts)
	}
	env.registry = registry.NewClient(httpClient, cfg.Registry())

	env.mirror = opts.Mirror
	if env.mirror == nil && cfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			env.log.Warn("failed to connect to database, continuing without mirror", "error", err)
		} else if err := database.EnsureSchema(ctx); err != nil {
			database.Close()
			env.log.Warn("failed to prepare database, continuing without mirror", "error", err)
		} else {
			env.mirror = database
			env.closers = append(env.closers, database.Close)
			env.log.Debug("connected to database")
		}
	}

	if env.mirror != nil {
		if err := env.mirror.CreateRun(ctx, env.id, kind); err != nil {
			env.log.Warn("failed to record run start", "error", err)
		} else {
			env.runLogged = true
		}
	}

	return env, nil
}

func (e *runEnv) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// emit calls the progress callback if configured
func (e *runEnv) emit(step, message string, content any) {
	if e.onProgress != nil {
		e.onProgress(ProgressEvent{
			Step:    step,
			Message: message,
			RunID:   e.id.String(),
			Content: content,
		})
	}
}

// finish records the end of the run in the run log. Failures are logged only.
func (e *runEnv) finish(ctx context.Context, status string, counts map[string]int) {
	if !e.runLogged {
		return
	}
	if err := e.mirror.CompleteRun(ctx, e.id, status, counts); err != nil {
		e.log.Warn("failed to record run completion", "status", status, "error", err)
	}
}

// mirrorChanged upserts the changed records. Failures are logged only; the
// store file stays the source of truth.
func (e *runEnv) mirrorChanged(ctx context.Context, changed []types.TenderRecord) int {
	if e.mirror == nil || len(changed) == 0 {
		return 0
	}
	n, err := e.mirror.UpsertTenders(ctx, changed)
	if err != nil {
		e.log.Warn("failed to mirror records", "records", len(changed), "error", err)
	}
	e.emit(StepMirror, fmt.Sprintf("Mirrored %d of %d changed records", n, len(changed)), nil)
	return n
}

// changeTracker is a store that remembers which records a run changed.
type changeTracker struct {
	*store.Store
	changed map[string]struct{}
}

func newChangeTracker(s *store.Store) *changeTracker {
	return &changeTracker{Store: s, changed: make(map[string]struct{})}
}

func (c *changeTracker) Merge(rec types.TenderRecord) bool {
	if !c.Store.Merge(rec) {
		return false
	}
	c.changed[rec.ID] = struct{}{}
	return true
}

// Changed returns the changed records sorted by id.
func (c *changeTracker) Changed() []types.TenderRecord {
	ids := make([]string, 0, len(c.changed))
	for id := range c.changed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]types.TenderRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := c.Get(id); ok {
			out = append(out, rec)
		}
	}
	return out
}

// EmitBacklog appends the backlog signal to the scheduler output file at path.
// An empty path disables the signal.
func EmitBacklog(path string, backlog bool) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open backlog output %s: %w", path, err)
	}
	if _, err := fmt.Fprintf(f, "%s=%t\n", backlogSignalKey, backlog); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write backlog output %s: %w", path, err)
	}
	return f.Close()
}
