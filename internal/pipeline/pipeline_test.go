package pipeline_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/tender-monitor/internal/config"
	"github.com/jonathan/tender-monitor/internal/fetch"
	"github.com/jonathan/tender-monitor/internal/pipeline"
	"github.com/jonathan/tender-monitor/internal/registry"
	"github.com/jonathan/tender-monitor/internal/registry/registrytest"
	"github.com/jonathan/tender-monitor/internal/store"
	"github.com/jonathan/tender-monitor/internal/types"
)

var now = time.Date(2025, 3, 20, 10, 0, 0, 0, time.UTC)

func date(day int) time.Time {
	return time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC)
}

func testConfig(t *testing.T, srv *registrytest.Server) *config.Config {
	t.Helper()
	dir := t.TempDir()
	rc := srv.Config()

	cfg := config.Defaults()
	cfg.StorePath = filepath.Join(dir, "data", "tenders.json.gz")
	cfg.CheckpointPath = filepath.Join(dir, "data", "checkpoint.txt")
	cfg.BacklogOutput = filepath.Join(dir, "github_output")
	cfg.ConsultaBaseURL = rc.ConsultaBaseURL
	cfg.PNCPBaseURL = rc.PNCPBaseURL
	cfg.DatabaseURL = ""
	return &cfg
}

func testOptions(t *testing.T, cfg *config.Config) pipeline.Options {
	t.Helper()
	tax, err := config.DefaultTaxonomy()
	require.NoError(t, err)

	fo := fetch.DefaultOptions()
	fo.RetryWaitMin = time.Millisecond
	fo.RetryWaitMax = 5 * time.Millisecond

	return pipeline.Options{
		Config:     cfg,
		Taxonomy:   tax,
		HTTPClient: fetch.NewClient(fo),
		Now:        func() time.Time { return now },
	}
}

func writeCheckpoint(t *testing.T, cfg *config.Config, value string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.CheckpointPath), 0o755))
	require.NoError(t, os.WriteFile(cfg.CheckpointPath, []byte(value+"\n"), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func vaccineTender(seq int) registrytest.Tender {
	return registrytest.Tender{
		Summary: registrytest.Summary("12.345.678/0001-90", 2025, seq, "Aquisição de insumos"),
		Items: []registry.Item{
			{Number: 1, Description: "Vacina contra influenza", Quantity: 100, UnitPrice: 12.5, TotalPrice: 1250, SituationCode: 1},
			{Number: 2, Description: "Papel A4", Quantity: 10, UnitPrice: 20, TotalPrice: 200, SituationCode: 1},
		},
	}
}

type fakeMirror struct {
	created   map[uuid.UUID]string
	completed map[uuid.UUID]string
	counts    map[string]int
	upserted  []types.TenderRecord
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{created: map[uuid.UUID]string{}, completed: map[uuid.UUID]string{}}
}

func (m *fakeMirror) CreateRun(_ context.Context, id uuid.UUID, kind string) error {
	m.created[id] = kind
	return nil
}

func (m *fakeMirror) CompleteRun(_ context.Context, id uuid.UUID, status string, counts map[string]int) error {
	m.completed[id] = status
	m.counts = counts
	return nil
}

func (m *fakeMirror) UpsertTenders(_ context.Context, records []types.TenderRecord) (int, error) {
	m.upserted = append(m.upserted, records...)
	return len(records), nil
}

func TestRunDiscovery_AdvancesCheckpointAndSignalsBacklog(t *testing.T) {
	srv := registrytest.NewServer()
	defer srv.Close()
	id := srv.Publish(date(15), vaccineTender(57))

	cfg := testConfig(t, srv)
	writeCheckpoint(t, cfg, "20250315")

	summary, err := pipeline.RunDiscovery(context.Background(), testOptions(t, cfg))
	require.NoError(t, err)

	require.Len(t, summary.Days, 1)
	assert.Equal(t, date(15), summary.Days[0].Day)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, date(16), summary.Next)
	assert.True(t, summary.Backlog)
	assert.NotEqual(t, uuid.Nil, summary.RunID)

	assert.Equal(t, "20250316\n", readFile(t, cfg.CheckpointPath))
	assert.Equal(t, "more_backlog=true\n", readFile(t, cfg.BacklogOutput))

	st, err := store.Load(cfg.StorePath)
	require.NoError(t, err)
	rec, ok := st.Get(id)
	require.True(t, ok)
	require.Len(t, rec.Items, 1)
	assert.Equal(t, "Vacina contra influenza", rec.Items[0].Description)
}

func TestRunDiscovery_SeedsMissingCheckpoint(t *testing.T) {
	srv := registrytest.NewServer()
	defer srv.Close()

	cfg := testConfig(t, srv)
	summary, err := pipeline.RunDiscovery(context.Background(), testOptions(t, cfg))
	require.NoError(t, err)

	require.Len(t, summary.Days, 1)
	assert.Equal(t, date(15), summary.Days[0].Day)
	assert.Equal(t, "20250316\n", readFile(t, cfg.CheckpointPath))

	// An empty day still creates the store file.
	st, err := store.Load(cfg.StorePath)
	require.NoError(t, err)
	assert.Zero(t, st.Len())
}

func TestRunDiscovery_DrainsBacklogUpToMaxDays(t *testing.T) {
	srv := registrytest.NewServer()
	defer srv.Close()
	srv.Publish(date(19), vaccineTender(3))

	cfg := testConfig(t, srv)
	cfg.MaxDays = 10
	writeCheckpoint(t, cfg, "20250318")

	summary, err := pipeline.RunDiscovery(context.Background(), testOptions(t, cfg))
	require.NoError(t, err)

	require.Len(t, summary.Days, 3)
	assert.Equal(t, date(20), summary.Days[2].Day)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, date(21), summary.Next)
	assert.False(t, summary.Backlog)
	assert.Equal(t, "20250321\n", readFile(t, cfg.CheckpointPath))
	assert.Equal(t, "more_backlog=false\n", readFile(t, cfg.BacklogOutput))
}

func TestRunDiscovery_FirstPageFailureKeepsCheckpoint(t *testing.T) {
	srv := registrytest.NewServer()
	defer srv.Close()
	srv.FailList(date(15), -1, http.StatusInternalServerError)

	cfg := testConfig(t, srv)
	writeCheckpoint(t, cfg, "20250315")
	mirror := newFakeMirror()
	opts := testOptions(t, cfg)
	opts.Mirror = mirror

	summary, err := pipeline.RunDiscovery(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, fetch.StatusCode(err))

	assert.Equal(t, "20250315\n", readFile(t, cfg.CheckpointPath))
	assert.NoFileExists(t, cfg.BacklogOutput)
	assert.Equal(t, "failed", mirror.completed[summary.RunID])
}

func TestRunDiscovery_RecoversFromTransientItemFailures(t *testing.T) {
	srv := registrytest.NewServer()
	defer srv.Close()
	id := srv.Publish(date(15), vaccineTender(8))
	srv.FailItems(id, 3, http.StatusServiceUnavailable)

	cfg := testConfig(t, srv)
	writeCheckpoint(t, cfg, "20250315")

	summary, err := pipeline.RunDiscovery(context.Background(), testOptions(t, cfg))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matched)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 4, srv.Requests("items:"+id))
}

func TestRunDiscovery_QuarantinesCorruptStore(t *testing.T) {
	srv := registrytest.NewServer()
	defer srv.Close()
	srv.Publish(date(15), vaccineTender(1))

	cfg := testConfig(t, srv)
	writeCheckpoint(t, cfg, "20250315")
	require.NoError(t, os.WriteFile(cfg.StorePath, []byte("not a store"), 0o644))

	summary, err := pipeline.RunDiscovery(context.Background(), testOptions(t, cfg))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Records)

	quarantined, err := filepath.Glob(cfg.StorePath + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, quarantined, 1)
	assert.Equal(t, "not a store", readFile(t, quarantined[0]))

	st, err := store.Load(cfg.StorePath)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Len())
}

func TestRunDiscovery_MirrorsChangedRecordsOnly(t *testing.T) {
	srv := registrytest.NewServer()
	defer srv.Close()
	id := srv.Publish(date(15), vaccineTender(57))

	cfg := testConfig(t, srv)
	mirror := newFakeMirror()

	writeCheckpoint(t, cfg, "20250315")
	opts := testOptions(t, cfg)
	opts.Mirror = mirror
	var steps []string
	opts.OnProgress = func(e pipeline.ProgressEvent) { steps = append(steps, e.Step) }

	summary, err := pipeline.RunDiscovery(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Mirrored)
	require.Len(t, mirror.upserted, 1)
	assert.Equal(t, id, mirror.upserted[0].ID)
	assert.Equal(t, "discovery", mirror.created[summary.RunID])
	assert.Equal(t, "completed", mirror.completed[summary.RunID])
	assert.Equal(t, 1, mirror.counts["matched"])
	assert.Contains(t, steps, pipeline.StepCheckpoint)
	assert.Contains(t, steps, pipeline.StepBacklogEmit)

	// Same day again: nothing changes, nothing is mirrored.
	writeCheckpoint(t, cfg, "20250315")
	summary, err = pipeline.RunDiscovery(context.Background(), opts)
	require.NoError(t, err)
	assert.Zero(t, summary.Updated)
	assert.Zero(t, summary.Mirrored)
	assert.Len(t, mirror.upserted, 1)
}

func TestRunReconcile_MissingStoreIsFatal(t *testing.T) {
	srv := registrytest.NewServer()
	defer srv.Close()

	cfg := testConfig(t, srv)
	mirror := newFakeMirror()
	opts := testOptions(t, cfg)
	opts.Mirror = mirror

	summary, err := pipeline.RunReconcile(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.Equal(t, "failed", mirror.completed[summary.RunID])
}

func TestRunReconcile_CorruptStoreIsFatal(t *testing.T) {
	srv := registrytest.NewServer()
	defer srv.Close()

	cfg := testConfig(t, srv)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.StorePath), 0o755))
	require.NoError(t, os.WriteFile(cfg.StorePath, []byte("{"), 0o644))

	_, err := pipeline.RunReconcile(context.Background(), testOptions(t, cfg))
	require.Error(t, err)
	var corrupt *store.CorruptError
	assert.True(t, errors.As(err, &corrupt))
	assert.Equal(t, "{", readFile(t, cfg.StorePath))
}

func TestRunReconcile_AwardsAfterDiscovery(t *testing.T) {
	srv := registrytest.NewServer()
	defer srv.Close()
	id := srv.Publish(date(15), vaccineTender(57))

	cfg := testConfig(t, srv)
	writeCheckpoint(t, cfg, "20250315")
	opts := testOptions(t, cfg)

	_, err := pipeline.RunDiscovery(context.Background(), opts)
	require.NoError(t, err)

	// Upstream publishes the result before flipping the item situation.
	srv.SetItems(id, []registry.Item{
		{Number: 1, Description: "Vacina contra influenza", Quantity: 100, UnitPrice: 12.5, TotalPrice: 1250, SituationCode: 1, HasResult: true},
	})
	srv.SetResults(id, 1, []registry.Result{{Supplier: "ACME LTDA", UnitPrice: 11.9}})

	mirror := newFakeMirror()
	opts.Mirror = mirror
	summary, err := pipeline.RunReconcile(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Candidates)
	assert.Equal(t, 1, summary.Changed)
	assert.Equal(t, 1, summary.Corrected)
	assert.Equal(t, 1, summary.Mirrored)
	assert.Equal(t, "reconcile", mirror.created[summary.RunID])
	assert.Equal(t, 1, mirror.counts["corrected"])

	st, err := store.Load(cfg.StorePath)
	require.NoError(t, err)
	rec, ok := st.Get(id)
	require.True(t, ok)
	require.Len(t, rec.Items, 1)
	assert.Equal(t, types.SituationAwarded, rec.Items[0].Situation)
	require.NotNil(t, rec.Items[0].Supplier)
	assert.Equal(t, "ACME LTDA", *rec.Items[0].Supplier)
	assert.Equal(t, "Aquisição de insumos", rec.Object)

	// Every item is terminal now, so the next pass has nothing to do.
	summary, err = pipeline.RunReconcile(context.Background(), opts)
	require.NoError(t, err)
	assert.Zero(t, summary.Candidates)
}
