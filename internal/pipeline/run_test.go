package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/tender-monitor/internal/store"
	"github.com/jonathan/tender-monitor/internal/types"
)

func TestEmitBacklog_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output")
	require.NoError(t, os.WriteFile(path, []byte("other=1\n"), 0o644))

	require.NoError(t, EmitBacklog(path, true))
	require.NoError(t, EmitBacklog(path, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "other=1\nmore_backlog=true\nmore_backlog=false\n", string(data))
}

func TestEmitBacklog_EmptyPath(t *testing.T) {
	assert.NoError(t, EmitBacklog("", true))
}

func TestEmitBacklog_MissingDirectory(t *testing.T) {
	err := EmitBacklog(filepath.Join(t.TempDir(), "missing", "output"), true)
	assert.ErrorContains(t, err, "failed to open backlog output")
}

func TestChangeTracker_RecordsOnlyChanges(t *testing.T) {
	st := store.New("unused")
	st.Merge(types.TenderRecord{ID: "b", Object: "old"})
	tracked := newChangeTracker(st)

	assert.False(t, tracked.Merge(types.TenderRecord{ID: "b", Object: "old", Items: []types.LineItem{}}))
	assert.True(t, tracked.Merge(types.TenderRecord{ID: "c", Object: "new"}))
	assert.True(t, tracked.Merge(types.TenderRecord{ID: "a", Object: "new"}))

	changed := tracked.Changed()
	require.Len(t, changed, 2)
	assert.Equal(t, "a", changed[0].ID)
	assert.Equal(t, "c", changed[1].ID)
	assert.Equal(t, 3, st.Len())
}

func TestSummaryCounts(t *testing.T) {
	d := &DiscoverySummary{Listed: 4, Matched: 2}
	assert.Equal(t, 4, d.Counts()["listed"])
	assert.Equal(t, 0, d.Counts()["days"])

	r := &ReconcileSummary{}
	r.Corrected = 3
	assert.Equal(t, 3, r.Counts()["corrected"])
}
