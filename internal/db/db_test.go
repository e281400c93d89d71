package db

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaSQL_DefinesTables(t *testing.T) {
	assert.Contains(t, schemaSQL, "CREATE TABLE IF NOT EXISTS tenders")
	assert.Contains(t, schemaSQL, "CREATE TABLE IF NOT EXISTS monitor_runs")
	assert.Contains(t, schemaSQL, "record      JSONB")
}

func TestUpsertTenderSQL_SkipsIdenticalRows(t *testing.T) {
	assert.True(t, strings.Contains(upsertTenderSQL, "ON CONFLICT (id)"))
	assert.True(t, strings.Contains(upsertTenderSQL, "IS DISTINCT FROM"))
}

func TestRunType(t *testing.T) {
	run := Run{
		Kind:   RunKindDiscovery,
		Status: RunStatusRunning,
		Counts: map[string]int{"listed": 3},
	}

	assert.Equal(t, "discovery", run.Kind)
	assert.Equal(t, "running", run.Status)
	assert.Nil(t, run.CompletedAt)

	data, err := json.Marshal(run)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"counts":{"listed":3}`)
	assert.NotContains(t, string(data), "completed_at")
}
