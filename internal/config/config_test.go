package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/tender-monitor/internal/types"
)

func TestLoadConfig_ValidJSON(t *testing.T) {
	content := `{
		"store_path": "/tmp/tenders.json.gz",
		"discovery_workers": 32,
		"reconcile_workers": 8,
		"requests_per_second": 2.5,
		"verbose": true
	}`

	tmpFile := filepath.Join(t.TempDir(), "config.json")
	err := os.WriteFile(tmpFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/tmp/tenders.json.gz", cfg.StorePath)
	assert.Equal(t, 32, cfg.DiscoveryWorkers)
	assert.Equal(t, 8, cfg.ReconcileWorkers)
	assert.InDelta(t, 2.5, cfg.RequestsPerSecond, 1e-9)
	assert.True(t, cfg.Verbose)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte(`{ invalid json }`), 0644))

	cfg, err := LoadConfig(tmpFile)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config JSON")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.json")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "config path is empty")
}

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.SeedDays)
	assert.Greater(t, cfg.DiscoveryWorkers, cfg.ReconcileWorkers)
	assert.Equal(t, 20*time.Second, cfg.RequestTimeout())
}

func TestValidate_WorkerBounds(t *testing.T) {
	cfg := Defaults()
	cfg.DiscoveryWorkers = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "DiscoveryWorkers")
}

func TestValidate_ReconcilePoolLargerThanDiscovery(t *testing.T) {
	cfg := Defaults()
	cfg.DiscoveryWorkers = 4
	cfg.ReconcileWorkers = 8

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reconcile_workers")
}

func TestValidate_BadURLAndLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.ConsultaBaseURL = "not a url"
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestValidate_MissingTaxonomyFile(t *testing.T) {
	cfg := Defaults()
	cfg.TaxonomyPath = "/nonexistent/taxonomy.yaml"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "taxonomy file not found")
}

func TestMergeWithDefaults(t *testing.T) {
	partial := Config{
		StorePath:        "custom.json.gz",
		DiscoveryWorkers: 64,
	}

	merged := partial.MergeWithDefaults(Defaults())

	// Custom values should be preserved
	assert.Equal(t, "custom.json.gz", merged.StorePath)
	assert.Equal(t, 64, merged.DiscoveryWorkers)

	// Default values should fill in empty fields
	assert.Equal(t, "data/checkpoint.txt", merged.CheckpointPath)
	assert.Equal(t, 4, merged.ReconcileWorkers)
	assert.Equal(t, "https://pncp.gov.br/api/consulta", merged.ConsultaBaseURL)
}

func TestMergeWithDefaults_EmptyDefaults(t *testing.T) {
	cfg := Config{StorePath: "a.json.gz", SeedDays: 2}

	merged := cfg.MergeWithDefaults(Config{})

	assert.Equal(t, "a.json.gz", merged.StorePath)
	assert.Equal(t, 2, merged.SeedDays)
}

func TestLoad_EnvOverrides(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte(`{"seed_days": 3, "discovery_workers": 10}`), 0644))

	t.Setenv("TENDER_DISCOVERY_WORKERS", "20")
	t.Setenv("TENDER_STORE_PATH", "/data/store.json.gz")
	t.Setenv("TENDER_RPS", "4")

	cfg, err := Load(tmpFile)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.SeedDays)
	assert.Equal(t, 20, cfg.DiscoveryWorkers)
	assert.Equal(t, "/data/store.json.gz", cfg.StorePath)
	assert.InDelta(t, 4.0, cfg.RequestsPerSecond, 1e-9)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("TENDER_SEED_DAYS", "five")

	_, err := Load("")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "TENDER_SEED_DAYS")
}

func TestConfig_RegistryAndFetch(t *testing.T) {
	cfg := Defaults()
	cfg.PNCPBaseURL = "https://example.test/api/pncp/"
	cfg.RetryMax = 5
	cfg.RequestTimeoutSeconds = 15

	reg := cfg.Registry()
	assert.Equal(t, "https://example.test/api/pncp", reg.PNCPBaseURL)
	assert.Equal(t, 15*time.Second, reg.Timeout)
	assert.Equal(t, 5, cfg.Fetch().RetryMax)
}

func TestDefaultTaxonomy(t *testing.T) {
	tax, err := DefaultTaxonomy()
	require.NoError(t, err)
	assert.Contains(t, tax.Keywords, "vacina")
	assert.Equal(t, types.DefaultSituationTable(), tax.SituationCodes)
}

func TestLoadTaxonomy_File(t *testing.T) {
	content := `
keywords: [luva, "máscara cirúrgica"]
situation_codes:
  1: EM ANDAMENTO
  2: HOMOLOGADO
  7: SUSPENSO
`
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	tax, err := LoadTaxonomy(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"luva", "máscara cirúrgica"}, tax.Keywords)
	assert.Equal(t, types.Situation("SUSPENSO"), tax.SituationCodes.Label(7, ""))
}

func TestLoadTaxonomy_DefaultsSituationCodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keywords: [vacina]\n"), 0644))

	tax, err := LoadTaxonomy(path)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultSituationTable(), tax.SituationCodes)
}

func TestLoadTaxonomy_Invalid(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("keywords: []\n"), 0644))
	_, err := LoadTaxonomy(empty)
	assert.ErrorContains(t, err, "keywords")

	noAwarded := filepath.Join(dir, "noawarded.yaml")
	require.NoError(t, os.WriteFile(noAwarded, []byte("keywords: [a]\nsituation_codes:\n  1: EM ANDAMENTO\n"), 0644))
	_, err = LoadTaxonomy(noAwarded)
	assert.ErrorContains(t, err, "situation_codes")

	_, err = LoadTaxonomy(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read taxonomy file")
}
