// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/tender-monitor/internal/fetch"
	"github.com/jonathan/tender-monitor/internal/registry"
)

// Config represents the CLI configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults. Environment variables
// (TENDER_*) override file values.
type Config struct {
	// State files
	StorePath      string `json:"store_path,omitempty" validate:"required"`      // gzip JSON record store
	CheckpointPath string `json:"checkpoint_path,omitempty" validate:"required"` // next day to crawl, YYYYMMDD
	TaxonomyPath   string `json:"taxonomy_path,omitempty"`                       // keywords and situation codes (YAML); empty uses the built-in taxonomy
	BacklogOutput  string `json:"backlog_output,omitempty"`                      // scheduler output file for the backlog flag

	// Discovery
	SeedDays         int `json:"seed_days,omitempty" validate:"gte=0,lte=365"`
	DiscoveryWorkers int `json:"discovery_workers,omitempty" validate:"gte=1,lte=256"`
	MaxDays          int `json:"max_days,omitempty" validate:"gte=1,lte=366"`

	// Reconciliation
	ReconcileWorkers int `json:"reconcile_workers,omitempty" validate:"gte=1,lte=64"`

	// Registry
	ConsultaBaseURL string `json:"consulta_base_url,omitempty" validate:"required,url"`
	PNCPBaseURL     string `json:"pncp_base_url,omitempty" validate:"required,url"`
	AppBaseURL      string `json:"app_base_url,omitempty" validate:"required,url"`
	ModalityCode    int    `json:"modality_code,omitempty" validate:"gte=1"`
	PageSize        int    `json:"page_size,omitempty" validate:"gte=1,lte=500"`
	ItemPageSize    int    `json:"item_page_size,omitempty" validate:"gte=1,lte=5000"`
	MaxPages        int    `json:"max_pages,omitempty" validate:"gte=1"`

	// Transport
	RequestTimeoutSeconds int     `json:"request_timeout_seconds,omitempty" validate:"gte=1,lte=300"`
	RetryMax              int     `json:"retry_max,omitempty" validate:"gte=0,lte=10"`
	RequestsPerSecond     float64 `json:"requests_per_second,omitempty" validate:"gte=0"`

	// Behavior
	DatabaseURL string `json:"database_url,omitempty"` // optional PostgreSQL mirror
	LogLevel    string `json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	LogFormat   string `json:"log_format,omitempty" validate:"omitempty,oneof=text json"`
	Verbose     bool   `json:"verbose,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	reg := registry.DefaultConfig()
	return Config{
		StorePath:             "data/tenders.json.gz",
		CheckpointPath:        "data/checkpoint.txt",
		BacklogOutput:         os.Getenv("GITHUB_OUTPUT"),
		SeedDays:              5,
		DiscoveryWorkers:      16,
		MaxDays:               1,
		ReconcileWorkers:      4,
		ConsultaBaseURL:       reg.ConsultaBaseURL,
		PNCPBaseURL:           reg.PNCPBaseURL,
		AppBaseURL:            reg.AppBaseURL,
		ModalityCode:          reg.ModalityCode,
		PageSize:              reg.PageSize,
		ItemPageSize:          reg.ItemPageSize,
		MaxPages:              reg.MaxPages,
		RequestTimeoutSeconds: int(fetch.DefaultTimeout / time.Second),
		RetryMax:              fetch.DefaultRetryMax,
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Load builds the effective configuration: defaults, then the optional JSON
// file at path, then TENDER_* environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		fileCfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg.MergeWithDefaults(cfg)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if c.TaxonomyPath != "" {
		if _, err := os.Stat(c.TaxonomyPath); os.IsNotExist(err) {
			return fmt.Errorf("config error: taxonomy file not found: %s", c.TaxonomyPath)
		}
	}
	if c.ReconcileWorkers > c.DiscoveryWorkers {
		return fmt.Errorf("config error: 'reconcile_workers' (%d) must not exceed 'discovery_workers' (%d)", c.ReconcileWorkers, c.DiscoveryWorkers)
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	mergeString(&result.StorePath, defaults.StorePath)
	mergeString(&result.CheckpointPath, defaults.CheckpointPath)
	mergeString(&result.TaxonomyPath, defaults.TaxonomyPath)
	mergeString(&result.BacklogOutput, defaults.BacklogOutput)
	mergeString(&result.ConsultaBaseURL, defaults.ConsultaBaseURL)
	mergeString(&result.PNCPBaseURL, defaults.PNCPBaseURL)
	mergeString(&result.AppBaseURL, defaults.AppBaseURL)
	mergeString(&result.DatabaseURL, defaults.DatabaseURL)
	mergeString(&result.LogLevel, defaults.LogLevel)
	mergeString(&result.LogFormat, defaults.LogFormat)

	// Int fields: use default if zero
	mergeInt(&result.SeedDays, defaults.SeedDays)
	mergeInt(&result.DiscoveryWorkers, defaults.DiscoveryWorkers)
	mergeInt(&result.MaxDays, defaults.MaxDays)
	mergeInt(&result.ReconcileWorkers, defaults.ReconcileWorkers)
	mergeInt(&result.ModalityCode, defaults.ModalityCode)
	mergeInt(&result.PageSize, defaults.PageSize)
	mergeInt(&result.ItemPageSize, defaults.ItemPageSize)
	mergeInt(&result.MaxPages, defaults.MaxPages)
	mergeInt(&result.RequestTimeoutSeconds, defaults.RequestTimeoutSeconds)
	mergeInt(&result.RetryMax, defaults.RetryMax)

	if result.RequestsPerSecond == 0 {
		result.RequestsPerSecond = defaults.RequestsPerSecond
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

func mergeString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func mergeInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

// ApplyEnv overrides fields from TENDER_* environment variables.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"TENDER_STORE_PATH":      &c.StorePath,
		"TENDER_CHECKPOINT_PATH": &c.CheckpointPath,
		"TENDER_TAXONOMY_PATH":   &c.TaxonomyPath,
		"TENDER_BACKLOG_OUTPUT":  &c.BacklogOutput,
		"TENDER_CONSULTA_URL":    &c.ConsultaBaseURL,
		"TENDER_PNCP_URL":        &c.PNCPBaseURL,
		"TENDER_APP_URL":         &c.AppBaseURL,
		"TENDER_DATABASE_URL":    &c.DatabaseURL,
		"TENDER_LOG_LEVEL":       &c.LogLevel,
		"TENDER_LOG_FORMAT":      &c.LogFormat,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TENDER_SEED_DAYS":         &c.SeedDays,
		"TENDER_DISCOVERY_WORKERS": &c.DiscoveryWorkers,
		"TENDER_RECONCILE_WORKERS": &c.ReconcileWorkers,
		"TENDER_MAX_DAYS":          &c.MaxDays,
		"TENDER_MODALITY_CODE":     &c.ModalityCode,
		"TENDER_RETRY_MAX":         &c.RetryMax,
		"TENDER_TIMEOUT_SECONDS":   &c.RequestTimeoutSeconds,
	}
	for key, dst := range ints {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}

	if v := strings.TrimSpace(os.Getenv("TENDER_RPS")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid TENDER_RPS: %w", err)
		}
		c.RequestsPerSecond = f
	}
	return nil
}

// RequestTimeout returns the per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Registry returns the registry client configuration.
func (c *Config) Registry() registry.Config {
	return registry.Config{
		ConsultaBaseURL: strings.TrimRight(c.ConsultaBaseURL, "/"),
		PNCPBaseURL:     strings.TrimRight(c.PNCPBaseURL, "/"),
		AppBaseURL:      strings.TrimRight(c.AppBaseURL, "/"),
		ModalityCode:    c.ModalityCode,
		PageSize:        c.PageSize,
		ItemPageSize:    c.ItemPageSize,
		MaxPages:        c.MaxPages,
		Timeout:         c.RequestTimeout(),
	}
}

// Fetch returns the HTTP client options.
func (c *Config) Fetch() *fetch.Options {
	opts := fetch.DefaultOptions()
	opts.RetryMax = c.RetryMax
	opts.RequestsPerSecond = c.RequestsPerSecond
	return opts
}
