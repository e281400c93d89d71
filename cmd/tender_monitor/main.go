// Package main provides the entry point for the tender monitor CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonathan/tender-monitor/internal/config"
	"github.com/jonathan/tender-monitor/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "tender_monitor",
	Short: "Procurement tender monitor for the PNCP registry",
	Long: "tender_monitor discovers newly published tenders whose items match a keyword taxonomy, " +
		"keeps them in a compressed JSON store and reconciles open items until they are awarded or closed.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configPath string
	logLevel   string
	logFormat  string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to JSON config file (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text, json (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print human-readable run summaries")
}

// settings is the effective configuration of one command invocation.
type settings struct {
	cfg      *config.Config
	taxonomy *config.Taxonomy
	log      *slog.Logger
}

// loadSettings resolves config, flag overrides, logger and taxonomy.
func loadSettings() (*settings, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if verbose {
		cfg.Verbose = true
	}

	log := logger.Init(os.Stderr, logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	tax, err := config.LoadTaxonomy(cfg.TaxonomyPath)
	if err != nil {
		return nil, err
	}

	return &settings{cfg: cfg, taxonomy: tax, log: log}, nil
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
