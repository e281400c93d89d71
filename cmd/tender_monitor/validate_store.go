package main

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/tender-monitor/internal/observability"
	"github.com/jonathan/tender-monitor/internal/schemas"
	"github.com/jonathan/tender-monitor/internal/store"
)

var validateStoreCmd = &cobra.Command{
	Use:   "validate-store",
	Short: "Validate the record store against its JSON Schema",
	Long:  "Decodes the record store and validates it against the embedded tender records schema, or against --schema.",
	RunE:  runValidateStore,
}

var (
	validateStorePath   string
	validateStoreSchema string
)

func init() {
	validateStoreCmd.Flags().StringVarP(&validateStorePath, "in", "i", "", "Path to store file (defaults to the configured store)")
	validateStoreCmd.Flags().StringVarP(&validateStoreSchema, "schema", "s", "", "Path to a JSON Schema file (defaults to the embedded schema)")

	rootCmd.AddCommand(validateStoreCmd)
}

func runValidateStore(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	path := validateStorePath
	if path == "" {
		path = s.cfg.StorePath
	}

	st, err := store.Load(path)
	if err != nil {
		var corrupt *store.CorruptError
		if errors.As(err, &corrupt) {
			return fmt.Errorf("store is not decodable: %w", err)
		}
		return err
	}

	records := st.Records()
	var buf bytes.Buffer
	if err := store.Encode(&buf, records); err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}

	if validateStoreSchema != "" {
		err = schemas.ValidateBytes(validateStoreSchema, buf.Bytes())
	} else {
		err = schemas.ValidateTenderRecords(buf.Bytes())
	}
	if err != nil {
		var validationErr *schemas.ValidationError
		if errors.As(err, &validationErr) {
			return fmt.Errorf("store %s is invalid: %w", path, err)
		}
		return fmt.Errorf("failed to validate store: %w", err)
	}

	if s.cfg.Verbose {
		observability.NewPrinter(cmd.OutOrStdout()).PrintStoreSummary(records)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "store %s is valid: %d records\n", path, len(records))
	return nil
}
