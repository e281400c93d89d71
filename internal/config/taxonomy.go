package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/tender-monitor/internal/types"
)

//go:embed default_taxonomy.yaml
var defaultTaxonomy []byte

// Taxonomy is the domain vocabulary handed to discovery and reconciliation:
// the keyword filter and the situation code table.
type Taxonomy struct {
	Keywords       []string             `yaml:"keywords"`
	SituationCodes types.SituationTable `yaml:"situation_codes"`
}

// DefaultTaxonomy returns the built-in taxonomy.
func DefaultTaxonomy() (*Taxonomy, error) {
	return parseTaxonomy(defaultTaxonomy, "built-in taxonomy")
}

// LoadTaxonomy reads a YAML taxonomy file. An empty path yields the built-in taxonomy.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	if path == "" {
		return DefaultTaxonomy()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file %s: %w", path, err)
	}
	return parseTaxonomy(data, path)
}

func parseTaxonomy(data []byte, source string) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy %s: %w", source, err)
	}
	if len(t.SituationCodes) == 0 {
		t.SituationCodes = types.DefaultSituationTable()
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return &t, nil
}

// Validate requires at least one keyword and an open code mapped to the open label.
func (t *Taxonomy) Validate() error {
	if len(t.Keywords) == 0 {
		return fmt.Errorf("taxonomy error: 'keywords' must not be empty")
	}
	hasOpen, hasAwarded := false, false
	for code, label := range t.SituationCodes {
		if label.Canonical() == "" {
			return fmt.Errorf("taxonomy error: situation code %d has an empty label", code)
		}
		if label.IsOpen() {
			hasOpen = true
		}
		if label.IsAwarded() {
			hasAwarded = true
		}
	}
	if !hasOpen || !hasAwarded {
		return fmt.Errorf("taxonomy error: 'situation_codes' must map codes to %q and %q", types.SituationOpen, types.SituationAwarded)
	}
	return nil
}
