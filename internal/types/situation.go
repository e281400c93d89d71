package types

import (
	"strings"

	"github.com/jonathan/tender-monitor/internal/textnorm"
)

// Situation is the canonical label of a line item's procurement status.
type Situation string

// Canonical situation labels. Everything except SituationOpen is terminal.
const (
	SituationOpen      Situation = "EM ANDAMENTO"
	SituationAwarded   Situation = "HOMOLOGADO"
	SituationCancelled Situation = "CANCELADO"
	SituationVoid      Situation = "DESERTO"
	SituationFailed    Situation = "FRACASSADO"
)

var terminalSituations = map[Situation]struct{}{
	SituationAwarded:   {},
	SituationCancelled: {},
	SituationVoid:      {},
	SituationFailed:    {},
}

// Canonical returns the label uppercased with diacritics removed and surrounding space trimmed.
func (s Situation) Canonical() Situation {
	return Situation(strings.TrimSpace(textnorm.Normalize(string(s))))
}

// IsOpen reports whether s is blank or the open label.
func (s Situation) IsOpen() bool {
	c := s.Canonical()
	return c == "" || c == SituationOpen
}

// IsTerminal reports whether no further status change is expected.
// Labels outside the canonical set are not terminal.
func (s Situation) IsTerminal() bool {
	_, ok := terminalSituations[s.Canonical()]
	return ok
}

// IsAwarded reports whether s is the awarded label.
func (s Situation) IsAwarded() bool {
	return s.Canonical() == SituationAwarded
}

// SituationTable maps the registry's numeric item situation codes to canonical labels.
type SituationTable map[int]Situation

// DefaultSituationTable is the registry's published code list.
func DefaultSituationTable() SituationTable {
	return SituationTable{
		1: SituationOpen,
		2: SituationAwarded,
		3: SituationCancelled,
		4: SituationVoid,
		5: SituationFailed,
	}
}

// Label maps code, falling back to the registry's own label for unknown codes.
func (t SituationTable) Label(code int, upstream string) Situation {
	if label, ok := t[code]; ok {
		return label
	}
	return Situation(strings.TrimSpace(upstream))
}
