package types

// Outcome classifies what happened to one unit of work (a tender summary or a stored record) during a run.
type Outcome int

const (
	// OutcomeUnchanged means the unit was processed and nothing needs merging:
	// no keyword matched during discovery, or upstream had no items to apply.
	OutcomeUnchanged Outcome = iota
	// OutcomeUpdated means the unit produced a record to merge into the store.
	OutcomeUpdated
	// OutcomeSkipped means a transient transport or parse failure; prior stored state is kept.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeUpdated:
		return "updated"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}
