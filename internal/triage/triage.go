// Package triage decides which stored tenders are worth re-fetching.
package triage

import (
	"sort"

	"github.com/jonathan/tender-monitor/internal/types"
)

// Records is the read side of the record store that triage needs.
type Records interface {
	IDs() []string
	Get(id string) (types.TenderRecord, bool)
}

// NeedsRefresh reports whether rec may still change upstream: it has no items
// (a capture that probably failed) or at least one item is open or unlabeled.
// It is false only when every item is terminal. Time since the last check plays no part.
func NeedsRefresh(rec types.TenderRecord) bool {
	if len(rec.Items) == 0 {
		return true
	}
	for _, item := range rec.Items {
		if !item.Situation.IsTerminal() {
			return true
		}
	}
	return false
}

// Select returns the ids of every record that needs a refresh, in ascending order.
func Select(records Records) []string {
	var ids []string
	for _, id := range records.IDs() {
		rec, ok := records.Get(id)
		if ok && NeedsRefresh(rec) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
