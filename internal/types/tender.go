// Package types provides the tender record model shared by discovery, reconciliation and the record store.
//
//nolint:revive // types is a standard Go package name pattern
package types

// TenderRecord is one procurement process as kept in the record store.
// Header fields are written by discovery; reconciliation only replaces Items.
type TenderRecord struct {
	ID           string     `json:"id"`
	Edital       string     `json:"edital"`
	PublishedAt  string     `json:"published_at"`
	ClosingAt    string     `json:"closing_at"`
	UF           string     `json:"uf"`
	Municipality string     `json:"municipality"`
	Organization string     `json:"organization"`
	Object       string     `json:"object"`
	Link         string     `json:"link"`
	Items        []LineItem `json:"items"`
}

// LineItem is one purchasable unit within a tender.
type LineItem struct {
	Number              int       `json:"number"`
	Description         string    `json:"description"`
	Quantity            float64   `json:"quantity"`
	EstimatedUnitPrice  float64   `json:"estimated_unit_price"`
	EstimatedTotalPrice float64   `json:"estimated_total_price"`
	Benefit             int       `json:"benefit"`
	Situation           Situation `json:"situation"`
	Supplier            *string   `json:"supplier"`
	AwardedUnitPrice    *float64  `json:"awarded_unit_price"`
}

// WithItems returns a copy of r whose items are replaced by items.
func (r TenderRecord) WithItems(items []LineItem) TenderRecord {
	out := r
	out.Items = make([]LineItem, len(items))
	copy(out.Items, items)
	return out
}

// Key decodes the record id.
func (r TenderRecord) Key() (TenderKey, error) {
	return DecodeID(r.ID)
}
