package registry

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jonathan/tender-monitor/internal/types"
)

// Number is a float that decodes from a JSON number, a numeric string
// (dot or comma decimal separator) or anything else, which becomes zero.
type Number float64

// UnmarshalJSON never fails; malformed input yields zero.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number(parseFloat(data))
	return nil
}

// Int is an integer with the same fail-soft decoding as Number.
type Int int

// UnmarshalJSON never fails; malformed input yields zero. Fractions are truncated.
func (i *Int) UnmarshalJSON(data []byte) error {
	*i = Int(parseFloat(data))
	return nil
}

func parseFloat(data []byte) float64 {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return 0
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0
		}
		raw = strings.TrimSpace(s)
		if strings.Contains(raw, ",") {
			raw = strings.ReplaceAll(raw, ".", "")
			raw = strings.ReplaceAll(raw, ",", ".")
		}
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return f
}

// Organization is the issuing public body of a tender.
type Organization struct {
	CNPJ        string `json:"cnpj"`
	RazaoSocial string `json:"razaoSocial"`
}

// Unit is the organizational unit running a tender.
type Unit struct {
	UFSigla       string `json:"ufSigla"`
	MunicipioNome string `json:"municipioNome"`
}

// TenderSummary is one entry of the publication list endpoint.
type TenderSummary struct {
	Organization Organization `json:"orgaoEntidade"`
	Unit         Unit         `json:"unidadeOrgao"`
	Year         Int          `json:"anoCompra"`
	Sequence     Int          `json:"sequencialCompra"`
	Number       string       `json:"numeroCompra"`
	PublishedAt  string       `json:"dataPublicacaoPncp"`
	ClosingAt    string       `json:"dataEncerramentoProposta"`
	Object       string       `json:"objetoCompra"`
}

// Item is one line item as returned by the item list endpoint.
type Item struct {
	Number        Int    `json:"numeroItem"`
	Description   string `json:"descricao"`
	Quantity      Number `json:"quantidade"`
	UnitPrice     Number `json:"valorUnitarioEstimado"`
	TotalPrice    Number `json:"valorTotal"`
	Benefit       Int    `json:"tipoBeneficio"`
	SituationCode Int    `json:"situacaoCompraItem"`
	SituationName string `json:"situacaoCompraItemNome"`
	HasResult     bool   `json:"temResultado"`
}

// LineItem converts the wire item to the stored shape, mapping the situation
// code through table. Supplier fields are left empty.
func (it Item) LineItem(table types.SituationTable) types.LineItem {
	return types.LineItem{
		Number:              int(it.Number),
		Description:         strings.TrimSpace(it.Description),
		Quantity:            float64(it.Quantity),
		EstimatedUnitPrice:  float64(it.UnitPrice),
		EstimatedTotalPrice: float64(it.TotalPrice),
		Benefit:             int(it.Benefit),
		Situation:           table.Label(int(it.SituationCode), it.SituationName),
	}
}

// Result is one award result of an item.
type Result struct {
	Supplier  string `json:"nomeRazaoSocialFornecedor"`
	UnitPrice Number `json:"valorUnitarioHomologado"`
}

type listPage struct {
	Data         []TenderSummary `json:"data"`
	TotalPages   int             `json:"totalPaginas"`
	PagesLeft    int             `json:"paginasRestantes"`
	TotalRecords int             `json:"totalRegistros"`
}

// itemPage accepts either a bare array of items or an object wrapping them in "data".
type itemPage []Item

func (p *itemPage) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*p = nil
		return nil
	}
	if trimmed[0] == '[' {
		var items []Item
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*p = items
		return nil
	}
	var wrapped struct {
		Data []Item `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return err
	}
	*p = wrapped.Data
	return nil
}
