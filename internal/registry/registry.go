// Package registry is the client for the public procurement registry's
// publication list, item list and item result endpoints.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonathan/tender-monitor/internal/fetch"
	"github.com/jonathan/tender-monitor/internal/types"
)

// DateLayout is the registry's date parameter format.
const DateLayout = "20060102"

// Config locates the registry endpoints and sizes requests.
type Config struct {
	ConsultaBaseURL string
	PNCPBaseURL     string
	AppBaseURL      string

	ModalityCode int
	PageSize     int
	ItemPageSize int
	// MaxPages bounds pagination of both the tender list and each item list.
	MaxPages int

	Timeout time.Duration
}

// DefaultConfig points at the public PNCP API.
func DefaultConfig() Config {
	return Config{
		ConsultaBaseURL: "https://pncp.gov.br/api/consulta",
		PNCPBaseURL:     "https://pncp.gov.br/api/pncp",
		AppBaseURL:      "https://pncp.gov.br/app",
		ModalityCode:    6,
		PageSize:        50,
		ItemPageSize:    500,
		MaxPages:        50,
		Timeout:         fetch.DefaultTimeout,
	}
}

// PageError reports a failed page of a paginated listing.
// Pages before Page were fetched successfully.
type PageError struct {
	Page  int
	Cause error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Cause)
}

func (e *PageError) Unwrap() error {
	return e.Cause
}

// Client queries the registry.
type Client struct {
	http *http.Client
	cfg  Config
}

// NewClient wraps an HTTP client built by fetch.NewClient.
func NewClient(httpClient *http.Client, cfg Config) *Client {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.ItemPageSize <= 0 {
		cfg.ItemPageSize = def.ItemPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Client{http: httpClient, cfg: cfg}
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// ListURL builds the publication list URL for one day and page.
func (c *Client) ListURL(day time.Time, page int) string {
	q := url.Values{}
	d := day.Format(DateLayout)
	q.Set("dataInicial", d)
	q.Set("dataFinal", d)
	q.Set("codigoModalidadeContratacao", strconv.Itoa(c.cfg.ModalityCode))
	q.Set("pagina", strconv.Itoa(page))
	q.Set("tamanhoPagina", strconv.Itoa(c.cfg.PageSize))
	return c.cfg.ConsultaBaseURL + "/v1/contratacoes/publicacao?" + q.Encode()
}

// ItemsURL builds the item list URL of a tender.
func (c *Client) ItemsURL(key types.TenderKey, page int) string {
	q := url.Values{}
	q.Set("pagina", strconv.Itoa(page))
	q.Set("tamanhoPagina", strconv.Itoa(c.cfg.ItemPageSize))
	return fmt.Sprintf("%s/v1/orgaos/%s/compras/%d/%d/itens?%s",
		c.cfg.PNCPBaseURL, key.TaxID, key.Year, key.Sequence, q.Encode())
}

// ResultsURL builds the result list URL of one item.
func (c *Client) ResultsURL(key types.TenderKey, itemNumber int) string {
	return fmt.Sprintf("%s/v1/orgaos/%s/compras/%d/%d/itens/%d/resultados",
		c.cfg.PNCPBaseURL, key.TaxID, key.Year, key.Sequence, itemNumber)
}

// BrowseLink is the human-facing page of a tender.
func (c *Client) BrowseLink(key types.TenderKey) string {
	return fmt.Sprintf("%s/editais/%s/%d/%d", c.cfg.AppBaseURL, key.TaxID, key.Year, key.Sequence)
}

// ListTenders returns every tender published on day for the configured modality.
// A failure on the first page is returned with no summaries. A failure on a later
// page returns the summaries gathered so far together with a *PageError.
func (c *Client) ListTenders(ctx context.Context, day time.Time) ([]TenderSummary, error) {
	var all []TenderSummary
	for page := 1; page <= c.cfg.MaxPages; page++ {
		var resp listPage
		if err := fetch.GetJSON(ctx, c.http, c.ListURL(day, page), c.cfg.Timeout, &resp); err != nil {
			return all, &PageError{Page: page, Cause: err}
		}
		all = append(all, resp.Data...)
		if len(resp.Data) == 0 || page >= resp.TotalPages {
			break
		}
	}
	return all, nil
}

// ListItems returns every line item of a tender. Any failed page fails the whole call.
func (c *Client) ListItems(ctx context.Context, key types.TenderKey) ([]Item, error) {
	var all []Item
	for page := 1; page <= c.cfg.MaxPages; page++ {
		var items itemPage
		if err := fetch.GetJSON(ctx, c.http, c.ItemsURL(key, page), c.cfg.Timeout, &items); err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) < c.cfg.ItemPageSize {
			break
		}
	}
	return all, nil
}

// FirstResult returns the first award result of an item, or nil when there is none.
func (c *Client) FirstResult(ctx context.Context, key types.TenderKey, itemNumber int) (*Result, error) {
	var results []Result
	if err := fetch.GetJSON(ctx, c.http, c.ResultsURL(key, itemNumber), c.cfg.Timeout, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}
