package registry_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jonathan/tender-monitor/internal/fetch"
	"github.com/jonathan/tender-monitor/internal/registry"
	"github.com/jonathan/tender-monitor/internal/registry/registrytest"
	"github.com/jonathan/tender-monitor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func newClient(t *testing.T, srv *registrytest.Server, mutate func(*registry.Config)) *registry.Client {
	t.Helper()
	opts := fetch.DefaultOptions()
	opts.RetryWaitMin = time.Millisecond
	opts.RetryWaitMax = 5 * time.Millisecond
	cfg := srv.Config()
	if mutate != nil {
		mutate(&cfg)
	}
	return registry.NewClient(fetch.NewClient(opts), cfg)
}

func TestClient_URLs(t *testing.T) {
	c := registry.NewClient(http.DefaultClient, registry.DefaultConfig())
	key, err := types.NewTenderKey("12.345.678/0001-90", 2025, 57)
	require.NoError(t, err)

	assert.Equal(t, "https://pncp.gov.br/api/pncp/v1/orgaos/12345678000190/compras/2025/57/itens?pagina=2&tamanhoPagina=500", c.ItemsURL(key, 2))
	assert.Equal(t, "https://pncp.gov.br/api/pncp/v1/orgaos/12345678000190/compras/2025/57/itens/3/resultados", c.ResultsURL(key, 3))
	assert.Equal(t, "https://pncp.gov.br/app/editais/12345678000190/2025/57", c.BrowseLink(key))
	assert.Equal(t, "https://pncp.gov.br/api/consulta/v1/contratacoes/publicacao?codigoModalidadeContratacao=6&dataFinal=20250310&dataInicial=20250310&pagina=1&tamanhoPagina=50", c.ListURL(day, 1))
}

func TestClient_ListTenders_Paginates(t *testing.T) {
	srv := registrytest.NewServer()
	defer srv.Close()

	for seq := 1; seq <= 5; seq++ {
		srv.Publish(day, registrytest.Tender{Summary: registrytest.Summary("12345678000190", 2025, seq, "Compra")})
	}

	c := newClient(t, srv, func(cfg *registry.Config) { cfg.PageSize = 2 })
	summaries, err := c.ListTenders(context.Background(), day)
	require.NoError(t, err)
	assert.Len(t, summaries, 5)
	assert.Equal(t, 3, srv.Requests("list"))
}

func TestClient_ListTenders_EmptyDay(t *testing.T) {
	srv := registrytest.NewServer()
	defer srv.Close()

	summaries, err := newClient(t, srv, nil).ListTenders(context.Background(), day)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestClient_ListTenders_FirstPageFails(t *testing.T) {
	srv := registrytest.NewServer()
	defer srv.Close()
	srv.Publish(day, registrytest.Tender{Summary: registrytest.Summary("12345678000190", 2025, 1, "Compra")})
	srv.FailList(day, -1, http.StatusBadGateway)

	summaries, err := newClient(t, srv, nil).ListTenders(context.Background(), day)
	require.Error(t, err)
	assert.Empty(t, summaries)

	var pageErr *registry.PageError
	require.ErrorAs(t, err, &pageErr)
	assert.Equal(t, 1, pageErr.Page)
	assert.Equal(t, http.StatusBadGateway, fetch.StatusCode(err))
}

func TestClient_ListItems_Paginates(t *testing.T) {
	srv := registrytest.NewServer()
	defer srv.Close()

	items := make([]registry.Item, 7)
	for i := range items {
		items[i] = registry.Item{Number: registry.Int(i + 1), Description: "VACINA"}
	}
	tender := registrytest.Tender{Summary: registrytest.Summary("12345678000190", 2025, 9, "Vacinas"), Items: items}
	id := srv.Publish(day, tender)

	c := newClient(t, srv, func(cfg *registry.Config) { cfg.ItemPageSize = 3 })
	got, err := c.ListItems(context.Background(), tender.Key())
	require.NoError(t, err)
	assert.Len(t, got, 7)
	assert.Equal(t, 3, srv.Requests("items:"+id))
}

func TestClient_FirstResult(t *testing.T) {
	srv := registrytest.NewServer()
	defer srv.Close()

	tender := registrytest.Tender{Summary: registrytest.Summary("12345678000190", 2025, 4, "Vacinas")}
	id := srv.Publish(day, tender)
	c := newClient(t, srv, nil)

	res, err := c.FirstResult(context.Background(), tender.Key(), 1)
	require.NoError(t, err)
	assert.Nil(t, res)

	srv.SetResults(id, 1, []registry.Result{
		{Supplier: "FARMA LTDA", UnitPrice: 12.5},
		{Supplier: "OUTRA LTDA", UnitPrice: 13},
	})
	res, err = c.FirstResult(context.Background(), tender.Key(), 1)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "FARMA LTDA", res.Supplier)
	assert.InDelta(t, 12.5, float64(res.UnitPrice), 1e-9)
}

func TestItem_FailSoftNumbers(t *testing.T) {
	raw := `{
		"numeroItem": "3",
		"descricao": "Seringa",
		"quantidade": "1.234,5",
		"valorUnitarioEstimado": null,
		"valorTotal": {"unexpected": true},
		"tipoBeneficio": "abc",
		"situacaoCompraItem": 2.0
	}`

	var item registry.Item
	require.NoError(t, json.Unmarshal([]byte(raw), &item))
	assert.Equal(t, registry.Int(3), item.Number)
	assert.InDelta(t, 1234.5, float64(item.Quantity), 1e-9)
	assert.Zero(t, item.UnitPrice)
	assert.Zero(t, item.TotalPrice)
	assert.Zero(t, item.Benefit)
	assert.Equal(t, registry.Int(2), item.SituationCode)
}
