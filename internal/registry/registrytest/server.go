// Package registrytest provides an in-memory fake of the procurement registry for tests.
package registrytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/jonathan/tender-monitor/internal/registry"
	"github.com/jonathan/tender-monitor/internal/types"
)

// Tender is a fake registry entry.
type Tender struct {
	Summary registry.TenderSummary
	Items   []registry.Item
	// Results maps item number to its award results.
	Results map[int][]registry.Result
}

// Key returns the identity of the tender.
func (t Tender) Key() types.TenderKey {
	key, err := types.NewTenderKey(t.Summary.Organization.CNPJ, int(t.Summary.Year), int(t.Summary.Sequence))
	if err != nil {
		panic(err)
	}
	return key
}

type failure struct {
	remaining int // negative fails forever
	status    int
}

// Server serves the list, item and result endpoints from memory.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	days         map[string][]string // YYYYMMDD -> ids in publication order
	tenders      map[string]*Tender
	itemFailures map[string]*failure
	listFailures map[string]*failure
	requests     map[string]int
}

// NewServer starts a fake registry. Close it when done.
func NewServer() *Server {
	s := &Server{
		days:         make(map[string][]string),
		tenders:      make(map[string]*Tender),
		itemFailures: make(map[string]*failure),
		listFailures: make(map[string]*failure),
		requests:     make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /consulta/v1/contratacoes/publicacao", s.handleList)
	mux.HandleFunc("GET /pncp/v1/orgaos/{cnpj}/compras/{ano}/{seq}/itens", s.handleItems)
	mux.HandleFunc("GET /pncp/v1/orgaos/{cnpj}/compras/{ano}/{seq}/itens/{n}/resultados", s.handleResults)
	s.Server = httptest.NewServer(mux)
	return s
}

// Config returns a registry configuration pointing at the fake.
func (s *Server) Config() registry.Config {
	cfg := registry.DefaultConfig()
	cfg.ConsultaBaseURL = s.URL + "/consulta"
	cfg.PNCPBaseURL = s.URL + "/pncp"
	cfg.Timeout = 5 * time.Second
	return cfg
}

// Publish adds or replaces a tender published on day.
func (s *Server) Publish(day time.Time, t Tender) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := t.Key().ID()
	d := day.Format(registry.DateLayout)
	if _, exists := s.tenders[id]; !exists {
		s.days[d] = append(s.days[d], id)
	}
	copied := t
	s.tenders[id] = &copied
	return id
}

// SetItems replaces the items of a published tender.
func (s *Server) SetItems(id string, items []registry.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenders[id].Items = items
}

// SetResults replaces the results of one item.
func (s *Server) SetResults(id string, itemNumber int, results []registry.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenders[id]
	if t.Results == nil {
		t.Results = make(map[int][]registry.Result)
	}
	t.Results[itemNumber] = results
}

// FailItems makes the next n item list requests of tender id answer with status.
// A negative n fails every request.
func (s *Server) FailItems(id string, n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemFailures[id] = &failure{remaining: n, status: status}
}

// FailList makes the next n list requests for day answer with status.
func (s *Server) FailList(day time.Time, n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listFailures[day.Format(registry.DateLayout)] = &failure{remaining: n, status: status}
}

// Requests returns how many requests hit an endpoint kind: "list", "items:<id>" or "results:<id>".
func (s *Server) Requests(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[kind]
}

func (f *failure) take() (int, bool) {
	if f == nil || f.remaining == 0 {
		return 0, false
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f.status, true
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	day := q.Get("dataInicial")
	page, _ := strconv.Atoi(q.Get("pagina"))
	size, _ := strconv.Atoi(q.Get("tamanhoPagina"))
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}

	s.mu.Lock()
	s.requests["list"]++
	if status, fail := s.listFailures[day].take(); fail {
		s.mu.Unlock()
		w.WriteHeader(status)
		return
	}
	ids := s.days[day]
	var data []registry.TenderSummary
	for i := (page - 1) * size; i < len(ids) && i < page*size; i++ {
		data = append(data, s.tenders[ids[i]].Summary)
	}
	totalPages := (len(ids) + size - 1) / size
	s.mu.Unlock()

	if len(ids) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, map[string]any{
		"data":             data,
		"totalRegistros":   len(ids),
		"totalPaginas":     totalPages,
		"numeroPagina":     page,
		"paginasRestantes": totalPages - page,
	})
}

func (s *Server) lookup(r *http.Request) (*Tender, string, bool) {
	ano, _ := strconv.Atoi(r.PathValue("ano"))
	seq, _ := strconv.Atoi(r.PathValue("seq"))
	id, err := types.EncodeID(r.PathValue("cnpj"), ano, seq)
	if err != nil {
		return nil, "", false
	}
	t, ok := s.tenders[id]
	return t, id, ok
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("pagina"))
	size, _ := strconv.Atoi(r.URL.Query().Get("tamanhoPagina"))
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 500
	}

	s.mu.Lock()
	t, id, ok := s.lookup(r)
	s.requests["items:"+id]++
	if !ok {
		s.mu.Unlock()
		http.NotFound(w, r)
		return
	}
	if status, fail := s.itemFailures[id].take(); fail {
		s.mu.Unlock()
		w.WriteHeader(status)
		return
	}
	items := []registry.Item{}
	for i := (page - 1) * size; i < len(t.Items) && i < page*size; i++ {
		items = append(items, t.Items[i])
	}
	s.mu.Unlock()

	writeJSON(w, items)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.PathValue("n"))

	s.mu.Lock()
	t, id, ok := s.lookup(r)
	s.requests["results:"+id]++
	if !ok {
		s.mu.Unlock()
		http.NotFound(w, r)
		return
	}
	results := t.Results[n]
	if results == nil {
		results = []registry.Result{}
	}
	s.mu.Unlock()

	writeJSON(w, results)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("encode: %v", err), http.StatusInternalServerError)
	}
}

// Summary builds a tender summary for tests.
func Summary(cnpj string, year, seq int, object string) registry.TenderSummary {
	return registry.TenderSummary{
		Organization: registry.Organization{CNPJ: cnpj, RazaoSocial: "MUNICIPIO DE TESTE"},
		Unit:         registry.Unit{UFSigla: "MG", MunicipioNome: "Belo Horizonte"},
		Year:         registry.Int(year),
		Sequence:     registry.Int(seq),
		Number:       fmt.Sprintf("%d/%d", seq, year),
		PublishedAt:  fmt.Sprintf("%d-03-10T09:00:00", year),
		ClosingAt:    fmt.Sprintf("%d-03-25T09:00:00", year),
		Object:       object,
	}
}
