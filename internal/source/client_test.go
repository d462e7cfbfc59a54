package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TobiSchelling/BidScout/internal/logging"
)

func testAxis() Axis {
	day := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	return Axis{Category: 6, DateFrom: day, DateTo: day.AddDate(0, 0, 1), Region: "SP"}
}

func newTestClient(url string, maxRetries int) *Client {
	return NewClient(Options{
		BaseURL:    url,
		MaxRetries: maxRetries,
		RetryBase:  time.Millisecond,
		RetryMax:   5 * time.Millisecond,
		Logger:     logging.Discard(),
	})
}

func itemsJSON(prefix string, n int) string {
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprintf(`{"numeroControlePNCP":"%s-%d","objetoCompra":"objeto %d","modalidadeId":6,
			"valorTotalEstimado":1000.5,"unidadeOrgao":{"ufSigla":"SP","municipioNome":"Campinas"},
			"orgaoEntidade":{"cnpj":"123","razaoSocial":"Prefeitura"}}`, prefix, i, i)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func pageJSON(items string, remaining int) string {
	return fmt.Sprintf(`{"data":%s,"totalRegistros":4,"totalPaginas":3,"numeroPagina":1,"paginasRestantes":%d,"empty":false}`,
		items, remaining)
}

func TestFetchAllStopsWhenNoMorePages(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch r.URL.Query().Get("pagina") {
		case "1":
			fmt.Fprint(w, pageJSON(itemsJSON("a", 2), 1))
		case "2":
			fmt.Fprint(w, pageJSON(itemsJSON("b", 2), 0))
		default:
			t.Errorf("unexpected request %d for page %s", n, r.URL.Query().Get("pagina"))
			fmt.Fprint(w, pageJSON("[]", 0))
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	var batches [][]Item
	for batch, err := range c.FetchAll(context.Background(), testAxis()) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		batches = append(batches, batch)
	}

	if len(batches) != 2 {
		t.Errorf("expected 2 batches, got %d", len(batches))
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 HTTP calls, got %d", calls.Load())
	}
}

func TestFetchAllStopsOnEmptyPage(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("pagina") == "1" {
			fmt.Fprint(w, pageJSON(itemsJSON("a", 2), 5))
			return
		}
		fmt.Fprint(w, pageJSON("[]", 4))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	count := 0
	for _, err := range c.FetchAll(context.Background(), testAxis()) {
		if err != nil {
			t.Fatal(err)
		}
		count++
	}
	if count != 1 || calls.Load() != 2 {
		t.Errorf("batches=%d calls=%d, want 1 and 2", count, calls.Load())
	}
}

func TestFetchAllNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	for range newTestClient(srv.URL, 3).FetchAll(context.Background(), testAxis()) {
		t.Fatal("expected no batches for 204")
	}
}

func TestFetchAllRestartsFromFirstPage(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages = append(pages, r.URL.Query().Get("pagina"))
		fmt.Fprint(w, pageJSON(itemsJSON("a", 1), 0))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	seq := c.FetchAll(context.Background(), testAxis())
	for range seq {
	}
	for range c.FetchAll(context.Background(), testAxis()) {
	}
	if strings.Join(pages, ",") != "1,1" {
		t.Errorf("expected each sequence to start at page 1, got %v", pages)
	}
}

func TestFetchPageRequestParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/contratacoes/publicacao" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		want := map[string]string{
			"dataInicial":                 "20261016",
			"dataFinal":                   "20261017",
			"codigoModalidadeContratacao": "6",
			"uf":                          "SP",
			"pagina":                      "3",
			"tamanhoPagina":               "50",
		}
		for k, v := range want {
			if q.Get(k) != v {
				t.Errorf("param %s = %q, want %q", k, q.Get(k), v)
			}
		}
		fmt.Fprint(w, pageJSON(itemsJSON("p", 1), 0))
	}))
	defer srv.Close()

	page, err := newTestClient(srv.URL, 1).FetchPage(context.Background(), testAxis(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.HasMore || page.TotalCount != 4 {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestFetchPageRetriesTransient(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"server error", http.StatusBadGateway},
		{"rate limited", http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) < 3 {
					w.WriteHeader(tt.status)
					return
				}
				fmt.Fprint(w, pageJSON(itemsJSON("r", 1), 0))
			}))
			defer srv.Close()

			page, err := newTestClient(srv.URL, 3).FetchPage(context.Background(), testAxis(), 1)
			if err != nil {
				t.Fatalf("expected success on third attempt: %v", err)
			}
			if len(page.Items) != 1 || calls.Load() != 3 {
				t.Errorf("items=%d calls=%d", len(page.Items), calls.Load())
			}
		})
	}
}

func TestFetchPageNeverExceedsMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 4).FetchPage(context.Background(), testAxis(), 1)
	if err == nil {
		t.Fatal("expected error")
	}
	var te *TransientError
	if !errors.As(err, &te) || te.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected TransientError 503, got %v", err)
	}
	if calls.Load() != 4 {
		t.Errorf("expected 4 attempts, got %d", calls.Load())
	}
}

func TestFetchPageClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "dataInicial inválida")
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).FetchPage(context.Background(), testAxis(), 1)
	var perm *PermanentRequestError
	if !errors.As(err, &perm) {
		t.Fatalf("expected PermanentRequestError, got %v", err)
	}
	if perm.StatusCode != http.StatusBadRequest || !strings.Contains(perm.Body, "inválida") {
		t.Errorf("unexpected error: %+v", perm)
	}
	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 call for 4xx, got %d", calls.Load())
	}
}

func TestFetchAllYieldsErrorOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pagina") == "1" {
			fmt.Fprint(w, pageJSON(itemsJSON("a", 1), 1))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var batches, errs int
	for _, err := range newTestClient(srv.URL, 2).FetchAll(context.Background(), testAxis()) {
		if err != nil {
			errs++
			continue
		}
		batches++
	}
	if batches != 1 || errs != 1 {
		t.Errorf("batches=%d errs=%d, want 1 and 1", batches, errs)
	}
}

func TestItemRecordMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageJSON(`[{"numeroControlePNCP":"X","objetoCompra":"obj","modalidadeId":8,
			"valorTotalEstimado":null,"linkSistemaOrigem":"  ",
			"dataEncerramentoProposta":"2026-11-01T10:00:00",
			"unidadeOrgao":{"ufSigla":"RJ","municipioNome":"Niterói"},
			"orgaoEntidade":{"cnpj":"1","razaoSocial":"Câmara"}}]`, 0))
	}))
	defer srv.Close()

	page, err := newTestClient(srv.URL, 1).FetchPage(context.Background(), testAxis(), 1)
	if err != nil {
		t.Fatal(err)
	}
	r := page.Items[0].Record()
	if r.ExternalID != "X" || r.RegionCode != "RJ" || r.City != "Niterói" || r.AgencyName != "Câmara" {
		t.Errorf("unexpected mapping: %+v", r)
	}
	if r.CategoryName != "Dispensa de Licitação" {
		t.Errorf("expected category name fallback, got %q", r.CategoryName)
	}
	if r.EstimatedValue.Valid {
		t.Error("expected null estimated value")
	}
	if r.OriginURL != nil {
		t.Error("blank origin url should map to nil")
	}
	if r.RawJSON == nil || !strings.Contains(*r.RawJSON, `"X"`) {
		t.Error("expected raw JSON to be kept")
	}
}

func TestAxes(t *testing.T) {
	from, to := time.Now(), time.Now()
	if got := Axes([]int{6, 8}, nil, from, to); len(got) != 2 || got[0].Region != "" {
		t.Errorf("nationwide axes: %+v", got)
	}
	if got := Axes([]int{6, 8}, []string{"sp", "RJ"}, from, to); len(got) != 4 || got[0].Region != "SP" {
		t.Errorf("regional axes: %+v", got)
	}
}
