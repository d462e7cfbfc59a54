package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/TobiSchelling/BidScout/internal/database"
	"github.com/TobiSchelling/BidScout/internal/logging"
	"github.com/TobiSchelling/BidScout/internal/metrics"
	"github.com/TobiSchelling/BidScout/internal/pipeline"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func newTestServer(t *testing.T, db *database.DB, status StatusFunc) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Delivered("telegram", 3)
	srv, err := New(db, reg, status, logging.Discard())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	srv.now = func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) }
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func seed(t *testing.T, db *database.DB) {
	t.Helper()
	r := &database.Record{
		ExternalID:     "R-1",
		Description:    "Software de gestão",
		CategoryCode:   6,
		CategoryName:   "Pregão - Eletrônico",
		RegionCode:     "SP",
		City:           "Campinas",
		EstimatedValue: decimal.NewNullDecimal(decimal.RequireFromString("150000")),
		ClosingAt:      ptr("2026-11-01T10:00:00"),
	}
	if _, err := db.UpsertRecord(r); err != nil {
		t.Fatal(err)
	}
	db.SetMatched("R-1", 4.2)
	db.SaveAnalysis(&database.Analysis{RecordID: "R-1", Summary: "Compra de **software**.", Model: "m"})
	db.InsertCollectionRun(&database.CollectionRun{CycleID: "C1", CategoryCode: 6, Total: 1, NewCount: 1, Success: true,
		StartedAt: "2026-10-17 11:00:00", FinishedAt: "2026-10-17 11:00:01"})
	db.InsertUsage(&database.UsageEvent{Kind: database.UsageClassification, Model: "m", InputTokens: 10, OutputTokens: 5, Day: "2026-10-17"})
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), nil)
	rec := get(t, srv, "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestHealthzDatabaseDown(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db, nil)
	db.Close()

	if rec := get(t, srv, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), nil)
	rec := get(t, srv, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `bidscout_notifications_sent_total{channel="telegram"} 3`) {
		t.Errorf("metric missing from output:\n%s", rec.Body.String())
	}
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	last := &pipeline.Summary{CycleID: "01TEST", Steps: []pipeline.StepResult{
		{Name: "Collect", Summary: "Collected 1 records"},
		{Name: "Alerts", Err: errors.New("1 deliveries failed")},
	}}
	srv := newTestServer(t, db, func() *pipeline.Summary { return last })

	rec := get(t, srv, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Software de gestão", "R$ 150.000,00", "01TEST", "1 deliveries failed", "/records/R-1"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in response body", want)
		}
	}
}

func TestRecordRoute(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	rec := get(t, srv, "/records/R-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<strong>software</strong>") {
		t.Error("analysis markdown should be rendered")
	}

	if rec := get(t, srv, "/records/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAPIStats(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	rec := get(t, srv, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats database.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalRecords != 1 || stats.MatchedRecords != 1 || stats.OpenRecords != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestAPIRuns(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db, nil)

	rec := get(t, srv, "/api/runs")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty runs: %d %q", rec.Code, rec.Body.String())
	}

	seed(t, db)
	rec = get(t, srv, "/api/runs?limit=5")
	var runs []database.CollectionRun
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].CycleID != "C1" {
		t.Errorf("runs = %+v", runs)
	}

	if rec := get(t, srv, "/api/runs?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestAPIUsage(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	rec := get(t, srv, "/api/usage")
	var usage database.UsageTotals
	if err := json.Unmarshal(rec.Body.Bytes(), &usage); err != nil {
		t.Fatal(err)
	}
	if usage.Classifications != 1 || usage.Tokens != 15 {
		t.Errorf("usage = %+v", usage)
	}

	if rec := get(t, srv, "/api/usage?day=yesterday"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestAPICycle(t *testing.T) {
	db := openTestDB(t)
	var last *pipeline.Summary
	srv := newTestServer(t, db, func() *pipeline.Summary { return last })

	if rec := get(t, srv, "/api/cycle"); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 before the first cycle, got %d", rec.Code)
	}

	last = &pipeline.Summary{CycleID: "01X", NotificationsSent: 2, Steps: []pipeline.StepResult{{Name: "Alerts", Err: errors.New("boom")}}}
	rec := get(t, srv, "/api/cycle")
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["cycle_id"] != "01X" || body["notifications_sent"] != float64(2) {
		t.Errorf("body = %v", body)
	}
	steps := body["steps"].([]any)
	if steps[0].(map[string]any)["error"] != "boom" {
		t.Errorf("steps = %v", steps)
	}
}
