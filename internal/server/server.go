package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/BidScout/internal/database"
	"github.com/TobiSchelling/BidScout/internal/money"
	"github.com/TobiSchelling/BidScout/internal/pipeline"
)

//go:embed templates/*.html
var templateFS embed.FS

var md = goldmark.New()

// StatusFunc returns the most recent cycle summary, or nil before the first.
type StatusFunc func() *pipeline.Summary

// Server is the read-only status server.
type Server struct {
	db       *database.DB
	gatherer prometheus.Gatherer
	status   StatusFunc
	log      logrus.FieldLogger
	pages    map[string]*template.Template
	router   chi.Router
	now      func() time.Time
}

// New creates a new Server. gatherer and status may be nil.
func New(db *database.DB, gatherer prometheus.Gatherer, status StatusFunc, log logrus.FieldLogger) (*Server, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"brl":      formatValue,
		"truncate": truncate,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"score": func(f *float64) string {
			if f == nil {
				return "-"
			}
			return strconv.FormatFloat(*f, 'f', 1, 64)
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so "title" and "content" don't collide.
	pageNames := []string{"index.html", "record.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	if status == nil {
		status = func() *pipeline.Summary { return nil }
	}
	s := &Server{db: db, gatherer: gatherer, status: status, log: log, pages: pages, now: time.Now}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/json", "text/html"))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.db.Check(r.Context()); err != nil {
			s.log.WithError(err).Warn("health check failed")
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/", s.handleIndex)
	r.Get("/records/{id}", s.handleRecord)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/runs", s.handleRuns)
		r.Get("/usage", s.handleUsage)
		r.Get("/cycle", s.handleCycle)
	})
	s.router = r
}

func (s *Server) openAfter() string {
	return s.now().Format("2006-01-02T15:04:05")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats(s.openAfter())
	if err != nil {
		s.fail(w, "loading stats", err)
		return
	}
	runs, _ := s.db.RecentRuns(10)
	records, _ := s.db.TopMatched(20)

	s.render(w, "index.html", map[string]any{
		"Stats":   stats,
		"Runs":    runs,
		"Records": records,
		"Last":    s.status(),
	})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := s.db.GetRecord(id)
	if err != nil {
		s.fail(w, "loading record", err)
		return
	}
	if record == nil {
		http.NotFound(w, r)
		return
	}
	analysis, _ := s.db.GetAnalysis(id)
	s.render(w, "record.html", map[string]any{
		"Record":   record,
		"Analysis": analysis,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats(s.openAfter())
	if err != nil {
		s.fail(w, "loading stats", err)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, `{"error":"limit must be 1..500"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.db.RecentRuns(limit)
	if err != nil {
		s.fail(w, "loading runs", err)
		return
	}
	if runs == nil {
		runs = []database.CollectionRun{}
	}
	writeJSON(w, runs)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	if day == "" {
		day = s.now().Format(time.DateOnly)
	} else if _, err := time.Parse(time.DateOnly, day); err != nil {
		http.Error(w, `{"error":"day must be YYYY-MM-DD"}`, http.StatusBadRequest)
		return
	}
	usage, err := s.db.UsageForDay(day)
	if err != nil {
		s.fail(w, "loading usage", err)
		return
	}
	writeJSON(w, usage)
}

type stepJSON struct {
	Name    string `json:"name"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	last := s.status()
	if last == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	steps := make([]stepJSON, len(last.Steps))
	for i, st := range last.Steps {
		steps[i] = stepJSON{Name: st.Name, Summary: st.Summary}
		if st.Err != nil {
			steps[i].Error = st.Err.Error()
		}
	}
	writeJSON(w, map[string]any{
		"cycle_id":            last.CycleID,
		"started_at":          last.StartedAt,
		"duration_ms":         last.Duration.Milliseconds(),
		"collected":           last.Collected,
		"new":                 last.New,
		"updated":             last.Updated,
		"axis_errors":         last.AxisErrors,
		"matched":             last.Matched,
		"analyzed":            last.Analyzed,
		"notifications_sent":  last.NotificationsSent,
		"notification_errors": last.NotificationErrors,
		"steps":               steps,
	})
}

func (s *Server) fail(w http.ResponseWriter, what string, err error) {
	s.log.WithError(err).Error(what)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.Errorf("template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.fail(w, "rendering "+name, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func formatValue(v decimal.NullDecimal) string {
	if !v.Valid {
		return "Não informado"
	}
	return "R$ " + money.FormatBRL(v.Decimal)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// NewHTTPServer wraps the handler in an http.Server bound to localhost.
func NewHTTPServer(srv *Server, port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
