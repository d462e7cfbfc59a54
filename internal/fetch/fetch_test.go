package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TobiSchelling/BidScout/internal/logging"
)

const page = `<html><head><title>Edital</title></head><body>
<article><h1>Pregão eletrônico 12/2026</h1>
<p>Objeto: contratação de empresa especializada em desenvolvimento de software de gestão municipal,
incluindo implantação, treinamento e suporte técnico pelo período de doze meses.</p>
<p>As propostas deverão ser enviadas pelo portal até a data de encerramento indicada no edital,
acompanhadas dos documentos de habilitação exigidos.</p>
</article></body></html>`

func TestTextExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	f := NewOriginFetcher(time.Second, 0, logging.Discard())
	text, err := f.Text(context.Background(), srv.URL+"/edital")
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if !strings.Contains(text, "software de gestão municipal") {
		t.Errorf("unexpected text: %q", text)
	}
}

func TestTextTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	f := NewOriginFetcher(time.Second, 20, logging.Discard())
	text, err := f.Text(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if n := len([]rune(text)); n != 20 {
		t.Errorf("len = %d, want 20", n)
	}
}

func TestTextSkipsFailedDomain(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewOriginFetcher(time.Second, 0, logging.Discard())
	_, err := f.Text(context.Background(), srv.URL+"/a")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected HTTPError 403, got %v", err)
	}
	if _, err := f.Text(context.Background(), srv.URL+"/b"); err == nil {
		t.Error("expected second fetch from failed domain to be skipped")
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1", calls.Load())
	}
}

func TestTextNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>curto</p></body></html>"))
	}))
	defer srv.Close()

	f := NewOriginFetcher(time.Second, 0, logging.Discard())
	if _, err := f.Text(context.Background(), srv.URL); !errors.Is(err, ErrNoContent) {
		t.Errorf("expected ErrNoContent, got %v", err)
	}
}

func TestTextInvalidURL(t *testing.T) {
	f := NewOriginFetcher(time.Second, 0, logging.Discard())
	if _, err := f.Text(context.Background(), "not a url"); err == nil {
		t.Error("expected error for invalid url")
	}
}
