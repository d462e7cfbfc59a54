package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/sirupsen/logrus"
)

// ErrNoContent is returned when the page had no extractable text.
var ErrNoContent = errors.New("no extractable content")

const (
	minTextLength = 100
	maxBodyBytes  = 5 << 20
)

// HTTPError is returned for origin responses with status >= 400.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("origin returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// OriginFetcher downloads a record's origin page and extracts its readable
// text. Once a domain answers with an HTTP error it is skipped for the rest
// of the fetcher's lifetime.
type OriginFetcher struct {
	client   *http.Client
	maxChars int
	log      logrus.FieldLogger

	mu            sync.Mutex
	failedDomains map[string]struct{}
}

// NewOriginFetcher creates a fetcher. maxChars truncates the extracted text
// (0 = no limit).
func NewOriginFetcher(timeout time.Duration, maxChars int, log logrus.FieldLogger) *OriginFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &OriginFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		maxChars:      maxChars,
		log:           log,
		failedDomains: make(map[string]struct{}),
	}
}

// Text returns the readable text of the page at rawURL.
func (f *OriginFetcher) Text(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin url %q", rawURL)
	}
	domain := strings.ToLower(u.Host)

	f.mu.Lock()
	_, failed := f.failedDomains[domain]
	f.mu.Unlock()
	if failed {
		return "", fmt.Errorf("skipping %s after earlier HTTP error", domain)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "BidScout/1.0 (procurement monitor)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching origin: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		f.mu.Lock()
		f.failedDomains[domain] = struct{}{}
		f.mu.Unlock()
		f.log.WithFields(logrus.Fields{"url": rawURL, "status": resp.StatusCode}).Warn("origin HTTP error, skipping domain")
		return "", &HTTPError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("reading origin: %w", err)
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), u)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoContent, err)
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) < minTextLength {
		return "", ErrNoContent
	}
	if f.maxChars > 0 && len([]rune(text)) > f.maxChars {
		text = string([]rune(text)[:f.maxChars])
	}
	return text, nil
}
