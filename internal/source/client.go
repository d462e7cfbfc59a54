package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL  = "https://pncp.gov.br/api/consulta"
	publicationPath = "/v1/contratacoes/publicacao"
	maxPageSize     = 500
)

// Options configures a Client. Zero values take the defaults.
type Options struct {
	BaseURL    string
	PageSize   int
	MaxRetries int           // total attempts per page
	RetryBase  time.Duration // first backoff delay
	RetryMax   time.Duration // backoff cap
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// Client fetches procurement notices from the PNCP consultation API.
type Client struct {
	http       *http.Client
	baseURL    string
	pageSize   int
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
	log        logrus.FieldLogger
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	c := &Client{
		http:       opts.HTTPClient,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		pageSize:   opts.PageSize,
		maxRetries: opts.MaxRetries,
		retryBase:  opts.RetryBase,
		retryMax:   opts.RetryMax,
		log:        opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.pageSize <= 0 {
		c.pageSize = 50
	}
	c.pageSize = min(c.pageSize, maxPageSize)
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	if c.retryBase <= 0 {
		c.retryBase = time.Second
	}
	if c.retryMax <= 0 {
		c.retryMax = 30 * time.Second
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	return c
}

func (c *Client) pageURL(axis Axis, page int) string {
	q := url.Values{}
	q.Set("dataInicial", axis.DateFrom.Format(dateLayout))
	q.Set("dataFinal", axis.DateTo.Format(dateLayout))
	q.Set("codigoModalidadeContratacao", strconv.Itoa(axis.Category))
	if axis.Region != "" {
		q.Set("uf", axis.Region)
	}
	q.Set("pagina", strconv.Itoa(page))
	q.Set("tamanhoPagina", strconv.Itoa(c.pageSize))
	return c.baseURL + publicationPath + "?" + q.Encode()
}

// FetchPage fetches one page of an axis. Transient failures are retried with
// exponential backoff up to the configured number of attempts; a 4xx other
// than 429 fails immediately with *PermanentRequestError.
func (c *Client) FetchPage(ctx context.Context, axis Axis, page int) (Page, error) {
	u := c.pageURL(axis, page)
	log := c.log.WithFields(logrus.Fields{"axis": axis.String(), "page": page})

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBase
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = c.retryMax
	b.Reset()

	attempt := 0
	op := func() (Page, error) {
		attempt++
		p, err := c.fetchOnce(ctx, u)
		if err == nil {
			return p, nil
		}
		var perm *PermanentRequestError
		if errors.As(err, &perm) {
			return Page{}, backoff.Permanent(err)
		}
		var te *TransientError
		if errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests {
			if secs, ok := retryAfter(te); ok {
				return Page{}, backoff.RetryAfter(min(secs, int(c.retryMax/time.Second)))
			}
		}
		return Page{}, err
	}

	p, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.maxRetries)),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.WithError(err).Warnf("retry %d/%d in %s", attempt, c.maxRetries, d)
		}),
	)
	if err != nil {
		return Page{}, fmt.Errorf("fetching %s page %d: %w", axis, page, err)
	}
	return p, nil
}

// retryAfterError carries a parsed Retry-After header inside a TransientError.
type retryAfterError struct {
	seconds int
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.seconds)
}

func retryAfter(te *TransientError) (int, bool) {
	var ra *retryAfterError
	if errors.As(te.Err, &ra) && ra.seconds > 0 {
		return ra.seconds, true
	}
	return 0, false
}

func (c *Client) fetchOnce(ctx context.Context, u string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Page{}, &PermanentRequestError{Body: err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, backoff.Permanent(ctx.Err())
		}
		return Page{}, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		// The API answers 204 when the window has no results.
		return Page{}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		var cause error = fmt.Errorf("status %d", resp.StatusCode)
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			cause = &retryAfterError{seconds: secs}
		}
		return Page{}, &TransientError{StatusCode: resp.StatusCode, Err: cause}
	case resp.StatusCode >= 500:
		return Page{}, &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Page{}, &PermanentRequestError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var pr pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return Page{}, &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding page: %w", err)}
	}

	page := Page{
		Items:      make([]Item, 0, len(pr.Data)),
		HasMore:    pr.PaginasRestantes > 0,
		TotalCount: pr.TotalRegistros,
	}
	for _, raw := range pr.Data {
		var it Item
		if err := json.Unmarshal(raw, &it); err != nil {
			return Page{}, &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding item: %w", err)}
		}
		if it.NumeroControlePNCP == "" {
			continue
		}
		it.raw = raw
		page.Items = append(page.Items, it)
	}
	if pr.Empty {
		page.HasMore = false
	}
	return page, nil
}

// FetchAll lazily yields the item batches of an axis, starting at page 1. It
// stops after a page with no items or one reporting no further pages, without
// another request. An error is yielded once and ends the sequence.
func (c *Client) FetchAll(ctx context.Context, axis Axis) iter.Seq2[[]Item, error] {
	return func(yield func([]Item, error) bool) {
		for page := 1; ; page++ {
			p, err := c.FetchPage(ctx, axis, page)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(p.Items) == 0 {
				return
			}
			if !yield(p.Items, nil) {
				return
			}
			if !p.HasMore {
				return
			}
		}
	}
}
