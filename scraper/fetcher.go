package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aluiziolira/go-scrape-films/config"
)

// errNotFetched marks a URL the strategy never got a response for, usually
// because the run was cancelled first.
var errNotFetched = errors.New("not fetched")

// Page is the raw result of one GET. A failed fetch keeps the URL, leaves
// Body nil and records the classified error.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	Err        error
}

// OK reports whether the page holds a usable 2xx body.
func (p Page) OK() bool {
	return p.Err == nil && p.Body != nil && p.StatusCode >= 200 && p.StatusCode < 300
}

// Fetcher retrieves pages. Fetch returns one Page per input URL, in input
// order. It never aborts the batch on a failed page.
type Fetcher interface {
	Fetch(ctx context.Context, urls []string) []Page
}

// Option customises the fetchers built by New.
type Option func(*options)

type options struct {
	transport http.RoundTripper
	metrics   *Metrics
}

// WithTransport replaces the HTTP transport, mainly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// WithMetrics records fetch metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// New builds the fetch strategy named by cfg.FetchMode. A positive
// cfg.CacheSize wraps it in a page cache.
func New(cfg *config.Config, opts ...Option) (Fetcher, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	var f Fetcher
	switch cfg.FetchMode {
	case config.FetchSequential:
		f = newHTTPFetcher(cfg, o, 1)
	case config.FetchPool:
		f = newHTTPFetcher(cfg, o, cfg.Parallelism)
	case config.FetchCollector:
		f = newCollectorFetcher(cfg, o)
	default:
		return nil, fmt.Errorf("unknown fetch mode %q", cfg.FetchMode)
	}

	if cfg.CacheSize > 0 {
		cached, err := NewCached(f, cfg.CacheSize, o.metrics)
		if err != nil {
			return nil, err
		}
		f = cached
	}
	return f, nil
}

// distinct returns the unique URLs in first-seen order.
func distinct(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// fanOut maps the per-URL results back onto every input position. URLs
// without a result become failed pages carrying fallback.
func fanOut(urls []string, byURL map[string]Page, fallback error) []Page {
	if fallback == nil {
		fallback = errNotFetched
	}
	out := make([]Page, len(urls))
	for i, u := range urls {
		page, ok := byURL[u]
		if !ok {
			page = Page{URL: u, Err: fallback}
		}
		out[i] = page
	}
	return out
}
