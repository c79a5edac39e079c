package scraper

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aluiziolira/go-scrape-films/config"
	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"
)

// httpFetcher issues plain GETs through resty, at most workers at a time.
type httpFetcher struct {
	client  *resty.Client
	workers int
	metrics *Metrics
}

func newHTTPFetcher(cfg *config.Config, o *options, workers int) *httpFetcher {
	if workers < 1 {
		workers = 1
	}

	client := resty.New()
	client.SetHeader("User-Agent", cfg.UserAgent)
	client.SetTimeout(cfg.Timeout)
	client.SetRetryCount(cfg.MaxRetries)
	client.SetRetryWaitTime(cfg.RetryBackoff)
	client.SetRetryMaxWaitTime(cfg.RetryBackoffMax)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		if r == nil {
			return false
		}
		code := r.StatusCode()
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	})
	client.AddRetryHook(func(*resty.Response, error) {
		o.metrics.IncRetries()
	})
	if o.transport != nil {
		client.SetTransport(o.transport)
	}

	return &httpFetcher{client: client, workers: workers, metrics: o.metrics}
}

func (f *httpFetcher) Fetch(ctx context.Context, urls []string) []Page {
	unique := distinct(urls)
	results := make([]Page, len(unique))

	if f.workers == 1 {
		for i, u := range unique {
			results[i] = f.get(ctx, u)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(f.workers)
		for i, u := range unique {
			g.Go(func() error {
				results[i] = f.get(gctx, u)
				return nil
			})
		}
		_ = g.Wait()
	}

	byURL := make(map[string]Page, len(results))
	for _, page := range results {
		byURL[page.URL] = page
	}
	return fanOut(urls, byURL, ctx.Err())
}

func (f *httpFetcher) get(ctx context.Context, url string) Page {
	if err := ctx.Err(); err != nil {
		return Page{URL: url, Err: err}
	}

	f.metrics.IncRequest("started")
	start := time.Now()
	resp, err := f.client.R().SetContext(ctx).Get(url)
	f.metrics.ObserveDuration(time.Since(start))

	if err != nil {
		return failedPage(f.metrics, url, 0, err)
	}
	if !resp.IsSuccess() {
		return failedPage(f.metrics, url, resp.StatusCode(), nil)
	}
	f.metrics.IncRequest("succeeded")
	return Page{URL: url, StatusCode: resp.StatusCode(), Body: resp.Body()}
}

// failedPage classifies a failed fetch, logs it and counts it.
func failedPage(m *Metrics, url string, statusCode int, err error) Page {
	classified := classifyError(err, statusCode)
	if classified == nil {
		classified = errNotFetched
	}
	category := errorTypeLabel(classified)

	slog.Warn("request error",
		slog.String("url", url),
		slog.Int("status", statusCode),
		slog.String("category", category),
		slog.Any("error", classified),
	)
	m.IncError(category)
	m.IncRequest("failed")
	return Page{URL: url, StatusCode: statusCode, Err: classified}
}
