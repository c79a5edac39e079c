package scraper

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-films/config"
	"github.com/gocolly/colly/v2"
)

// collectorFetcher drives an async colly collector. Each Fetch call gets a
// fresh collector so colly's visited set never hides a URL from a later batch.
type collectorFetcher struct {
	cfg       *config.Config
	transport http.RoundTripper
	metrics   *Metrics
}

func newCollectorFetcher(cfg *config.Config, o *options) *collectorFetcher {
	transport := o.transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}
	return &collectorFetcher{cfg: cfg, transport: transport, metrics: o.metrics}
}

func (f *collectorFetcher) Fetch(ctx context.Context, urls []string) []Page {
	unique := distinct(urls)
	byURL := make(map[string]Page, len(unique))
	var mu sync.Mutex
	record := func(page Page) {
		mu.Lock()
		byURL[page.URL] = page
		mu.Unlock()
	}

	c := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(f.cfg.UserAgent),
	)
	c.SetRequestTimeout(f.cfg.Timeout)
	c.WithTransport(f.transport)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: f.cfg.Parallelism,
	}); err != nil {
		for _, u := range unique {
			record(failedPage(f.metrics, u, 0, err))
		}
		return fanOut(urls, byURL, ctx.Err())
	}

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Ctx.Put("start", time.Now())
		f.metrics.IncRequest("started")
	})

	c.OnResponse(func(r *colly.Response) {
		if start, ok := r.Ctx.GetAny("start").(time.Time); ok {
			f.metrics.ObserveDuration(time.Since(start))
		}
		f.metrics.IncRequest("succeeded")
		record(Page{URL: r.Ctx.Get("url"), StatusCode: r.StatusCode, Body: r.Body})
	})

	c.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		key := r.Ctx.Get("url")
		classified := classifyError(err, r.StatusCode)

		attempt, _ := r.Ctx.GetAny("attempt").(int)
		if retryable(classified) && attempt < f.cfg.MaxRetries && f.wait(ctx, attempt+1) {
			r.Ctx.Put("attempt", attempt+1)
			f.metrics.IncRetries()
			if retryErr := r.Request.Retry(); retryErr == nil {
				return
			}
		}
		record(failedPage(f.metrics, key, r.StatusCode, err))
	})

	for _, u := range unique {
		reqCtx := colly.NewContext()
		reqCtx.Put("url", u)
		if err := c.Request(http.MethodGet, u, nil, reqCtx, nil); err != nil {
			record(failedPage(f.metrics, u, 0, err))
		}
	}
	c.Wait()

	return fanOut(urls, byURL, ctx.Err())
}

// wait sleeps for the backoff of attempt and reports whether the run is still
// live afterwards.
func (f *collectorFetcher) wait(ctx context.Context, attempt int) bool {
	timer := time.NewTimer(backoff(f.cfg.RetryBackoff, f.cfg.RetryBackoffMax, attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// backoff doubles base per attempt, capped at max when max is positive.
func backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}
