package scraper

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached serves repeated URLs from a bounded in-memory cache. Only usable
// pages are cached, so a failed page is fetched again on the next request.
type Cached struct {
	next    Fetcher
	pages   *lru.Cache[string, Page]
	metrics *Metrics
}

// NewCached wraps next with an LRU cache holding up to size pages.
func NewCached(next Fetcher, size int, metrics *Metrics) (*Cached, error) {
	pages, err := lru.New[string, Page](size)
	if err != nil {
		return nil, fmt.Errorf("create page cache: %w", err)
	}
	return &Cached{next: next, pages: pages, metrics: metrics}, nil
}

// Fetch returns cached pages and fetches the rest through the wrapped fetcher.
func (c *Cached) Fetch(ctx context.Context, urls []string) []Page {
	out := make([]Page, len(urls))
	positions := make(map[string][]int)
	var missing []string

	for i, u := range urls {
		if page, ok := c.pages.Get(u); ok {
			c.metrics.IncCacheHit()
			out[i] = page
			continue
		}
		if _, queued := positions[u]; !queued {
			missing = append(missing, u)
		}
		positions[u] = append(positions[u], i)
	}

	if len(missing) == 0 {
		return out
	}

	for j, page := range c.next.Fetch(ctx, missing) {
		u := missing[j]
		if page.OK() {
			c.pages.Add(u, page)
		}
		for _, i := range positions[u] {
			out[i] = page
		}
	}
	return out
}
