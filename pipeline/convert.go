package pipeline

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-films/config"
	"github.com/aluiziolira/go-scrape-films/scraper"
)

// Converter turns fetched pages into HTML documents, either inline or on a
// bounded pool of workers. Output order always matches input order.
type Converter struct {
	mode    string
	workers int
}

// NewConverter builds a converter for a parse mode.
func NewConverter(mode string, workers int) *Converter {
	if workers <= 0 {
		workers = 1
	}
	return &Converter{mode: mode, workers: workers}
}

type convertJob struct {
	index int
	page  scraper.Page
}

// Convert parses every usable page. Absent pages and bodies that fail to
// parse yield nil at their position.
func (c *Converter) Convert(ctx context.Context, pages []scraper.Page) []*goquery.Document {
	docs := make([]*goquery.Document, len(pages))
	if c.mode != config.ParsePool || c.workers == 1 || len(pages) < 2 {
		for i, page := range pages {
			docs[i] = toDocument(page)
		}
		return docs
	}

	jobs := make(chan convertJob)
	var wg sync.WaitGroup
	workers := min(c.workers, len(pages))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				docs[job.index] = toDocument(job.page)
			}
		}()
	}

	for i, page := range pages {
		if ctx.Err() != nil {
			break
		}
		jobs <- convertJob{index: i, page: page}
	}
	close(jobs)
	wg.Wait()
	return docs
}

func toDocument(page scraper.Page) *goquery.Document {
	if !page.OK() {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		slog.Warn("parse page", slog.String("url", page.URL), slog.Any("error", err))
		return nil
	}
	return doc
}
