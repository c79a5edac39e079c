package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-scrape-films/models"
	"github.com/aluiziolira/go-scrape-films/parser"
	"github.com/aluiziolira/go-scrape-films/scraper"
)

// SnapshotStore loads and replaces the persisted table of a playlist. Load
// reports present=false when nothing was ever stored under key.
type SnapshotStore interface {
	Load(ctx context.Context, key string) (table models.Table, present bool, err error)
	Save(ctx context.Context, key string, table models.Table) error
}

// Engine reconciles a playlist's current listing with its stored snapshot,
// fetching detail pages only for films the snapshot does not know.
type Engine struct {
	fetcher   scraper.Fetcher
	store     SnapshotStore
	converter *Converter
	metrics   *scraper.Metrics
}

// NewEngine wires an engine. metrics may be nil.
func NewEngine(fetcher scraper.Fetcher, store SnapshotStore, converter *Converter, metrics *scraper.Metrics) *Engine {
	if converter == nil {
		converter = NewConverter("", 1)
	}
	return &Engine{
		fetcher:   fetcher,
		store:     store,
		converter: converter,
		metrics:   metrics,
	}
}

// Reconcile scrapes the playlist at rawURL and returns the merged table. With
// overwrite the stored snapshot is neither read nor used. Fatal errors are
// returned as *StageError.
func (e *Engine) Reconcile(ctx context.Context, rawURL string, overwrite bool) (*models.RunResult, error) {
	result := &models.RunResult{StartTime: time.Now()}

	playlist, err := parser.ParsePlaylistURL(rawURL)
	if err != nil {
		return nil, &StageError{Stage: StageResolve, Err: err}
	}

	err = e.timed(StageResolve, func() error {
		playlist.Pages, err = e.pageCount(ctx, playlist)
		return err
	})
	if err != nil {
		return nil, &StageError{Stage: StageResolve, Err: err}
	}
	result.Playlist = playlist
	slog.Info("playlist resolved",
		slog.String("owner", playlist.Owner),
		slog.String("title", playlist.Title),
		slog.String("kind", playlist.Kind),
		slog.Int("pages", playlist.Pages),
	)

	var entries []models.ListingEntry
	err = e.timed(StageListing, func() error {
		entries, err = e.listing(ctx, playlist, result)
		return err
	})
	if err != nil {
		return nil, &StageError{Stage: StageListing, Err: err}
	}

	var (
		snapshot models.Table
		present  bool
	)
	if overwrite {
		slog.Info("overwrite requested, ignoring stored snapshot")
	} else {
		err = e.timed(StageSnapshot, func() error {
			snapshot, present, err = e.store.Load(ctx, playlist.SnapshotKey())
			return err
		})
		if err != nil {
			return nil, &StageError{Stage: StageSnapshot, Err: err}
		}
	}
	result.SnapshotUsed = present
	result.SnapshotRows = len(snapshot)

	delta := Delta(entries, snapshot, present)
	result.DeltaSize = len(delta)
	slog.Info("delta computed",
		slog.Int("entries", len(entries)),
		slog.Int("snapshot_rows", len(snapshot)),
		slog.Bool("snapshot_present", present),
		slog.Int("delta", len(delta)),
	)

	var films []models.Film
	err = e.timed(StageDetail, func() error {
		films, err = e.details(ctx, delta, result)
		return err
	})
	if err != nil {
		return nil, &StageError{Stage: StageDetail, Err: err}
	}

	result.Table = Merge(entries, snapshot, films)
	result.Dropped += len(entries) - len(result.Table)
	result.EndTime = time.Now()
	e.metrics.SetRun(result.DeltaSize, len(result.Table))

	slog.Info("playlist reconciled",
		slog.Int("rows", len(result.Table)),
		slog.Int("detail_pages", result.DetailPages),
		slog.Int("failed_urls", len(result.FailedURLs)),
		slog.Duration("elapsed", result.EndTime.Sub(result.StartTime)),
	)
	return result, nil
}

// Persist replaces the stored snapshot with the reconciled table.
func (e *Engine) Persist(ctx context.Context, result *models.RunResult) error {
	key := result.Playlist.SnapshotKey()
	err := e.timed(StagePersist, func() error {
		return e.store.Save(ctx, key, result.Table)
	})
	if err != nil {
		return &StageError{Stage: StagePersist, Err: err}
	}
	slog.Info("snapshot saved", slog.String("key", key), slog.Int("rows", len(result.Table)))
	return nil
}

// pageCount fetches the first listing page and reads the paginator.
func (e *Engine) pageCount(ctx context.Context, playlist models.Playlist) (int, error) {
	first := playlist.PageURLs()[0]
	pages := e.fetcher.Fetch(ctx, []string{first})
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	docs := e.converter.Convert(ctx, pages)
	if docs[0] == nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrPageUnavailable, first, pages[0].Err)
	}
	return parser.PageCount(docs[0]), nil
}

func (e *Engine) listing(ctx context.Context, playlist models.Playlist, result *models.RunResult) ([]models.ListingEntry, error) {
	urls := playlist.PageURLs()
	pages := e.fetcher.Fetch(ctx, urls)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs := e.converter.Convert(ctx, pages)

	var entries []models.ListingEntry
	for i, doc := range docs {
		if doc == nil {
			result.FailedURLs = append(result.FailedURLs, urls[i])
			continue
		}
		result.ListingPages++
		got, errs := parser.ParseListing(doc, playlist.Base)
		for _, err := range errs {
			slog.Warn("listing entry skipped", slog.String("url", urls[i]), slog.Any("error", err))
		}
		result.Dropped += len(errs)
		entries = append(entries, got...)
	}

	entries, dups := DedupeEntries(entries)
	if dups > 0 {
		slog.Debug("duplicate listing entries dropped", slog.Int("count", dups))
	}
	result.Entries = len(entries)
	return entries, nil
}

func (e *Engine) details(ctx context.Context, delta []models.ListingEntry, result *models.RunResult) ([]models.Film, error) {
	linked := make([]models.ListingEntry, 0, len(delta))
	for _, entry := range delta {
		if entry.URL == "" {
			slog.Warn("film has no detail url", slog.Int64("id", entry.ID))
			result.FailedURLs = append(result.FailedURLs, missingURL(entry.ID))
			continue
		}
		linked = append(linked, entry)
	}
	delta = linked
	if len(delta) == 0 {
		return nil, nil
	}

	urls := make([]string, len(delta))
	for i, entry := range delta {
		urls[i] = entry.URL
	}
	pages := e.fetcher.Fetch(ctx, urls)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs := e.converter.Convert(ctx, pages)

	films := make([]models.Film, 0, len(delta))
	for i, doc := range docs {
		if doc == nil {
			result.FailedURLs = append(result.FailedURLs, urls[i])
			continue
		}
		result.DetailPages++
		film, err := parser.ParseFilm(doc)
		if err != nil {
			slog.Warn("film skipped", slog.String("url", urls[i]), slog.Any("error", err))
			continue
		}
		if film.ID != delta[i].ID {
			slog.Warn("film id differs from listing",
				slog.String("url", urls[i]),
				slog.Int64("listing_id", delta[i].ID),
				slog.Int64("page_id", film.ID),
			)
			film.ID = delta[i].ID
		}
		films = append(films, film)
	}
	e.metrics.AddFilms(len(films))
	return films, nil
}

// missingURL stands in for the detail url of a listing entry that had none.
func missingURL(id int64) string {
	return fmt.Sprintf("film:%d (no detail url)", id)
}

// timed runs fn and logs how long the stage took.
func (e *Engine) timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	if err != nil {
		slog.Error("stage failed",
			slog.String("stage", stage),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err),
		)
		return err
	}
	slog.Info("stage complete", slog.String("stage", stage), slog.Duration("elapsed", elapsed))
	return nil
}
