package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/aluiziolira/go-scrape-films/models"
	"github.com/aluiziolira/go-scrape-films/parser"
	"github.com/aluiziolira/go-scrape-films/scraper"
	"github.com/google/go-cmp/cmp"
)

const (
	testPlaylistURL = "https://letterboxd.com/cinephile/list/all-time-faves/"
	testSnapshotKey = "cinephile/all_time_faves/all_time_faves.csv"
)

func filmURL(id int64) string {
	return fmt.Sprintf("https://letterboxd.com/film/f%d/", id)
}

func pageURL(n int) string {
	return fmt.Sprintf("%spage/%d/", testPlaylistURL, n)
}

func listingHTML(pages int, entries ...models.ListingEntry) string {
	var b strings.Builder
	b.WriteString("<html><body><ul class=\"poster-list\">")
	for _, e := range entries {
		rating := ""
		if e.Rating != models.NoRating {
			rating = fmt.Sprintf(` data-owner-rating="%d"`, e.Rating)
		}
		fmt.Fprintf(&b, `<li class="poster-container"%s><div class="really-lazy-load" data-film-id="%d" data-film-slug="/film/f%d/"></div></li>`, rating, e.ID, e.ID)
	}
	b.WriteString("</ul>")
	if pages > 1 {
		b.WriteString(`<div class="paginate-pages"><ul>`)
		for i := 1; i <= pages; i++ {
			fmt.Fprintf(&b, `<li class="paginate-page"><a href="/page/%d/">%d</a></li>`, i, i)
		}
		b.WriteString("</ul></div>")
	}
	b.WriteString("</body></html>")
	return b.String()
}

func filmHTML(f models.Film) string {
	names := func(joined string) string {
		if joined == "" {
			return "[]"
		}
		parts := strings.Split(joined, ";")
		quoted := make([]string, len(parts))
		for i, p := range parts {
			quoted[i] = fmt.Sprintf(`{"name":%q}`, p)
		}
		return "[" + strings.Join(quoted, ",") + "]"
	}
	release := "[]"
	if f.Year != models.UnknownYear {
		release = fmt.Sprintf(`[{"startDate":"%d"}]`, f.Year)
	}
	return fmt.Sprintf(`<html><head><script type="application/ld+json">
/* <![CDATA[ */
{"name":%q,"releasedEvent":%s,"director":%s,"actors":%s,"countryOfOrigin":%s}
/* ]]> */
</script></head><body><div class="really-lazy-load" data-film-id="%d"></div></body></html>`,
		f.Title, release, names(f.Director), names(f.Actors), names(f.Countries), f.ID)
}

func entry(id int64, rating int) models.ListingEntry {
	return models.ListingEntry{ID: id, Rating: rating, URL: filmURL(id)}
}

// fakeSite serves a playlist from memory and counts requests per URL.
type fakeSite struct {
	mu     sync.Mutex
	bodies map[string]string
	calls  map[string]int
}

func newSite(pages [][]models.ListingEntry, films ...models.Film) *fakeSite {
	s := &fakeSite{bodies: make(map[string]string), calls: make(map[string]int)}
	for i, entries := range pages {
		s.bodies[pageURL(i+1)] = listingHTML(len(pages), entries...)
	}
	for _, f := range films {
		s.bodies[filmURL(f.ID)] = filmHTML(f)
	}
	return s
}

func (s *fakeSite) Fetch(ctx context.Context, urls []string) []scraper.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scraper.Page, len(urls))
	for i, u := range urls {
		if ctx.Err() != nil {
			out[i] = scraper.Page{URL: u, Err: ctx.Err()}
			continue
		}
		s.calls[u]++
		body, ok := s.bodies[u]
		if !ok {
			out[i] = scraper.Page{URL: u, StatusCode: http.StatusNotFound, Err: errors.New("not found")}
			continue
		}
		out[i] = scraper.Page{URL: u, StatusCode: http.StatusOK, Body: []byte(body)}
	}
	return out
}

func (s *fakeSite) detailCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for u, n := range s.calls {
		if strings.Contains(u, "/film/") {
			total += n
		}
	}
	return total
}

func (s *fakeSite) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

type fakeStore struct {
	mu      sync.Mutex
	tables  map[string]models.Table
	loads   int
	loadErr error
	saveErr error
}

func newStore() *fakeStore {
	return &fakeStore{tables: make(map[string]models.Table)}
}

func (s *fakeStore) Load(_ context.Context, key string) (models.Table, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.loadErr != nil {
		return nil, false, s.loadErr
	}
	table, ok := s.tables[key]
	if !ok {
		return nil, false, nil
	}
	return append(models.Table(nil), table...), true, nil
}

func (s *fakeStore) Save(_ context.Context, key string, table models.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.tables[key] = append(models.Table(nil), table...)
	return nil
}

func checkTableProperties(t *testing.T, table models.Table, entries []models.ListingEntry) {
	t.Helper()
	current := make(map[int64]struct{}, len(entries))
	for _, e := range entries {
		current[e.ID] = struct{}{}
	}
	seen := make(map[int64]struct{}, len(table))
	for i, row := range table {
		if _, ok := current[row.ID]; !ok {
			t.Fatalf("row %d has id %d absent from the listing", i, row.ID)
		}
		if _, dup := seen[row.ID]; dup {
			t.Fatalf("duplicate id %d", row.ID)
		}
		seen[row.ID] = struct{}{}
		if i == 0 {
			continue
		}
		prev := table[i-1]
		if c := compareYear(prev.Year, row.Year); c > 0 || (c == 0 && prev.Title > row.Title) {
			t.Fatalf("rows %d and %d out of order: %+v, %+v", i-1, i, prev, row)
		}
	}
}

var (
	film7  = models.Film{ID: 7, Title: "Seven Samurai", Year: 1954, Director: "Akira Kurosawa", Actors: "Toshiro Mifune;Takashi Shimura", Countries: "Japan"}
	film9  = models.Film{ID: 9, Title: "Ikiru", Year: 1952, Director: "Akira Kurosawa", Actors: "Takashi Shimura", Countries: "Japan"}
	film10 = models.Film{ID: 10, Title: "Stalker", Year: 1979, Director: "Andrei Tarkovsky", Actors: "Alisa Freyndlikh", Countries: "USSR"}
	film20 = models.Film{ID: 20, Title: "Mirror", Year: 1975, Director: "Andrei Tarkovsky", Countries: "USSR"}
)

func TestReconcileInitialLoad(t *testing.T) {
	site := newSite([][]models.ListingEntry{{entry(10, 8), entry(20, 5)}}, film10, film20)
	store := newStore()
	engine := NewEngine(site, store, nil, nil)

	result, err := engine.Reconcile(context.Background(), testPlaylistURL, false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	want := models.Table{
		{Film: film20, Rating: 5},
		{Film: film10, Rating: 8},
	}
	if diff := cmp.Diff(want, result.Table); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
	if result.SnapshotUsed {
		t.Fatalf("no snapshot was stored")
	}
	if got := site.detailCalls(); got != 2 {
		t.Fatalf("detail fetches = %d, want 2", got)
	}
	if result.DeltaSize != 2 || result.DetailPages != 2 {
		t.Fatalf("delta=%d detail_pages=%d, want 2 and 2", result.DeltaSize, result.DetailPages)
	}
}

func TestReconcileIncrementalUsesFreshRatings(t *testing.T) {
	site := newSite([][]models.ListingEntry{{entry(7, 9), entry(9, 6)}}, film9)
	store := newStore()
	stale := models.Film{ID: 7, Title: "Seven Samurai (snapshot)", Year: 1954, Director: "Akira Kurosawa"}
	store.tables[testSnapshotKey] = models.Table{{Film: stale, Rating: 3}}
	engine := NewEngine(site, store, nil, nil)

	result, err := engine.Reconcile(context.Background(), testPlaylistURL, false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	want := models.Table{
		{Film: film9, Rating: 6},
		{Film: stale, Rating: 9},
	}
	if diff := cmp.Diff(want, result.Table); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
	if site.calls[filmURL(7)] != 0 {
		t.Fatalf("known film was fetched again")
	}
	if got := site.detailCalls(); got != 1 {
		t.Fatalf("detail fetches = %d, want 1", got)
	}
}

func TestReconcileOverwriteIgnoresSnapshot(t *testing.T) {
	site := newSite([][]models.ListingEntry{{entry(7, 10)}}, film7)
	store := newStore()
	store.tables[testSnapshotKey] = models.Table{
		{Film: models.Film{ID: 7, Title: "stale"}, Rating: 1},
		{Film: models.Film{ID: 8, Title: "gone"}, Rating: 2},
	}
	engine := NewEngine(site, store, nil, nil)

	result, err := engine.Reconcile(context.Background(), testPlaylistURL, true)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	want := models.Table{{Film: film7, Rating: 10}}
	if diff := cmp.Diff(want, result.Table); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
	if store.loads != 0 {
		t.Fatalf("snapshot loaded %d times with overwrite", store.loads)
	}
	if got := site.detailCalls(); got != 1 {
		t.Fatalf("detail fetches = %d, want 1", got)
	}
}

func TestReconcileDropsFilmsRemovedFromListing(t *testing.T) {
	site := newSite([][]models.ListingEntry{{entry(20, 4)}})
	store := newStore()
	store.tables[testSnapshotKey] = models.Table{
		{Film: film10, Rating: 8},
		{Film: film20, Rating: 5},
	}
	engine := NewEngine(site, store, nil, nil)

	result, err := engine.Reconcile(context.Background(), testPlaylistURL, false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	want := models.Table{{Film: film20, Rating: 4}}
	if diff := cmp.Diff(want, result.Table); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
	if got := site.detailCalls(); got != 0 {
		t.Fatalf("detail fetches = %d, want 0", got)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	site := newSite(
		[][]models.ListingEntry{{entry(10, 8), entry(7, models.NoRating)}, {entry(9, 7), entry(20, 5)}},
		film7, film9, film10, film20,
	)
	store := newStore()
	engine := NewEngine(site, store, NewConverter("pool", 3), nil)

	first, err := engine.Reconcile(context.Background(), testPlaylistURL, false)
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	if err := engine.Persist(context.Background(), first); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	detailsAfterFirst := site.detailCalls()

	second, err := engine.Reconcile(context.Background(), testPlaylistURL, false)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}

	if diff := cmp.Diff(first.Table, second.Table); diff != "" {
		t.Fatalf("second run differs (-first +second):\n%s", diff)
	}
	if got := site.detailCalls() - detailsAfterFirst; got != 0 {
		t.Fatalf("second run fetched %d detail pages, want 0", got)
	}
	if len(second.Table) != 4 || first.ListingPages != 2 {
		t.Fatalf("rows=%d listing_pages=%d, want 4 and 2", len(second.Table), first.ListingPages)
	}
}

func TestReconcileDeltaMinimality(t *testing.T) {
	tests := []struct {
		name      string
		listing   []models.ListingEntry
		snapshot  models.Table
		overwrite bool
		want      int
	}{
		{name: "no snapshot", listing: []models.ListingEntry{entry(7, 1), entry(9, 2), entry(10, 3)}, want: 3},
		{name: "partial snapshot", listing: []models.ListingEntry{entry(7, 1), entry(9, 2), entry(10, 3)}, snapshot: models.Table{{Film: film7}, {Film: film20}}, want: 2},
		{name: "full snapshot", listing: []models.ListingEntry{entry(7, 1), entry(9, 2)}, snapshot: models.Table{{Film: film7}, {Film: film9}}, want: 0},
		{name: "overwrite", listing: []models.ListingEntry{entry(7, 1), entry(9, 2)}, snapshot: models.Table{{Film: film7}, {Film: film9}}, overwrite: true, want: 2},
		{name: "empty snapshot is present", listing: []models.ListingEntry{entry(7, 1)}, snapshot: models.Table{}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := newSite([][]models.ListingEntry{tt.listing}, film7, film9, film10, film20)
			store := newStore()
			if tt.snapshot != nil {
				store.tables[testSnapshotKey] = tt.snapshot
			}
			engine := NewEngine(site, store, nil, nil)

			result, err := engine.Reconcile(context.Background(), testPlaylistURL, tt.overwrite)
			if err != nil {
				t.Fatalf("Reconcile: %v", err)
			}
			if got := site.detailCalls(); got != tt.want {
				t.Fatalf("detail fetches = %d, want %d", got, tt.want)
			}
			checkTableProperties(t, result.Table, tt.listing)
		})
	}
}

func TestReconcileDuplicateIDsAcrossPages(t *testing.T) {
	site := newSite(
		[][]models.ListingEntry{{entry(10, 8), entry(20, 5)}, {entry(10, 2), entry(9, 7)}},
		film9, film10, film20,
	)
	engine := NewEngine(site, newStore(), nil, nil)

	result, err := engine.Reconcile(context.Background(), testPlaylistURL, false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(result.Table) != 3 {
		t.Fatalf("rows = %d, want 3", len(result.Table))
	}
	for _, row := range result.Table {
		if row.ID == 10 && row.Rating != 8 {
			t.Fatalf("duplicate id should keep its first rating, got %d", row.Rating)
		}
	}
	if site.calls[filmURL(10)] != 1 {
		t.Fatalf("film 10 fetched %d times, want 1", site.calls[filmURL(10)])
	}
}

func TestReconcileFailedDetailPageLosesRow(t *testing.T) {
	site := newSite([][]models.ListingEntry{{entry(10, 8), entry(20, 5)}}, film10)
	engine := NewEngine(site, newStore(), nil, nil)

	result, err := engine.Reconcile(context.Background(), testPlaylistURL, false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	want := models.Table{{Film: film10, Rating: 8}}
	if diff := cmp.Diff(want, result.Table); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{filmURL(20)}, result.FailedURLs); diff != "" {
		t.Fatalf("failed urls mismatch (-want +got):\n%s", diff)
	}
	if result.Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", result.Dropped)
	}
}

// unlinkedListing has film 7 without a detail link and film 9 with a rating
// outside 0-10.
const unlinkedListing = `<html><body><ul class="poster-list">
<li class="poster-container" data-owner-rating="9"><div data-film-id="7"></div></li>
<li class="poster-container" data-owner-rating="11"><div data-film-id="9" data-film-slug="/film/f9/"></div></li>
</ul></body></html>`

func TestReconcileKeepsSnapshotRowsForUnlinkedEntries(t *testing.T) {
	site := newSite(nil)
	site.bodies[pageURL(1)] = unlinkedListing
	store := newStore()
	store.tables[testSnapshotKey] = models.Table{
		{Film: film7, Rating: 1},
		{Film: film9, Rating: 2},
	}
	engine := NewEngine(site, store, nil, nil)

	result, err := engine.Reconcile(context.Background(), testPlaylistURL, false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	want := models.Table{
		{Film: film9, Rating: models.NoRating},
		{Film: film7, Rating: 9},
	}
	if diff := cmp.Diff(want, result.Table); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
	if result.Dropped != 0 {
		t.Fatalf("dropped = %d, want 0", result.Dropped)
	}
	if got := site.detailCalls(); got != 0 {
		t.Fatalf("detail fetches = %d, want 0", got)
	}
}

func TestReconcileUnlinkedDeltaEntryIsFailed(t *testing.T) {
	site := newSite(nil, film9)
	site.bodies[pageURL(1)] = unlinkedListing
	engine := NewEngine(site, newStore(), nil, nil)

	result, err := engine.Reconcile(context.Background(), testPlaylistURL, false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	want := models.Table{{Film: film9, Rating: models.NoRating}}
	if diff := cmp.Diff(want, result.Table); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{missingURL(7)}, result.FailedURLs); diff != "" {
		t.Fatalf("failed urls mismatch (-want +got):\n%s", diff)
	}
	if result.DeltaSize != 2 || result.DetailPages != 1 {
		t.Fatalf("delta=%d detail_pages=%d, want 2 and 1", result.DeltaSize, result.DetailPages)
	}
	if got := site.detailCalls(); got != 1 {
		t.Fatalf("detail fetches = %d, want 1", got)
	}
}

func TestReconcileMissingFieldsKeepRow(t *testing.T) {
	bare := models.Film{ID: 30, Title: "Untitled", Year: models.UnknownYear}
	site := newSite([][]models.ListingEntry{{entry(30, models.NoRating), entry(10, 8)}}, bare, film10)
	engine := NewEngine(site, newStore(), nil, nil)

	result, err := engine.Reconcile(context.Background(), testPlaylistURL, false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	want := models.Table{
		{Film: film10, Rating: 8},
		{Film: bare, Rating: models.NoRating},
	}
	if diff := cmp.Diff(want, result.Table); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileMalformedURL(t *testing.T) {
	site := newSite(nil)
	engine := NewEngine(site, newStore(), nil, nil)

	_, err := engine.Reconcile(context.Background(), "https://letterboxd.com/cinephile/", false)
	if !errors.Is(err, parser.ErrMalformedURL) {
		t.Fatalf("error = %v, want ErrMalformedURL", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageResolve {
		t.Fatalf("error = %v, want resolve stage", err)
	}
	if got := site.totalCalls(); got != 0 {
		t.Fatalf("fetches = %d, want 0", got)
	}
}

func TestReconcilePageUnavailable(t *testing.T) {
	engine := NewEngine(newSite(nil), newStore(), nil, nil)

	_, err := engine.Reconcile(context.Background(), testPlaylistURL, false)
	if !errors.Is(err, ErrPageUnavailable) {
		t.Fatalf("error = %v, want ErrPageUnavailable", err)
	}
}

func TestReconcileSnapshotUnavailable(t *testing.T) {
	site := newSite([][]models.ListingEntry{{entry(10, 8)}}, film10)
	store := newStore()
	store.loadErr = errors.New("connection reset")
	engine := NewEngine(site, store, nil, nil)

	_, err := engine.Reconcile(context.Background(), testPlaylistURL, false)
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageSnapshot {
		t.Fatalf("error = %v, want snapshot stage", err)
	}
	if got := site.detailCalls(); got != 0 {
		t.Fatalf("detail fetches = %d, want 0", got)
	}
}

func TestReconcileCancelled(t *testing.T) {
	site := newSite([][]models.ListingEntry{{entry(10, 8)}}, film10)
	engine := NewEngine(site, newStore(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Reconcile(ctx, testPlaylistURL, false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestPersistSurfacesWriteFailure(t *testing.T) {
	store := newStore()
	store.saveErr = errors.New("access denied")
	engine := NewEngine(newSite(nil), store, nil, nil)

	result := &models.RunResult{
		Playlist: models.Playlist{Owner: "cinephile", Title: "all_time_faves"},
		Table:    models.Table{{Film: film10, Rating: 8}},
	}
	err := engine.Persist(context.Background(), result)
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StagePersist {
		t.Fatalf("error = %v, want persist stage", err)
	}
}
