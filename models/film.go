// Package models defines data structures for the scraper.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// NoRating marks a listing entry the owner did not rate.
	NoRating = -1
	// UnknownYear marks a film without a release year.
	UnknownYear = 0
)

// Playlist kinds.
const (
	KindCollection = "collection"
	KindRatings    = "ratings"
)

// Playlist identifies a user's list or ratings index on the catalog site.
type Playlist struct {
	URL   string
	Base  string
	Owner string
	Kind  string
	Title string
	Pages int
}

// PageURLs returns the listing page URLs, one per page in page order.
func (p Playlist) PageURLs() []string {
	pages := p.Pages
	if pages <= 0 {
		pages = 1
	}
	root := strings.TrimSuffix(p.URL, "/")
	urls := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		urls = append(urls, fmt.Sprintf("%s/page/%d/", root, i))
	}
	return urls
}

// SnapshotKey is the object key holding the persisted table.
func (p Playlist) SnapshotKey() string {
	return p.Owner + "/" + p.Title + "/" + p.Title + ".csv"
}

// TableName is the relational table the final table is copied into.
func (p Playlist) TableName() string {
	return p.Owner + "_" + p.Title
}

// ListingEntry is one poster scraped off a listing page.
type ListingEntry struct {
	ID     int64  `json:"id"`
	Rating int    `json:"rating"`
	URL    string `json:"url"`
}

// Film holds the detail page data of one film. Empty strings and UnknownYear
// mark fields the page did not provide.
type Film struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Year      int    `json:"year"`
	Director  string `json:"director"`
	Actors    string `json:"actors"`
	Countries string `json:"countries"`
}

// Row is one line of the persisted table.
type Row struct {
	Film
	Rating int `json:"rating"`
}

// Table is the reconciled playlist, one row per film.
type Table []Row

// TableHeader is the column order of the persisted CSV.
var TableHeader = []string{"id", "rating", "title", "year", "director", "actors", "countries"}

// Record renders the row in TableHeader order. Missing values become empty cells.
func (r Row) Record() []string {
	rating := ""
	if r.Rating != NoRating {
		rating = strconv.Itoa(r.Rating)
	}
	year := ""
	if r.Year != UnknownYear {
		year = strconv.Itoa(r.Year)
	}
	return []string{
		strconv.FormatInt(r.ID, 10),
		rating,
		r.Title,
		year,
		r.Director,
		r.Actors,
		r.Countries,
	}
}

// RowFromRecord parses a CSV record written by Record.
func RowFromRecord(record []string) (Row, error) {
	if len(record) != len(TableHeader) {
		return Row{}, fmt.Errorf("record has %d fields, want %d", len(record), len(TableHeader))
	}

	id, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
	if err != nil || id <= 0 {
		return Row{}, fmt.Errorf("invalid id %q", record[0])
	}
	rating, err := parseOptionalInt(record[1], NoRating)
	if err != nil {
		return Row{}, fmt.Errorf("invalid rating for id %d: %w", id, err)
	}
	year, err := parseOptionalInt(record[3], UnknownYear)
	if err != nil {
		return Row{}, fmt.Errorf("invalid year for id %d: %w", id, err)
	}

	return Row{
		Film: Film{
			ID:        id,
			Title:     record[2],
			Year:      year,
			Director:  record[4],
			Actors:    record[5],
			Countries: record[6],
		},
		Rating: rating,
	}, nil
}

// parseOptionalInt accepts "" for missing and tolerates float notation
// ("1999.0") left behind by spreadsheet tools.
func parseOptionalInt(value string, missing int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return missing, nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("%q is not an integer", value)
	}
	return int(f), nil
}

// RunResult summarises one reconciliation run.
type RunResult struct {
	Playlist     Playlist
	Table        Table
	StartTime    time.Time
	EndTime      time.Time
	ListingPages int
	Entries      int
	SnapshotRows int
	SnapshotUsed bool
	DeltaSize    int
	DetailPages  int
	Dropped      int
	FailedURLs   []string
}
