package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-films/models"
)

// ExtractionError reports a poster or film page without a usable id.
type ExtractionError struct {
	Source string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

var ratedClass = regexp.MustCompile(`\brated-(\d+)\b`)

// ParseListing extracts the entries of one listing page in page order. Posters
// without an id are reported as *ExtractionError and left out of the entries.
func ParseListing(doc *goquery.Document, base string) ([]models.ListingEntry, []error) {
	containers := doc.Find("li.poster-container")
	if containers.Length() == 0 {
		// newer markup drops the li wrapper
		containers = doc.Find("div.really-lazy-load, div.film-poster")
	}

	var (
		entries []models.ListingEntry
		errs    []error
	)
	containers.Each(func(i int, sel *goquery.Selection) {
		entry, err := parseEntry(sel, base)
		if err != nil {
			errs = append(errs, &ExtractionError{Source: fmt.Sprintf("poster %d", i), Err: err})
			return
		}
		entries = append(entries, entry)
	})
	return entries, errs
}

func parseEntry(sel *goquery.Selection, base string) (models.ListingEntry, error) {
	poster := sel
	if _, ok := sel.Attr("data-film-id"); !ok {
		poster = sel.Find("[data-film-id]").First()
	}

	rawID, _ := poster.Attr("data-film-id")
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil || id <= 0 {
		return models.ListingEntry{}, fmt.Errorf("missing film id")
	}

	slug := firstAttr(poster, "data-film-slug", "data-target-link", "data-item-link")
	entry := models.ListingEntry{
		ID:     id,
		Rating: parseRating(sel),
		URL:    detailURL(base, slug),
	}
	if err := ValidateEntry(entry); err != nil {
		return models.ListingEntry{}, err
	}
	return entry, nil
}

// parseRating returns the owner's rating, or models.NoRating when it is absent,
// unparseable or outside 0-10.
func parseRating(sel *goquery.Selection) int {
	if raw, ok := sel.Attr("data-owner-rating"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			return checkedRating(n)
		}
	}
	class, ok := sel.Find("span.rating").First().Attr("class")
	if !ok {
		return models.NoRating
	}
	m := ratedClass.FindStringSubmatch(class)
	if m == nil {
		return models.NoRating
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return models.NoRating
	}
	return checkedRating(n)
}

func checkedRating(n int) int {
	if n < 0 || n > 10 {
		return models.NoRating
	}
	return n
}

func detailURL(base, slug string) string {
	slug = strings.TrimSpace(slug)
	if slug == "" || strings.HasPrefix(slug, "http://") || strings.HasPrefix(slug, "https://") {
		return slug
	}
	if !strings.HasPrefix(slug, "/") {
		slug = "/film/" + strings.Trim(slug, "/") + "/"
	}
	return strings.TrimSuffix(base, "/") + slug
}

func firstAttr(sel *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v, ok := sel.Attr(name); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
