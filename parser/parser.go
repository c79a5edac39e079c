package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-films/models"
)

// ValidateEntry ensures the scraper captured a usable listing entry. Only the
// id is required; an entry without a detail url can still be served from the
// snapshot.
func ValidateEntry(e models.ListingEntry) error {
	if e.ID <= 0 {
		return fmt.Errorf("entry missing id")
	}
	if e.Rating != models.NoRating && (e.Rating < 0 || e.Rating > 10) {
		return fmt.Errorf("rating %d out of range for %d", e.Rating, e.ID)
	}
	return nil
}

// ValidateFilm ensures a film record can be joined.
func ValidateFilm(f models.Film) error {
	if f.ID <= 0 {
		return fmt.Errorf("film missing id")
	}
	return nil
}

// NormalizeSlug turns a URL path segment into an identifier usable as an
// object key component and a table name.
func NormalizeSlug(slug string) string {
	slug = strings.Trim(strings.TrimSpace(slug), "/")
	return strings.ReplaceAll(slug, "-", "_")
}

// JoinNames joins the non-empty names with semicolons. No names yields the
// missing marker.
func JoinNames(names []string) string {
	kept := make([]string, 0, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			kept = append(kept, name)
		}
	}
	return strings.Join(kept, ";")
}
