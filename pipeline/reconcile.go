package pipeline

import (
	"cmp"
	"slices"

	"github.com/aluiziolira/go-scrape-films/models"
)

// DedupeEntries keeps the first occurrence of every id and reports how many
// duplicates were dropped.
func DedupeEntries(entries []models.ListingEntry) ([]models.ListingEntry, int) {
	seen := make(map[int64]struct{}, len(entries))
	out := make([]models.ListingEntry, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out, len(entries) - len(out)
}

// Delta returns the entries whose detail page must be fetched. Without a
// snapshot every entry is in the delta; otherwise only ids the snapshot does
// not know, in listing order.
func Delta(entries []models.ListingEntry, snapshot models.Table, present bool) []models.ListingEntry {
	if !present {
		return slices.Clone(entries)
	}

	known := make(map[int64]struct{}, len(snapshot))
	for _, row := range snapshot {
		known[row.ID] = struct{}{}
	}

	var delta []models.ListingEntry
	for _, e := range entries {
		if _, ok := known[e.ID]; !ok {
			delta = append(delta, e)
		}
	}
	return delta
}

// Merge joins the fresh listing ratings with film details taken from the
// snapshot and from freshly fetched films. Snapshot ratings are ignored; the
// listing is the only rating source. Entries without details are left out.
// The result is sorted with SortTable.
func Merge(entries []models.ListingEntry, snapshot models.Table, films []models.Film) models.Table {
	details := make(map[int64]models.Film, len(snapshot)+len(films))
	for _, row := range snapshot {
		if _, ok := details[row.ID]; !ok {
			details[row.ID] = row.Film
		}
	}
	for _, film := range films {
		if _, ok := details[film.ID]; !ok {
			details[film.ID] = film
		}
	}

	table := make(models.Table, 0, len(entries))
	joined := make(map[int64]struct{}, len(entries))
	for _, e := range entries {
		film, ok := details[e.ID]
		if !ok {
			continue
		}
		if _, dup := joined[e.ID]; dup {
			continue
		}
		joined[e.ID] = struct{}{}
		table = append(table, models.Row{Film: film, Rating: e.Rating})
	}

	SortTable(table)
	return table
}

// SortTable orders rows by year ascending with unknown years last, then by
// title, then by id.
func SortTable(table models.Table) {
	slices.SortFunc(table, func(a, b models.Row) int {
		if c := compareYear(a.Year, b.Year); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Title, b.Title); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func compareYear(a, b int) int {
	switch {
	case a == b:
		return 0
	case a == models.UnknownYear:
		return 1
	case b == models.UnknownYear:
		return -1
	}
	return cmp.Compare(a, b)
}
