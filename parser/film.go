package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-films/models"
)

// linkedData is the schema.org Movie block a film page embeds, decoded once.
// Fields the block lacks or encodes unexpectedly keep their zero value.
type linkedData struct {
	Name      string
	Year      int
	Directors []string
	Actors    []string
	Countries []string
}

type named struct {
	Name string `json:"name"`
}

// ParseFilm extracts a film from its detail page. Only a missing id is fatal;
// every other field falls back to its missing marker on its own.
func ParseFilm(doc *goquery.Document) (models.Film, error) {
	rawID, _ := doc.Find("[data-film-id]").First().Attr("data-film-id")
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil || id <= 0 {
		return models.Film{}, &ExtractionError{Source: "film page", Err: fmt.Errorf("missing film id")}
	}

	ld := readLinkedData(doc)
	film := models.Film{
		ID:        id,
		Title:     strings.TrimSpace(ld.Name),
		Year:      ld.Year,
		Director:  JoinNames(ld.Directors),
		Actors:    JoinNames(ld.Actors),
		Countries: JoinNames(ld.Countries),
	}
	if film.Title == "" {
		title, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
		film.Title = strings.TrimSpace(title)
	}
	if err := ValidateFilm(film); err != nil {
		return models.Film{}, &ExtractionError{Source: "film page", Err: err}
	}
	return film, nil
}

// readLinkedData decodes the first parseable JSON-LD script. Film pages wrap
// it in a CDATA comment.
func readLinkedData(doc *goquery.Document) linkedData {
	ld := linkedData{Year: models.UnknownYear}
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal([]byte(stripCDATA(sel.Text())), &raw); err != nil {
			return true
		}
		ld = decodeLinkedData(raw)
		return false
	})
	return ld
}

func decodeLinkedData(raw map[string]json.RawMessage) linkedData {
	ld := linkedData{Year: releaseYear(raw["releasedEvent"])}
	if err := json.Unmarshal(raw["name"], &ld.Name); err != nil {
		ld.Name = ""
	}
	ld.Directors = people(raw["director"])
	ld.Actors = people(raw["actors"])
	ld.Countries = people(raw["countryOfOrigin"])
	return ld
}

func stripCDATA(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "/* <![CDATA[ */")
	s = strings.TrimSuffix(s, "/* ]]> */")
	return strings.TrimSpace(s)
}

// people accepts both a list of named objects and a single one.
func people(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []named
	if err := json.Unmarshal(raw, &list); err != nil {
		var one named
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil
		}
		list = []named{one}
	}
	out := make([]string, 0, len(list))
	for _, p := range list {
		out = append(out, p.Name)
	}
	return out
}

func releaseYear(raw json.RawMessage) int {
	var events []struct {
		StartDate json.RawMessage `json:"startDate"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &events) != nil {
		return models.UnknownYear
	}
	for _, ev := range events {
		if y := parseYear(ev.StartDate); y != models.UnknownYear {
			return y
		}
	}
	return models.UnknownYear
}

// parseYear accepts 1999, "1999" and "1999-05-21".
func parseYear(raw json.RawMessage) int {
	if len(raw) == 0 {
		return models.UnknownYear
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return models.UnknownYear
	}
	s = strings.TrimSpace(s)
	if len(s) > 4 {
		s = s[:4]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return models.UnknownYear
	}
	return n
}
