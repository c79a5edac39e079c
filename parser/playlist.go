package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-films/models"
)

// ErrMalformedURL is returned when a playlist URL does not have the
// <base>/<owner>/(films|list)/<slug> shape.
var ErrMalformedURL = errors.New("malformed playlist url")

// base, owner, kind, title
var playlistPattern = regexp.MustCompile(`^(https?://[^/\s]+/)([A-Za-z0-9_-]+)/(films|list)/([A-Za-z0-9_-]+)(/.*)?$`)

// ParsePlaylistURL resolves the playlist identity from its URL. Pages is left
// at zero; it is discovered from the first listing page.
func ParsePlaylistURL(raw string) (models.Playlist, error) {
	raw = strings.TrimSpace(raw)
	groups := playlistPattern.FindStringSubmatch(raw)
	if groups == nil {
		return models.Playlist{}, fmt.Errorf("%w: %q", ErrMalformedURL, raw)
	}

	kind := models.KindCollection
	if groups[3] == "films" {
		kind = models.KindRatings
	}

	title := NormalizeSlug(groups[4])
	if title == "rated" {
		title = "ratings"
	}

	return models.Playlist{
		URL:   strings.TrimSuffix(raw, "/") + "/",
		Base:  groups[1],
		Owner: NormalizeSlug(groups[2]),
		Kind:  kind,
		Title: title,
	}, nil
}

// PageCount reads the number of listing pages from the paginator. Playlists
// short enough to fit one page have no paginator.
func PageCount(doc *goquery.Document) int {
	last := doc.Find("li.paginate-page").Last()
	if last.Length() == 0 {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(last.Text()))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
