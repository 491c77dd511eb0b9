package cache

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// normalize case-folds s and collapses runs of whitespace so that equivalent
// inputs share a key. Casers keep state, so each call gets its own.
func normalize(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// NormalizeID is the canonical form of an external id. Callers pass the same
// value to the key builders and to the provider so that every caller sharing
// an entry also shares the upstream request.
func NormalizeID(externalID string) string {
	return normalize(externalID)
}

// SearchKey identifies a search page. Type defaults to movie, matching the
// search handler's default.
func SearchKey(query string, page int, mediaType string) string {
	if page < 1 {
		page = 1
	}
	mediaType = normalize(mediaType)
	if mediaType == "" {
		mediaType = "movie"
	}
	return fmt.Sprintf("search:q=%s:page=%d:type=%s", normalize(query), page, mediaType)
}

// DetailKey identifies a title detail lookup.
func DetailKey(externalID string) string {
	return "detail:" + normalize(externalID)
}

// MovieStreamsKey identifies the stream candidates of a movie.
func MovieStreamsKey(externalID string) string {
	return "torrentio:movie:" + normalize(externalID)
}

// EpisodeStreamsKey identifies the stream candidates of one episode.
func EpisodeStreamsKey(externalID string, season, episode int) string {
	return fmt.Sprintf("torrentio:show:%s:S%dE%d", normalize(externalID), season, episode)
}
