package models

import (
	"errors"
	"strings"
)

// Basic metadata structures for titles returned by the metadata provider.

type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeSeries  MediaType = "series"
	MediaTypeEpisode MediaType = "episode"
)

// ParseMediaType accepts the provider's type names case-insensitively.
// An empty value is valid and means "any".
func ParseMediaType(raw string) (MediaType, bool) {
	switch MediaType(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return "", true
	case MediaTypeMovie:
		return MediaTypeMovie, true
	case MediaTypeSeries, "tv", "show":
		return MediaTypeSeries, true
	case MediaTypeEpisode:
		return MediaTypeEpisode, true
	default:
		return "", false
	}
}

var (
	ErrEmptyQuery       = errors.New("query text is required")
	ErrInvalidPage      = errors.New("page must be a positive integer")
	ErrInvalidMediaType = errors.New("type must be one of movie, series, episode")
)

// SearchQuery is built per request and never persisted.
type SearchQuery struct {
	Text      string
	Page      int
	MediaType MediaType
}

// NewSearchQuery validates and normalizes the raw request parameters.
func NewSearchQuery(text string, page int, mediaType string) (SearchQuery, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SearchQuery{}, ErrEmptyQuery
	}
	if page < 1 {
		return SearchQuery{}, ErrInvalidPage
	}
	mt, ok := ParseMediaType(mediaType)
	if !ok {
		return SearchQuery{}, ErrInvalidMediaType
	}
	return SearchQuery{Text: text, Page: page, MediaType: mt}, nil
}

type MovieSummary struct {
	ExternalID string  `json:"externalId"`
	Title      string  `json:"title"`
	Year       string  `json:"year"`
	Type       string  `json:"type,omitempty"`
	PosterURL  *string `json:"posterUrl,omitempty"`
}

// SearchPage is the search envelope; Results keeps provider order.
type SearchPage struct {
	Query   string         `json:"query"`
	Page    int            `json:"page"`
	Type    string         `json:"type"`
	Total   int            `json:"total"`
	Results []MovieSummary `json:"results"`
}

type MovieDetail struct {
	ExternalID string  `json:"externalId"`
	Title      string  `json:"title"`
	Year       string  `json:"year"`
	Genre      string  `json:"genre"`
	Plot       string  `json:"plot"`
	PosterURL  *string `json:"posterUrl,omitempty"`
	Type       string  `json:"type,omitempty"`
	Director   string  `json:"director,omitempty"`
	Actors     string  `json:"actors,omitempty"`
	IMDBRating string  `json:"imdbRating,omitempty"`
}
