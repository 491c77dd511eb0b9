package metadata

import (
	"context"
	"log"

	"rossoflix/internal/upstream"
	"rossoflix/models"
	"rossoflix/services/cache"
)

// Provider is the metadata backend the service caches in front of.
type Provider interface {
	Search(ctx context.Context, query models.SearchQuery) (models.SearchPage, error)
	Detail(ctx context.Context, externalID string) (models.MovieDetail, error)
}

var _ Provider = (*OMDbClient)(nil)

type Service struct {
	provider Provider
	searches *cache.Cache[models.SearchPage]
	details  *cache.Cache[models.MovieDetail]
	retry    upstream.RetryPolicy
}

func NewService(provider Provider, searches *cache.Cache[models.SearchPage], details *cache.Cache[models.MovieDetail], retry upstream.RetryPolicy) *Service {
	return &Service{
		provider: provider,
		searches: searches,
		details:  details,
		retry:    retry,
	}
}

// Search returns one page of results, served from cache when a fresh entry exists.
func (s *Service) Search(ctx context.Context, query models.SearchQuery) (models.SearchPage, error) {
	mediaType := string(query.MediaType)
	if mediaType == "" {
		mediaType = "any"
	}
	key := cache.SearchKey(query.Text, query.Page, mediaType)

	page, err := s.searches.GetOrPopulate(ctx, key, s.searches.TTL(), func(ctx context.Context) (models.SearchPage, error) {
		return upstream.Retry(ctx, s.retry, "omdb search", func(ctx context.Context) (models.SearchPage, error) {
			return s.provider.Search(ctx, query)
		})
	})
	if err != nil {
		log.Printf("[metadata] search %q page=%d type=%s failed: %v", query.Text, query.Page, mediaType, err)
		return models.SearchPage{}, err
	}

	// equivalent queries share an entry, echo what this caller asked for
	page.Query = query.Text
	return page, nil
}

// MovieDetails returns the full record for externalID.
func (s *Service) MovieDetails(ctx context.Context, externalID string) (models.MovieDetail, error) {
	externalID = cache.NormalizeID(externalID)
	if externalID == "" {
		return models.MovieDetail{}, upstream.New(upstream.KindBadRequest, "", "details", "id is required")
	}

	detail, err := s.details.GetOrPopulate(ctx, cache.DetailKey(externalID), s.details.TTL(), func(ctx context.Context) (models.MovieDetail, error) {
		return upstream.Retry(ctx, s.retry, "omdb detail", func(ctx context.Context) (models.MovieDetail, error) {
			return s.provider.Detail(ctx, externalID)
		})
	})
	if err != nil {
		log.Printf("[metadata] details %s failed: %v", externalID, err)
		return models.MovieDetail{}, err
	}
	return detail, nil
}
