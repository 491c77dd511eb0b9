package indexer

import (
	"context"
	"log"

	"rossoflix/internal/upstream"
	"rossoflix/models"
	"rossoflix/services/cache"
)

// StreamProvider lists torrent candidates for titles.
type StreamProvider interface {
	MovieStreams(ctx context.Context, externalID string) ([]models.TorrentStream, error)
	EpisodeStreams(ctx context.Context, externalID string, season, episode int) ([]models.TorrentStream, error)
}

var _ StreamProvider = (*TorrentioClient)(nil)

// Service caches stream lists in front of the index.
type Service struct {
	provider StreamProvider
	cache    *cache.Cache[[]models.TorrentStream]
	retry    upstream.RetryPolicy
}

func NewService(provider StreamProvider, streams *cache.Cache[[]models.TorrentStream], retry upstream.RetryPolicy) *Service {
	return &Service{provider: provider, cache: streams, retry: retry}
}

func (s *Service) MovieStreams(ctx context.Context, externalID string) ([]models.TorrentStream, error) {
	externalID = cache.NormalizeID(externalID)
	streams, err := s.cache.GetOrPopulate(ctx, cache.MovieStreamsKey(externalID), s.cache.TTL(), func(ctx context.Context) ([]models.TorrentStream, error) {
		return upstream.Retry(ctx, s.retry, "torrentio movie", func(ctx context.Context) ([]models.TorrentStream, error) {
			return s.provider.MovieStreams(ctx, externalID)
		})
	})
	if err != nil {
		log.Printf("[indexer] movie streams %s failed: %v", externalID, err)
		return nil, err
	}
	return cloneStreams(streams), nil
}

func (s *Service) EpisodeStreams(ctx context.Context, externalID string, season, episode int) ([]models.TorrentStream, error) {
	externalID = cache.NormalizeID(externalID)
	key := cache.EpisodeStreamsKey(externalID, season, episode)
	streams, err := s.cache.GetOrPopulate(ctx, key, s.cache.TTL(), func(ctx context.Context) ([]models.TorrentStream, error) {
		return upstream.Retry(ctx, s.retry, "torrentio episode", func(ctx context.Context) ([]models.TorrentStream, error) {
			return s.provider.EpisodeStreams(ctx, externalID, season, episode)
		})
	})
	if err != nil {
		log.Printf("[indexer] episode streams %s S%dE%d failed: %v", externalID, season, episode, err)
		return nil, err
	}
	return cloneStreams(streams), nil
}

// cloneStreams hands callers their own slice so the cached one stays untouched.
func cloneStreams(in []models.TorrentStream) []models.TorrentStream {
	out := make([]models.TorrentStream, len(in))
	copy(out, in)
	return out
}
