package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rossoflix/internal/upstream"
	"rossoflix/models"
	"rossoflix/services/cache"
)

type fakeProvider struct {
	mu          sync.Mutex
	searchCalls int
	detailCalls int
	lastQuery   models.SearchQuery
	lastID      string

	searchErrs []error
	detailErr  error
	page       models.SearchPage
	detail     models.MovieDetail
}

func (f *fakeProvider) Search(_ context.Context, q models.SearchQuery) (models.SearchPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	f.lastQuery = q
	if len(f.searchErrs) > 0 {
		err := f.searchErrs[0]
		f.searchErrs = f.searchErrs[1:]
		if err != nil {
			return models.SearchPage{}, err
		}
	}
	page := f.page
	page.Query = q.Text
	return page, nil
}

func (f *fakeProvider) Detail(_ context.Context, id string) (models.MovieDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls++
	f.lastID = id
	if f.detailErr != nil {
		return models.MovieDetail{}, f.detailErr
	}
	return f.detail, nil
}

func newTestService(p Provider) *Service {
	return NewService(
		p,
		cache.New[models.SearchPage](cache.Options{Name: "search", TTL: time.Minute}),
		cache.New[models.MovieDetail](cache.Options{Name: "detail", TTL: time.Minute}),
		upstream.RetryPolicy{Retries: 1},
	)
}

func TestServiceSearchCachesEquivalentQueries(t *testing.T) {
	provider := &fakeProvider{page: models.SearchPage{Page: 1, Type: "movie", Total: 1, Results: []models.MovieSummary{{ExternalID: "tt0133093", Title: "The Matrix"}}}}
	svc := newTestService(provider)

	first, err := models.NewSearchQuery("Matrix", 1, "movie")
	require.NoError(t, err)
	second, err := models.NewSearchQuery("  matrix ", 1, "MOVIE")
	require.NoError(t, err)

	page, err := svc.Search(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, "Matrix", page.Query)

	page, err = svc.Search(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, "matrix", page.Query, "query echoes the caller's text")
	require.Len(t, page.Results, 1)
	assert.Equal(t, 1, provider.searchCalls)
}

func TestServiceSearchRetriesTransientFailure(t *testing.T) {
	provider := &fakeProvider{
		searchErrs: []error{upstream.New(upstream.KindTimeout, "omdb", "search", "slow")},
		page:       models.SearchPage{Page: 1, Results: []models.MovieSummary{}},
	}
	svc := newTestService(provider)

	q, err := models.NewSearchQuery("matrix", 1, "movie")
	require.NoError(t, err)
	_, err = svc.Search(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.searchCalls)
}

func TestServiceSearchDoesNotRetryRateLimit(t *testing.T) {
	provider := &fakeProvider{
		searchErrs: []error{upstream.New(upstream.KindRateLimited, "omdb", "search", "limit reached")},
	}
	svc := newTestService(provider)

	q, err := models.NewSearchQuery("matrix", 1, "movie")
	require.NoError(t, err)
	_, err = svc.Search(context.Background(), q)
	if !errors.Is(err, upstream.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	assert.Equal(t, 1, provider.searchCalls)

	// failures are not cached
	_, err = svc.Search(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.searchCalls)
}

func TestServiceMovieDetails(t *testing.T) {
	provider := &fakeProvider{detail: models.MovieDetail{ExternalID: "tt0133093", Title: "The Matrix"}}
	svc := newTestService(provider)

	detail, err := svc.MovieDetails(context.Background(), " tt0133093 ")
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", detail.Title)
	assert.Equal(t, "tt0133093", provider.lastID)

	_, err = svc.MovieDetails(context.Background(), "TT0133093")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.detailCalls)
}

func TestServiceMovieDetailsSendsNormalizedID(t *testing.T) {
	provider := &fakeProvider{detail: models.MovieDetail{ExternalID: "tt0133093", Title: "The Matrix"}}
	svc := newTestService(provider)

	_, err := svc.MovieDetails(context.Background(), "TT0133093")
	require.NoError(t, err)
	assert.Equal(t, "tt0133093", provider.lastID)

	_, err = svc.MovieDetails(context.Background(), "tt0133093")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.detailCalls)
}

func TestServiceMovieDetailsErrors(t *testing.T) {
	provider := &fakeProvider{detailErr: upstream.New(upstream.KindNotFound, "omdb", "detail", "Incorrect IMDb ID.")}
	svc := newTestService(provider)

	_, err := svc.MovieDetails(context.Background(), "")
	if !errors.Is(err, upstream.ErrBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
	assert.Equal(t, 0, provider.detailCalls)

	_, err = svc.MovieDetails(context.Background(), "tt404")
	if !errors.Is(err, upstream.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	assert.Equal(t, 1, provider.detailCalls, "not found is not retried")
}
