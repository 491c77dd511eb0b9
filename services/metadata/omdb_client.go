package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"rossoflix/internal/metrics"
	"rossoflix/internal/upstream"
	"rossoflix/models"
)

const (
	omdbDefaultBaseURL = "https://www.omdbapi.com"
	omdbProvider       = "omdb"
	omdbMaxBodyBytes   = 2 << 20
	omdbNotAvailable   = "N/A"
)

// ErrMissingAPIKey is returned by NewOMDbClient when no credential is supplied.
var ErrMissingAPIKey = errors.New("omdb api key not configured")

// OMDbClient is a typed wrapper around the OMDb HTTP API. It never retries;
// callers decide on retry policy.
type OMDbClient struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
	limiter *rate.Limiter
}

type OMDbOption func(*OMDbClient)

// WithBaseURL points the client at another OMDb-compatible endpoint.
func WithBaseURL(baseURL string) OMDbOption {
	return func(c *OMDbClient) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithMinInterval spaces outbound requests at least d apart. Zero disables throttling.
func WithMinInterval(d time.Duration) OMDbOption {
	return func(c *OMDbClient) {
		if d <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

func NewOMDbClient(apiKey string, httpc *http.Client, opts ...OMDbOption) (*OMDbClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 8 * time.Second}
	}
	c := &OMDbClient{
		apiKey:  apiKey,
		baseURL: omdbDefaultBaseURL,
		httpc:   httpc,
		limiter: rate.NewLimiter(rate.Every(20*time.Millisecond), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type omdbEnvelope struct {
	Response string `json:"Response"`
	Error    string `json:"Error"`
}

type omdbSearchItem struct {
	Title  string `json:"Title"`
	Year   string `json:"Year"`
	ImdbID string `json:"imdbID"`
	Type   string `json:"Type"`
	Poster string `json:"Poster"`
}

type omdbSearchResponse struct {
	omdbEnvelope
	Search       []json.RawMessage `json:"Search"`
	TotalResults string            `json:"totalResults"`
}

type omdbDetailResponse struct {
	omdbEnvelope
	Title      string `json:"Title"`
	Year       string `json:"Year"`
	ImdbID     string `json:"imdbID"`
	Type       string `json:"Type"`
	Genre      string `json:"Genre"`
	Director   string `json:"Director"`
	Actors     string `json:"Actors"`
	Plot       string `json:"Plot"`
	Poster     string `json:"Poster"`
	ImdbRating string `json:"imdbRating"`
}

// Search runs a title search. A provider "not found" answer is an empty page.
func (c *OMDbClient) Search(ctx context.Context, query models.SearchQuery) (models.SearchPage, error) {
	params := url.Values{}
	params.Set("s", query.Text)
	params.Set("page", strconv.Itoa(query.Page))
	if query.MediaType != "" {
		params.Set("type", string(query.MediaType))
	}

	var payload omdbSearchResponse
	if err := c.doGET(ctx, "search", params, &payload); err != nil {
		return models.SearchPage{}, err
	}

	page := models.SearchPage{
		Query:   query.Text,
		Page:    query.Page,
		Type:    string(query.MediaType),
		Results: []models.MovieSummary{},
	}

	switch payload.Response {
	case "True":
	case "False":
		msg := strings.TrimSpace(payload.Error)
		if isOMDbNotFound(msg) {
			return page, nil
		}
		return models.SearchPage{}, classifyOMDbError("search", msg)
	default:
		return models.SearchPage{}, upstream.Errorf(upstream.KindMalformed, omdbProvider, "search", "unexpected Response field %q", payload.Response)
	}

	dropped := 0
	for _, raw := range payload.Search {
		var item omdbSearchItem
		if err := json.Unmarshal(raw, &item); err != nil {
			dropped++
			continue
		}
		id := strings.TrimSpace(item.ImdbID)
		title := strings.TrimSpace(item.Title)
		if id == "" || title == "" {
			dropped++
			continue
		}
		page.Results = append(page.Results, models.MovieSummary{
			ExternalID: id,
			Title:      title,
			Year:       optionalText(item.Year),
			Type:       optionalText(item.Type),
			PosterURL:  posterURL(item.Poster),
		})
	}
	if dropped > 0 {
		log.Printf("[omdb] search %q page=%d dropped %d unusable results", query.Text, query.Page, dropped)
	}

	page.Total = len(page.Results)
	if total, err := strconv.Atoi(strings.TrimSpace(payload.TotalResults)); err == nil && total >= 0 {
		page.Total = total
	}
	return page, nil
}

// Detail fetches the full record for one identifier.
func (c *OMDbClient) Detail(ctx context.Context, externalID string) (models.MovieDetail, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return models.MovieDetail{}, upstream.New(upstream.KindBadRequest, omdbProvider, "detail", "empty identifier")
	}

	params := url.Values{}
	params.Set("i", externalID)
	params.Set("plot", "full")

	var payload omdbDetailResponse
	if err := c.doGET(ctx, "detail", params, &payload); err != nil {
		return models.MovieDetail{}, err
	}

	switch payload.Response {
	case "True":
	case "False":
		msg := strings.TrimSpace(payload.Error)
		if isOMDbNotFound(msg) || isOMDbUnknownID(msg) {
			return models.MovieDetail{}, upstream.Errorf(upstream.KindNotFound, omdbProvider, "detail", "%s: %s", externalID, msg)
		}
		return models.MovieDetail{}, classifyOMDbError("detail", msg)
	default:
		return models.MovieDetail{}, upstream.Errorf(upstream.KindMalformed, omdbProvider, "detail", "unexpected Response field %q", payload.Response)
	}

	id := strings.TrimSpace(payload.ImdbID)
	title := strings.TrimSpace(payload.Title)
	if id == "" || title == "" {
		return models.MovieDetail{}, upstream.Errorf(upstream.KindMalformed, omdbProvider, "detail", "record for %s lacks imdbID or Title", externalID)
	}

	return models.MovieDetail{
		ExternalID: id,
		Title:      title,
		Year:       optionalText(payload.Year),
		Genre:      optionalText(payload.Genre),
		Plot:       optionalText(payload.Plot),
		PosterURL:  posterURL(payload.Poster),
		Type:       optionalText(payload.Type),
		Director:   optionalText(payload.Director),
		Actors:     optionalText(payload.Actors),
		IMDBRating: optionalText(payload.ImdbRating),
	}, nil
}

// doGET performs one throttled request and decodes the JSON body into v.
func (c *OMDbClient) doGET(ctx context.Context, op string, params url.Values, v any) (err error) {
	start := time.Now()
	defer func() {
		metrics.UpstreamDuration.WithLabelValues(omdbProvider).Observe(time.Since(start).Seconds())
		result := "ok"
		if err != nil {
			result = upstream.KindOf(err).String()
		}
		metrics.UpstreamRequests.WithLabelValues(omdbProvider, result).Inc()
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return upstream.FromTransport(omdbProvider, op, err)
		}
	}

	params.Set("apikey", c.apiKey)
	params.Set("r", "json")
	endpoint := c.baseURL + "/?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return upstream.Wrap(upstream.KindUnavailable, omdbProvider, op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		msg := redactKey(err.Error(), c.apiKey)
		log.Printf("[omdb] %s http error: %s", op, msg)
		kind := upstream.KindUnavailable
		if upstream.IsTimeout(err) {
			kind = upstream.KindTimeout
		}
		return upstream.New(kind, omdbProvider, op, msg)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, omdbMaxBodyBytes))
	if err != nil {
		return upstream.FromTransport(omdbProvider, op, fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return upstream.New(upstream.KindRateLimited, omdbProvider, op, resp.Status)
	case resp.StatusCode == http.StatusUnauthorized:
		// OMDb reports both bad keys and exhausted quotas as 401
		var env omdbEnvelope
		_ = json.Unmarshal(body, &env)
		return classifyOMDbError(op, strings.TrimSpace(env.Error))
	case resp.StatusCode >= 500:
		log.Printf("[omdb] %s server error: %s", op, resp.Status)
		return upstream.Errorf(upstream.KindUnavailable, omdbProvider, op, "request failed: %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return upstream.Errorf(upstream.KindUnavailable, omdbProvider, op, "request failed: %s: %s", resp.Status, preview(body))
	}

	if err := json.Unmarshal(body, v); err != nil {
		return upstream.Wrap(upstream.KindMalformed, omdbProvider, op, fmt.Errorf("decode response: %w (body preview: %s)", err, preview(body)))
	}
	return nil
}

func classifyOMDbError(op, msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "limit reached"):
		return upstream.New(upstream.KindRateLimited, omdbProvider, op, msg)
	case strings.Contains(lower, "too many results"):
		return upstream.New(upstream.KindBadRequest, omdbProvider, op, "query too broad: "+msg)
	case msg == "":
		return upstream.New(upstream.KindUnavailable, omdbProvider, op, "provider reported an unspecified error")
	default:
		return upstream.New(upstream.KindUnavailable, omdbProvider, op, msg)
	}
}

func isOMDbNotFound(msg string) bool {
	return strings.HasSuffix(strings.ToLower(msg), "not found!")
}

func isOMDbUnknownID(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "incorrect imdb id") || strings.Contains(lower, "error getting data")
}

func optionalText(v string) string {
	v = strings.TrimSpace(v)
	if v == omdbNotAvailable {
		return ""
	}
	return v
}

func posterURL(v string) *string {
	v = optionalText(v)
	if v == "" {
		return nil
	}
	return &v
}

func preview(body []byte) string {
	p := strings.TrimSpace(string(body))
	if len(p) > 200 {
		p = p[:200] + "..."
	}
	return p
}

// redactKey strips the credential from transport errors, which quote the request URL.
func redactKey(s, key string) string {
	if key == "" {
		return s
	}
	return strings.ReplaceAll(s, url.QueryEscape(key), "REDACTED")
}
