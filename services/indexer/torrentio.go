package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"rossoflix/internal/metrics"
	"rossoflix/internal/upstream"
	"rossoflix/models"
)

const (
	torrentioDefaultBaseURL = "https://torrentio.strem.fun"
	torrentioProvider       = "torrentio"
	torrentioMaxBodyBytes   = 4 << 20
)

type mediaKind string

const (
	kindMovie  mediaKind = "movie"
	kindSeries mediaKind = "series"
)

// TorrentioOptions tunes the client. Zero values select the defaults.
type TorrentioOptions struct {
	// PathOptions is inserted between the base URL and /stream
	// (e.g. "sort=qualitysize|qualityfilter=480p,scr,cam").
	PathOptions string
	MinInterval time.Duration
	UserAgent   string
}

// TorrentioClient lists stream candidates for a title from a torrentio-compatible index.
type TorrentioClient struct {
	baseURL    string
	options    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewTorrentioClient(client *http.Client, baseURL string, opts TorrentioOptions) *TorrentioClient {
	if client == nil {
		client = &http.Client{Timeout: 8 * time.Second}
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = torrentioDefaultBaseURL
	}
	c := &TorrentioClient{
		baseURL:    baseURL,
		options:    strings.Trim(strings.TrimSpace(opts.PathOptions), "/"),
		userAgent:  opts.UserAgent,
		httpClient: client,
	}
	if opts.MinInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}
	return c
}

// MovieStreams lists candidates for a movie identifier.
func (t *TorrentioClient) MovieStreams(ctx context.Context, externalID string) ([]models.TorrentStream, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, upstream.New(upstream.KindBadRequest, torrentioProvider, "movie", "empty id")
	}
	return t.fetchStreams(ctx, kindMovie, externalID)
}

// EpisodeStreams lists candidates for one episode of a series.
func (t *TorrentioClient) EpisodeStreams(ctx context.Context, externalID string, season, episode int) ([]models.TorrentStream, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, upstream.New(upstream.KindBadRequest, torrentioProvider, "series", "empty id")
	}
	if season < 0 || episode < 1 {
		return nil, upstream.Errorf(upstream.KindBadRequest, torrentioProvider, "series", "invalid episode S%dE%d", season, episode)
	}
	return t.fetchStreams(ctx, kindSeries, fmt.Sprintf("%s:%d:%d", externalID, season, episode))
}

type torrentioResponse struct {
	Streams []json.RawMessage `json:"streams"`
}

type torrentioEntry struct {
	Name          string          `json:"name"`
	Title         string          `json:"title"`
	InfoHash      string          `json:"infoHash"`
	FileIdx       *int            `json:"fileIdx"`
	Size          json.RawMessage `json:"size"`
	Seeders       json.RawMessage `json:"seeders"`
	BehaviorHints struct {
		Filename     string   `json:"filename"`
		BingeGroup   string   `json:"bingeGroup"`
		OpenTrackers []string `json:"openTrackers"`
	} `json:"behaviorHints"`
	Sources []string `json:"sources"`
}

var (
	reInfoHash = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)
	reSize     = regexp.MustCompile(`💾\s*([\d.,]+)\s*([KMGTP]?B)`)
	reSeeders  = regexp.MustCompile(`👤\s*(\d+)`)
	reProvider = regexp.MustCompile(`⚙️?\s*([^\n]+)`)
)

func (t *TorrentioClient) fetchStreams(ctx context.Context, kind mediaKind, id string) (streams []models.TorrentStream, err error) {
	start := time.Now()
	defer func() {
		metrics.UpstreamDuration.WithLabelValues(torrentioProvider).Observe(time.Since(start).Seconds())
		result := "ok"
		if err != nil {
			result = upstream.KindOf(err).String()
		}
		metrics.UpstreamRequests.WithLabelValues(torrentioProvider, result).Inc()
	}()

	op := string(kind)
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, upstream.FromTransport(torrentioProvider, op, err)
		}
	}

	// Format: baseURL/[options/]stream/kind/id.json
	var endpoint string
	if t.options != "" {
		endpoint = fmt.Sprintf("%s/%s/stream/%s/%s.json", t.baseURL, t.options, kind, url.PathEscape(id))
	} else {
		endpoint = fmt.Sprintf("%s/stream/%s/%s.json", t.baseURL, kind, url.PathEscape(id))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, upstream.Wrap(upstream.KindUnavailable, torrentioProvider, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		log.Printf("[torrentio] %s %s http error: %v", kind, id, err)
		return nil, upstream.FromTransport(torrentioProvider, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// the index answers 404 for titles it has never seen
		return []models.TorrentStream{}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, upstream.New(upstream.KindRateLimited, torrentioProvider, op, resp.Status)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, upstream.Errorf(upstream.KindUnavailable, torrentioProvider, op, "%s returned %d: %s", id, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload torrentioResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, torrentioMaxBodyBytes)).Decode(&payload); err != nil {
		if upstream.IsTimeout(err) {
			return nil, upstream.Wrap(upstream.KindTimeout, torrentioProvider, op, err)
		}
		return nil, upstream.Wrap(upstream.KindMalformed, torrentioProvider, op, fmt.Errorf("decode torrentio response: %w", err))
	}

	streams = normalizeEntries(payload.Streams)
	if dropped := len(payload.Streams) - len(streams); dropped > 0 {
		log.Printf("[torrentio] %s %s: kept %d streams, dropped %d", kind, id, len(streams), dropped)
	}
	return streams, nil
}

// normalizeEntries keeps index order, drops entries that do not decode,
// entries without a usable info-hash and repeated (info-hash, file index) pairs.
func normalizeEntries(raw []json.RawMessage) []models.TorrentStream {
	streams := make([]models.TorrentStream, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))

	for _, item := range raw {
		var entry torrentioEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			continue
		}
		infoHash := strings.TrimSpace(entry.InfoHash)
		if !reInfoHash.MatchString(infoHash) {
			continue
		}
		infoHash = strings.ToLower(infoHash)

		guid := infoHash + ":-"
		if entry.FileIdx != nil {
			guid = fmt.Sprintf("%s:%d", infoHash, *entry.FileIdx)
		}
		if _, exists := seen[guid]; exists {
			continue
		}
		seen[guid] = struct{}{}

		name := strings.TrimSpace(entry.Name)
		rawTitle := strings.TrimSpace(entry.Title)
		title := deriveTitle(rawTitle)
		if title == "" {
			title = name
		}

		stream := models.TorrentStream{
			Title:      title,
			InfoHash:   infoHash,
			Filename:   strings.TrimSpace(entry.BehaviorHints.Filename),
			FileIndex:  entry.FileIdx,
			Magnet:     buildMagnet(infoHash, trackersFrom(entry)),
			Name:       name,
			Resolution: detectResolution(name, rawTitle),
			Source:     parseProvider(rawTitle),
		}
		if size := parseSize(rawTitle); size > 0 {
			stream.SizeBytes = &size
		} else if size := parseNumber(entry.Size); size > 0 {
			stream.SizeBytes = &size
		}
		if seeders, ok := parseSeeders(entry.Seeders, rawTitle); ok {
			stream.Seeders = &seeders
		}
		streams = append(streams, stream)
	}
	return streams
}

func deriveTitle(raw string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(raw), "\n")
	return strings.TrimSpace(line)
}

func parseSize(raw string) int64 {
	match := reSize.FindStringSubmatch(raw)
	if len(match) != 3 {
		return 0
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
	if err != nil {
		return 0
	}
	multipliers := map[string]float64{
		"B":  1,
		"KB": 1 << 10,
		"MB": 1 << 20,
		"GB": 1 << 30,
		"TB": 1 << 40,
		"PB": 1 << 50,
	}
	if mult, ok := multipliers[strings.ToUpper(match[2])]; ok {
		return int64(value * mult)
	}
	return 0
}

// parseNumber reads a JSON number or numeric string; anything else is zero.
func parseNumber(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return v
		}
		if f, err := n.Float64(); err == nil {
			return int64(f)
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return v
		}
	}
	return 0
}

func parseSeeders(raw json.RawMessage, title string) (int, bool) {
	if v := parseNumber(raw); v > 0 {
		return int(v), true
	}
	if match := reSeeders.FindStringSubmatch(title); len(match) == 2 {
		if v, err := strconv.Atoi(match[1]); err == nil {
			return v, true
		}
	}
	return 0, false
}

func parseProvider(raw string) string {
	match := reProvider.FindStringSubmatch(raw)
	if len(match) != 2 {
		return ""
	}
	provider := strings.TrimSpace(match[1])
	provider = strings.TrimSuffix(provider, "Multi Audio")
	return strings.TrimSpace(provider)
}

func detectResolution(name, raw string) string {
	release := strings.ToLower(name + " " + raw)
	switch {
	case strings.Contains(release, "2160p") || strings.Contains(release, "4k"):
		return "2160p"
	case strings.Contains(release, "1080p"):
		return "1080p"
	case strings.Contains(release, "720p"):
		return "720p"
	case strings.Contains(release, "480p"):
		return "480p"
	default:
		return ""
	}
}

// trackersFrom merges openTrackers hints with "tracker:" entries of sources.
func trackersFrom(entry torrentioEntry) []string {
	trackers := make([]string, 0, len(entry.BehaviorHints.OpenTrackers)+len(entry.Sources))
	seen := make(map[string]struct{})
	add := func(tr string) {
		tr = strings.TrimSpace(tr)
		if tr == "" {
			return
		}
		if _, ok := seen[tr]; ok {
			return
		}
		seen[tr] = struct{}{}
		trackers = append(trackers, tr)
	}
	for _, tr := range entry.BehaviorHints.OpenTrackers {
		add(tr)
	}
	for _, src := range entry.Sources {
		if tr, ok := strings.CutPrefix(src, "tracker:"); ok {
			add(tr)
		}
	}
	return trackers
}

func buildMagnet(infoHash string, trackers []string) string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(infoHash)
	for _, tracker := range trackers {
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tracker))
	}
	return b.String()
}
