package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"syscall"
	"testing"

	"rossoflix/internal/upstream"
	"rossoflix/services/streaming"
)

const testHash = "0123456789abcdef0123456789abcdef01234567"

// memorySource serves a byte slice as a torrent file.
type memorySource struct {
	name   string
	reader *bytes.Reader
	size   int64

	mu     sync.Mutex
	closed bool
}

func newMemorySource(name string, data []byte) *memorySource {
	return &memorySource{name: name, reader: bytes.NewReader(data), size: int64(len(data))}
}

func (s *memorySource) Name() string { return s.name }
func (s *memorySource) Size() int64  { return s.size }

func (s *memorySource) ReadContext(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.reader.Read(p)
}

func (s *memorySource) Seek(offset int64, whence int) (int64, error) {
	return s.reader.Seek(offset, whence)
}

func (s *memorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeFetcher struct {
	src     streaming.Source
	err     error
	calls   int
	lastRef streaming.Reference
}

func (f *fakeFetcher) Open(_ context.Context, ref streaming.Reference) (streaming.Source, error) {
	f.calls++
	f.lastRef = ref
	if f.err != nil {
		return nil, f.err
	}
	return f.src, nil
}

func videoPayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 199)
	}
	return data
}

func newTestVideoHandler(fetcher streaming.Fetcher) *VideoHandler {
	return NewVideoHandler(streaming.NewProxy(fetcher, streaming.ProxyOptions{ChunkSize: 64}))
}

func TestVideoHandler_StreamVideo_MissingMagnet(t *testing.T) {
	fetcher := &fakeFetcher{}
	handler := newTestVideoHandler(fetcher)

	req := httptest.NewRequest(http.MethodGet, "/stream?filename=movie.mkv", nil)
	rr := httptest.NewRecorder()
	handler.StreamVideo(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	if env := decodeEnvelope(t, rr); env.Code != "bad_request" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if fetcher.calls != 0 {
		t.Fatalf("fetcher must not be called for a bad reference")
	}
}

func TestVideoHandler_StreamVideo_BadFileIdx(t *testing.T) {
	handler := newTestVideoHandler(&fakeFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/stream?infoHash="+testHash+"&fileIdx=first", nil)
	rr := httptest.NewRecorder()
	handler.StreamVideo(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestVideoHandler_StreamVideo_MethodNotAllowed(t *testing.T) {
	handler := newTestVideoHandler(&fakeFetcher{})

	req := httptest.NewRequest(http.MethodPost, "/stream?infoHash="+testHash, nil)
	rr := httptest.NewRecorder()
	handler.StreamVideo(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rr.Code)
	}
	if env := decodeEnvelope(t, rr); env.Code != CodeMethodNotAllowed {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestVideoHandler_StreamVideo_Full(t *testing.T) {
	data := videoPayload(1000)
	src := newMemorySource("The.Matrix.1999.mkv", data)
	fetcher := &fakeFetcher{src: src}
	handler := newTestVideoHandler(fetcher)

	magnet := "magnet:?xt=urn:btih:" + testHash + "%26dn=The+Matrix"
	req := httptest.NewRequest(http.MethodGet, "/stream?magnet="+magnet+"&filename=The.Matrix.1999.mkv&fileIdx=2&season=1&episode=3", nil)
	rr := httptest.NewRecorder()
	handler.StreamVideo(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	if !bytes.Equal(rr.Body.Bytes(), data) {
		t.Fatalf("body mismatch: got %d bytes", rr.Body.Len())
	}
	if got := rr.Header().Get("Content-Length"); got != "1000" {
		t.Fatalf("Content-Length = %q", got)
	}
	if got := rr.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Fatalf("Accept-Ranges = %q", got)
	}
	if got := rr.Header().Get("Content-Type"); got != "video/x-matroska" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); got != `inline; filename=The.Matrix.1999.mkv` {
		t.Fatalf("Content-Disposition = %q", got)
	}
	if rr.Header().Get("Content-Range") != "" {
		t.Fatalf("full responses carry no Content-Range")
	}

	if fetcher.lastRef.HexHash() != testHash {
		t.Fatalf("unexpected hash %s", fetcher.lastRef.HexHash())
	}
	if fetcher.lastRef.FileIndex != 2 || fetcher.lastRef.Season != 1 || fetcher.lastRef.Episode != 3 {
		t.Fatalf("unexpected reference: %+v", fetcher.lastRef)
	}
	if !src.isClosed() {
		t.Fatalf("source must be released after the response")
	}
}

func TestVideoHandler_StreamVideo_EpisodeFromFilename(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		wantSeason  int
		wantEpisode int
	}{
		{name: "code in filename", query: "&filename=Show.S02E05.1080p.mkv", wantSeason: 2, wantEpisode: 5},
		{name: "cross notation", query: "&filename=Show.3x07.mkv", wantSeason: 3, wantEpisode: 7},
		{name: "explicit numbers win", query: "&filename=Show.S02E05.1080p.mkv&season=1&episode=9", wantSeason: 1, wantEpisode: 9},
		{name: "movie filename", query: "&filename=The.Matrix.1999.1920x1080.mkv", wantSeason: 0, wantEpisode: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &fakeFetcher{src: newMemorySource("episode.mkv", videoPayload(10))}
			handler := newTestVideoHandler(fetcher)

			req := httptest.NewRequest(http.MethodGet, "/stream?infoHash="+testHash+tt.query, nil)
			rr := httptest.NewRecorder()
			handler.StreamVideo(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
			}
			if fetcher.lastRef.Season != tt.wantSeason || fetcher.lastRef.Episode != tt.wantEpisode {
				t.Fatalf("expected S%dE%d, got S%dE%d", tt.wantSeason, tt.wantEpisode, fetcher.lastRef.Season, fetcher.lastRef.Episode)
			}
		})
	}
}

func TestVideoHandler_StreamVideo_Range(t *testing.T) {
	data := videoPayload(1000)
	src := newMemorySource("movie.mp4", data)
	handler := newTestVideoHandler(&fakeFetcher{src: src})

	req := httptest.NewRequest(http.MethodGet, "/stream?infoHash="+testHash+"&filename=movie.mp4", nil)
	req.Header.Set("Range", "bytes=100-199")
	rr := httptest.NewRecorder()
	handler.StreamVideo(rr, req)

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("expected status %d, got %d", http.StatusPartialContent, rr.Code)
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes 100-199/1000" {
		t.Fatalf("Content-Range = %q", got)
	}
	if got := rr.Header().Get("Content-Length"); got != "100" {
		t.Fatalf("Content-Length = %q", got)
	}
	if !bytes.Equal(rr.Body.Bytes(), data[100:200]) {
		t.Fatalf("body does not match the requested range")
	}
}

func TestVideoHandler_StreamVideo_RangeNotSatisfiable(t *testing.T) {
	src := newMemorySource("movie.mp4", videoPayload(1000))
	handler := newTestVideoHandler(&fakeFetcher{src: src})

	req := httptest.NewRequest(http.MethodGet, "/stream?infoHash="+testHash+"&filename=movie.mp4", nil)
	req.Header.Set("Range", "bytes=5000-")
	rr := httptest.NewRecorder()
	handler.StreamVideo(rr, req)

	if rr.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("expected status %d, got %d", http.StatusRequestedRangeNotSatisfiable, rr.Code)
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes */1000" {
		t.Fatalf("Content-Range = %q", got)
	}
	if env := decodeEnvelope(t, rr); env.Code != "range_not_satisfiable" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if !src.isClosed() {
		t.Fatalf("source must be released on 416")
	}
}

func TestVideoHandler_StreamVideo_SourceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "no peers", err: upstream.New(upstream.KindSourceUnavailable, "torrent", "open", "no metadata"), status: http.StatusBadGateway, code: "source_unavailable"},
		{name: "empty torrent", err: upstream.New(upstream.KindNotFound, "torrent", "open", "no files"), status: http.StatusNotFound, code: "not_found"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestVideoHandler(&fakeFetcher{err: tc.err})

			req := httptest.NewRequest(http.MethodGet, "/stream?infoHash="+testHash, nil)
			rr := httptest.NewRecorder()
			handler.StreamVideo(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if env := decodeEnvelope(t, rr); env.Code != tc.code {
				t.Fatalf("unexpected envelope: %+v", env)
			}
		})
	}
}

func TestVideoHandler_StreamVideo_HeadRequest(t *testing.T) {
	src := newMemorySource("movie.mp4", videoPayload(500))
	handler := newTestVideoHandler(&fakeFetcher{src: src})

	req := httptest.NewRequest(http.MethodHead, "/stream?infoHash="+testHash, nil)
	rr := httptest.NewRecorder()
	handler.StreamVideo(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("HEAD request should have empty body, got %d bytes", rr.Body.Len())
	}
	if got := rr.Header().Get("Content-Length"); got != "500" {
		t.Fatalf("Content-Length = %q", got)
	}
	if !src.isClosed() {
		t.Fatalf("source must be released after HEAD")
	}
}

func TestVideoHandler_StreamVideo_UnsafeFilenameFallsBack(t *testing.T) {
	src := newMemorySource("Movie (2001).mkv", videoPayload(10))
	handler := newTestVideoHandler(&fakeFetcher{src: src})

	req := httptest.NewRequest(http.MethodHead, "/stream?infoHash="+testHash+"&filename=..%2F..%2Fetc%2Fpasswd", nil)
	rr := httptest.NewRecorder()
	handler.StreamVideo(rr, req)

	if got := rr.Header().Get("Content-Disposition"); got != `inline; filename="Movie (2001).mkv"` {
		t.Fatalf("Content-Disposition = %q", got)
	}
}

func TestVideoHandler_HandleOptions(t *testing.T) {
	handler := newTestVideoHandler(&fakeFetcher{})

	req := httptest.NewRequest(http.MethodOptions, "/stream", nil)
	rr := httptest.NewRecorder()
	handler.StreamVideo(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected Access-Control-Allow-Origin: *")
	}
	if rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected Access-Control-Allow-Methods header")
	}
	if rr.Header().Get("Access-Control-Expose-Headers") == "" {
		t.Error("expected Access-Control-Expose-Headers header")
	}
}

func TestIsClientGone(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "context canceled", err: context.Canceled, expected: true},
		{name: "wrapped canceled", err: fmt.Errorf("relay: %w", context.Canceled), expected: true},
		{name: "epipe", err: syscall.EPIPE, expected: true},
		{name: "reset text", err: errors.New("write tcp: connection reset by peer"), expected: true},
		{name: "eof", err: io.EOF, expected: false},
		{name: "stall", err: upstream.New(upstream.KindSourceUnavailable, "stream", "read", "no data"), expected: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isClientGone(tc.err); got != tc.expected {
				t.Errorf("isClientGone(%v) = %v, want %v", tc.err, got, tc.expected)
			}
		})
	}
}
