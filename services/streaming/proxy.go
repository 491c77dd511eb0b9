package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"rossoflix/internal/metrics"
	"rossoflix/internal/upstream"
)

const (
	defaultStallTimeout = 30 * time.Second
	defaultChunkSize    = 256 << 10
	sniffLength         = 3072
)

// videoContentTypes covers containers mime.TypeByExtension does not know everywhere.
var videoContentTypes = map[string]string{
	".mkv":  "video/x-matroska",
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".ts":   "video/mp2t",
	".m2ts": "video/mp2t",
	".mts":  "video/mp2t",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
	".wmv":  "video/x-ms-wmv",
	".srt":  "application/x-subrip",
	".vtt":  "text/vtt",
}

// ProxyOptions tunes the relay loop.
type ProxyOptions struct {
	// StallTimeout bounds how long a single read may wait for data.
	StallTimeout time.Duration
	ChunkSize    int
}

// Proxy turns references into range-aware stream sessions.
type Proxy struct {
	fetcher Fetcher
	stall   time.Duration
	chunk   int
}

func NewProxy(fetcher Fetcher, opts ProxyOptions) *Proxy {
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = defaultStallTimeout
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	return &Proxy{fetcher: fetcher, stall: opts.StallTimeout, chunk: opts.ChunkSize}
}

// Session is one client's view of a source. It is owned by the connection
// that opened it and must be closed by it.
type Session struct {
	ID          string
	Filename    string
	ContentType string
	Size        int64
	ByteRange

	src     Source
	stall   time.Duration
	chunk   int
	once    sync.Once
	written atomic.Int64
}

// Open resolves ref, negotiates the range and positions the source at its
// start. Unsatisfiable ranges fail with *UnsatisfiableRangeError after the
// source has been released.
func (p *Proxy) Open(ctx context.Context, ref Reference, rangeHeader string) (*Session, error) {
	src, err := p.fetcher.Open(ctx, ref)
	if err != nil {
		return nil, err
	}

	size := src.Size()
	br, err := ParseRange(rangeHeader, size)
	if err != nil {
		src.Close()
		return nil, err
	}

	s := &Session{
		ID:        uuid.NewString(),
		Filename:  displayName(ref.Filename, src.Name()),
		Size:      size,
		ByteRange: br,
		src:       src,
		stall:     p.stall,
		chunk:     p.chunk,
	}

	s.ContentType = contentTypeFor(s.Filename)
	if s.ContentType == "" {
		// sniffing a mid-file range would first wait for the head of the file
		if br.Start == 0 {
			s.ContentType = s.sniff(ctx)
		} else {
			s.ContentType = "application/octet-stream"
		}
	}

	if _, err := src.Seek(br.Start, io.SeekStart); err != nil {
		src.Close()
		return nil, upstream.Wrap(upstream.KindSourceUnavailable, "stream", "seek", err)
	}

	metrics.ActiveStreams.Inc()
	log.Printf("[stream] session %s open %s range=%d-%d/%d partial=%t", s.ID, s.Filename, br.Start, br.End, size, br.Partial)
	return s, nil
}

// displayName prefers the client's advisory filename when it looks like a
// plain name, falling back to the name inside the torrent.
func displayName(advisory, actual string) string {
	advisory = strings.TrimSpace(advisory)
	if advisory != "" && !strings.ContainsAny(advisory, "/\\\"\r\n") {
		return advisory
	}
	return path.Base(strings.ReplaceAll(actual, "\\", "/"))
}

func contentTypeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := videoContentTypes[ext]; ok {
		return ct
	}
	if ext != "" {
		return mime.TypeByExtension(ext)
	}
	return ""
}

// sniff inspects the first bytes of the source. It is best effort and leaves
// the source to be repositioned by the caller.
func (s *Session) sniff(ctx context.Context) string {
	buf := make([]byte, sniffLength)
	rctx, cancel := context.WithTimeout(ctx, s.stall)
	defer cancel()

	if _, err := s.src.Seek(0, io.SeekStart); err != nil {
		return "application/octet-stream"
	}
	n, err := io.ReadFull(readerFunc(func(p []byte) (int, error) { return s.src.ReadContext(rctx, p) }), buf)
	if n == 0 && err != nil {
		return "application/octet-stream"
	}
	return mimetype.Detect(buf[:n]).String()
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// WriteTo relays the negotiated range to w. Each read may wait up to the stall
// timeout for data; a longer wait fails with upstream.ErrSourceUnavailable.
// When ctx ends the source is closed at once so a pending read is abandoned.
func (s *Session) WriteTo(ctx context.Context, w io.Writer) (int64, error) {
	done := make(chan struct{})
	var wg conc.WaitGroup
	wg.Go(func() {
		select {
		case <-ctx.Done():
			log.Printf("[stream] session %s client gone, releasing source", s.ID)
			s.Close()
		case <-done:
		}
	})
	defer wg.Wait()
	defer close(done)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, s.chunk)
	remaining := s.Length()

	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return s.written.Load(), err
		}
		want := int64(len(buf))
		if remaining < want {
			want = remaining
		}

		rctx, cancel := context.WithTimeout(ctx, s.stall)
		n, err := s.src.ReadContext(rctx, buf[:want])
		stalled := errors.Is(rctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()

		if n > 0 {
			written, werr := w.Write(buf[:n])
			s.written.Add(int64(written))
			remaining -= int64(written)
			metrics.StreamedBytes.Add(float64(written))
			if werr != nil {
				return s.written.Load(), werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}

		if err == nil {
			continue
		}
		switch {
		case ctx.Err() != nil:
			return s.written.Load(), ctx.Err()
		case stalled:
			return s.written.Load(), upstream.Errorf(upstream.KindSourceUnavailable, "stream", "read", "no data for %s at offset %d", s.stall, s.Start+s.written.Load())
		case errors.Is(err, io.EOF):
			if remaining > 0 {
				return s.written.Load(), upstream.Errorf(upstream.KindSourceUnavailable, "stream", "read", "source ended %d bytes early", remaining)
			}
		default:
			return s.written.Load(), upstream.Wrap(upstream.KindSourceUnavailable, "stream", "read", err)
		}
	}
	return s.written.Load(), nil
}

// Written reports how many body bytes have been relayed so far.
func (s *Session) Written() int64 { return s.written.Load() }

// Close releases the source. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		err = s.src.Close()
		metrics.ActiveStreams.Dec()
		log.Printf("[stream] session %s closed after %d bytes", s.ID, s.written.Load())
	})
	if err != nil {
		return fmt.Errorf("close source: %w", err)
	}
	return nil
}
