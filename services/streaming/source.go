package streaming

import (
	"context"
	"io"
)

//go:generate mockgen -destination=mock_fetcher_test.go -package=streaming . Fetcher,Source

// Source is a seekable byte source whose reads may have to wait for data to
// arrive. ReadContext must return promptly once ctx is done.
type Source interface {
	Name() string
	Size() int64
	ReadContext(ctx context.Context, p []byte) (int, error)
	io.Seeker
	io.Closer
}

// Fetcher resolves a reference to a Source. Open fails with
// upstream.ErrSourceUnavailable when nothing can serve the content in time.
type Fetcher interface {
	Open(ctx context.Context, ref Reference) (Source, error)
}
