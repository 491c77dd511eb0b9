package streaming

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/acomagu/bufpipe"
)

// memSource serves a fixed payload with instant random access.
type memSource struct {
	name   string
	r      *bytes.Reader
	closed atomic.Bool
}

func newMemSource(name string, data []byte) *memSource {
	return &memSource{name: name, r: bytes.NewReader(data)}
}

func (m *memSource) Name() string { return m.name }
func (m *memSource) Size() int64  { return m.r.Size() }

func (m *memSource) ReadContext(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if m.closed.Load() {
		return 0, os.ErrClosed
	}
	return m.r.Read(p)
}

func (m *memSource) Seek(offset int64, whence int) (int64, error) {
	return m.r.Seek(offset, whence)
}

func (m *memSource) Close() error {
	m.closed.Store(true)
	return nil
}

// pipeSource only produces bytes once the test writes them, like a torrent
// piece that has not been downloaded yet.
type pipeSource struct {
	name string
	size int64
	r    *bufpipe.PipeReader
	w    *bufpipe.PipeWriter

	reads     atomic.Int32
	closeOnce sync.Once
	closed    chan struct{}
}

func newPipeSource(name string, size int64) *pipeSource {
	r, w := bufpipe.New(nil)
	return &pipeSource{name: name, size: size, r: r, w: w, closed: make(chan struct{})}
}

func (p *pipeSource) Name() string { return p.name }
func (p *pipeSource) Size() int64  { return p.size }

func (p *pipeSource) ReadContext(ctx context.Context, buf []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, os.ErrClosed
	default:
	}
	p.reads.Add(1)

	type result struct {
		n   int
		err error
	}
	tmp := make([]byte, len(buf))
	ch := make(chan result, 1)
	go func() {
		n, err := p.r.Read(tmp)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		copy(buf, tmp[:res.n])
		return res.n, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-p.closed:
		return 0, os.ErrClosed
	}
}

func (p *pipeSource) Seek(offset int64, whence int) (int64, error) {
	if offset != 0 || whence != io.SeekStart {
		return 0, os.ErrInvalid
	}
	return 0, nil
}

func (p *pipeSource) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.w.Close()
	})
	return nil
}

func (p *pipeSource) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}
