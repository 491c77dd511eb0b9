package streaming

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"
	"github.com/spf13/afero"

	"rossoflix/internal/mediaresolve"
	"rossoflix/internal/metrics"
	"rossoflix/internal/upstream"
)

// EngineConfig configures the embedded torrent client.
type EngineConfig struct {
	// DataDir holds one scratch directory per active torrent.
	DataDir          string
	ListenPort       int
	DiscoveryTimeout time.Duration
	ReleaseGrace     time.Duration
	Readahead        int64
	DisableIPv6      bool
	NoDHT            bool
	// Fs creates and removes scratch directories; defaults to the OS filesystem.
	Fs afero.Fs
}

// TorrentEngine fetches torrent content on demand. Torrents are shared between
// concurrent readers of the same info-hash and dropped once the last reader
// has been gone for ReleaseGrace.
type TorrentEngine struct {
	cfg    EngineConfig
	client *torrent.Client
	fs     afero.Fs

	mu       sync.Mutex
	torrents map[string]*torrentEntry
	closed   bool
}

type torrentEntry struct {
	hash    string
	t       *torrent.Torrent
	store   storage.ClientImplCloser
	dir     string
	refs    int
	release *time.Timer
}

var _ Fetcher = (*TorrentEngine)(nil)

// NewTorrentEngine starts a leech-only torrent client.
func NewTorrentEngine(cfg EngineConfig) (*TorrentEngine, error) {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.DataDir == "" {
		dir, err := afero.TempDir(cfg.Fs, "", "rossoflix-torrents-")
		if err != nil {
			return nil, fmt.Errorf("create torrent data dir: %w", err)
		}
		cfg.DataDir = dir
	}
	if err := cfg.Fs.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create torrent data dir: %w", err)
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = 45 * time.Second
	}
	if cfg.ReleaseGrace < 0 {
		cfg.ReleaseGrace = 0
	}
	if cfg.Readahead <= 0 {
		cfg.Readahead = 8 << 20
	}

	tc := torrent.NewDefaultClientConfig()
	tc.DataDir = cfg.DataDir
	tc.ListenPort = cfg.ListenPort
	tc.NoUpload = true
	tc.Seed = false
	tc.DisablePEX = true
	tc.DisableIPv6 = cfg.DisableIPv6
	tc.NoDHT = cfg.NoDHT
	tc.NoDefaultPortForwarding = true

	client, err := torrent.NewClient(tc)
	if err != nil {
		return nil, fmt.Errorf("start torrent client: %w", err)
	}
	log.Printf("[torrent] client listening, data dir %s", cfg.DataDir)

	return &TorrentEngine{
		cfg:      cfg,
		client:   client,
		fs:       cfg.Fs,
		torrents: make(map[string]*torrentEntry),
	}, nil
}

// Open adds (or reuses) the torrent, waits for its metadata and returns a
// reader over the selected file.
func (e *TorrentEngine) Open(ctx context.Context, ref Reference) (Source, error) {
	entry, err := e.acquire(ref)
	if err != nil {
		return nil, err
	}

	discover, cancel := context.WithTimeout(ctx, e.cfg.DiscoveryTimeout)
	defer cancel()

	select {
	case <-entry.t.GotInfo():
	case <-discover.Done():
		e.release(entry)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, upstream.Errorf(upstream.KindSourceUnavailable, "torrent", "open", "no metadata for %s within %s", entry.hash, e.cfg.DiscoveryTimeout)
	}

	files := entry.t.Files()
	candidates := make([]mediaresolve.File, len(files))
	for i, f := range files {
		candidates[i] = mediaresolve.File{Path: f.DisplayPath(), Size: f.Length()}
	}
	idx, reason := mediaresolve.SelectFile(candidates, mediaresolve.Hints{
		FileIndex: ref.FileIndex,
		Filename:  ref.Filename,
		Title:     ref.Name,
		Season:    ref.Season,
		Episode:   ref.Episode,
	})
	if idx < 0 {
		e.release(entry)
		return nil, upstream.Errorf(upstream.KindNotFound, "torrent", "open", "%s has no files", entry.hash)
	}
	file := files[idx]
	log.Printf("[torrent] %s serving %q (%d bytes): %s", entry.hash, file.DisplayPath(), file.Length(), reason)

	reader := file.NewReader()
	reader.SetReadahead(e.cfg.Readahead)
	reader.SetResponsive()

	return &torrentSource{engine: e, entry: entry, file: file, reader: reader}, nil
}

func (e *TorrentEngine) acquire(ref Reference) (*torrentEntry, error) {
	hash := ref.HexHash()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, upstream.New(upstream.KindSourceUnavailable, "torrent", "open", "engine is shut down")
	}

	if entry, ok := e.torrents[hash]; ok {
		entry.refs++
		if entry.release != nil {
			entry.release.Stop()
			entry.release = nil
		}
		return entry, nil
	}

	dir := filepath.Join(e.cfg.DataDir, hash)
	if err := e.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, upstream.Wrap(upstream.KindSourceUnavailable, "torrent", "open", err)
	}
	store := storage.NewFile(dir)
	t, _ := e.client.AddTorrentOpt(torrent.AddTorrentOpts{
		InfoHash: ref.InfoHash,
		Storage:  store,
	})
	if len(ref.Trackers) > 0 {
		t.AddTrackers([][]string{ref.Trackers})
	}
	if ref.Name != "" {
		t.SetDisplayName(ref.Name)
	}

	entry := &torrentEntry{hash: hash, t: t, store: store, dir: dir, refs: 1}
	e.torrents[hash] = entry
	metrics.ActiveTorrents.Set(float64(len(e.torrents)))
	log.Printf("[torrent] added %s", hash)
	return entry, nil
}

// release drops one reference; the torrent goes away after the grace period
// unless a new reader shows up.
func (e *TorrentEngine) release(entry *torrentEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry.refs--
	if entry.refs > 0 || e.closed {
		return
	}
	if e.cfg.ReleaseGrace == 0 {
		e.dropLocked(entry)
		return
	}
	entry.release = time.AfterFunc(e.cfg.ReleaseGrace, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if entry.refs == 0 && e.torrents[entry.hash] == entry {
			e.dropLocked(entry)
		}
	})
}

func (e *TorrentEngine) dropLocked(entry *torrentEntry) {
	delete(e.torrents, entry.hash)
	metrics.ActiveTorrents.Set(float64(len(e.torrents)))
	entry.t.Drop()
	if err := entry.store.Close(); err != nil {
		log.Printf("[torrent] close storage %s: %v", entry.hash, err)
	}
	if err := e.fs.RemoveAll(entry.dir); err != nil {
		log.Printf("[torrent] remove %s: %v", entry.dir, err)
	}
	log.Printf("[torrent] dropped %s", entry.hash)
}

// Active reports how many torrents are currently held.
func (e *TorrentEngine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.torrents)
}

// Close drops every torrent and stops the client.
func (e *TorrentEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, entry := range e.torrents {
		if entry.release != nil {
			entry.release.Stop()
		}
		e.dropLocked(entry)
	}
	e.mu.Unlock()

	if errs := e.client.Close(); len(errs) > 0 {
		return fmt.Errorf("close torrent client: %v", errs)
	}
	return nil
}

type torrentSource struct {
	engine *TorrentEngine
	entry  *torrentEntry
	file   *torrent.File
	reader torrent.Reader
	once   sync.Once
}

func (s *torrentSource) Name() string { return filepath.Base(s.file.DisplayPath()) }

func (s *torrentSource) Size() int64 { return s.file.Length() }

func (s *torrentSource) ReadContext(ctx context.Context, p []byte) (int, error) {
	return s.reader.ReadContext(ctx, p)
}

func (s *torrentSource) Seek(offset int64, whence int) (int64, error) {
	return s.reader.Seek(offset, whence)
}

func (s *torrentSource) Close() error {
	var err error
	s.once.Do(func() {
		err = s.reader.Close()
		s.engine.release(s.entry)
	})
	return err
}
