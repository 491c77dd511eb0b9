package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"

	"rossoflix/api"
	"rossoflix/config"
	"rossoflix/handlers"
	"rossoflix/internal/upstream"
	"rossoflix/models"
	"rossoflix/services/cache"
	"rossoflix/services/indexer"
	"rossoflix/services/metadata"
	"rossoflix/services/streaming"
	"rossoflix/utils"
)

func main() {
	portOverride := flag.Int("port", 0, "override PORT")
	flag.Parse()

	settings, err := config.Load()
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	closeLog := setupLogging(settings.Log)
	defer closeLog()

	if err := run(settings); err != nil {
		slog.Error("gateway stopped", "error", err)
		closeLog()
		os.Exit(1)
	}
}

// setupLogging mirrors log output to a rotating file when one is configured
// and sets the slog level.
func setupLogging(cfg config.LogConfig) func() {
	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if cfg.File == "" {
		return func() {}
	}
	logDir := filepath.Dir(cfg.File)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		return func() {}
	}
	fileWriter := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	multiWriter := io.MultiWriter(os.Stdout, fileWriter)
	log.SetOutput(multiWriter)
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	slog.SetDefault(slog.New(slog.NewTextHandler(multiWriter, &slog.HandlerOptions{Level: level})))
	log.Printf("Logging to file: %s", cfg.File)
	return func() { fileWriter.Close() }
}

func run(settings config.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clientOpts := upstream.ClientOptions{
		ConnectTimeout:  settings.Upstream.ConnectTimeout,
		Timeout:         settings.Upstream.Timeout,
		MaxConnsPerHost: settings.Upstream.MaxConnsPerHost,
		ProxyURL:        settings.Upstream.Proxy,
	}
	omdbHTTP, err := upstream.NewHTTPClient(clientOpts)
	if err != nil {
		return fmt.Errorf("omdb http client: %w", err)
	}
	torrentioHTTP, err := upstream.NewHTTPClient(clientOpts)
	if err != nil {
		return fmt.Errorf("torrentio http client: %w", err)
	}
	retry := upstream.RetryPolicy{Retries: settings.Upstream.Retries, Backoff: settings.Upstream.RetryBackoff}

	cacheOpts := func(name string) cache.Options {
		return cache.Options{
			Name:            name,
			TTL:             settings.Cache.TTL,
			MaxEntries:      settings.Cache.MaxEntries,
			PopulateTimeout: settings.Upstream.Timeout * time.Duration(retry.Retries+1),
		}
	}
	searches := cache.New[models.SearchPage](cacheOpts("search"))
	details := cache.New[models.MovieDetail](cacheOpts("detail"))
	streams := cache.New[[]models.TorrentStream](cacheOpts("torrentio"))

	omdb, err := metadata.NewOMDbClient(settings.Metadata.OMDbAPIKey, omdbHTTP,
		metadata.WithBaseURL(settings.Metadata.OMDbBaseURL),
		metadata.WithMinInterval(settings.Metadata.OMDbMinInterval),
	)
	if err != nil {
		return &config.ConfigurationError{Field: "OMDB_API_KEY", Msg: err.Error(), Err: err}
	}
	metadataService := metadata.NewService(omdb, searches, details, retry)

	torrentio := indexer.NewTorrentioClient(torrentioHTTP, settings.Indexer.TorrentioBaseURL, indexer.TorrentioOptions{
		PathOptions: settings.Indexer.TorrentioOptions,
		MinInterval: settings.Indexer.TorrentioMinInterval,
	})
	indexerService := indexer.NewService(torrentio, streams, retry)

	engine, err := streaming.NewTorrentEngine(streaming.EngineConfig{
		DataDir:          settings.Streaming.DataDir,
		ListenPort:       settings.Streaming.ListenPort,
		DiscoveryTimeout: settings.Streaming.DiscoveryTimeout,
		ReleaseGrace:     settings.Streaming.ReleaseGrace,
		Readahead:        int64(settings.Streaming.ReadaheadMB) << 20,
		DisableIPv6:      settings.Streaming.DisableIPv6,
		NoDHT:            settings.Streaming.NoDHT,
	})
	if err != nil {
		return fmt.Errorf("torrent engine: %w", err)
	}
	proxy := streaming.NewProxy(engine, streaming.ProxyOptions{StallTimeout: settings.Streaming.StallTimeout})

	apiOpts := api.Options{
		RouteTimeout: settings.Server.RouteTimeout,
		CORS:         utils.NewCORSPolicy(settings.Server.CORSOrigins),
	}
	if settings.Limits.RPS > 0 {
		apiOpts.RateLimiter = api.NewIPRateLimiter(rate.Limit(settings.Limits.RPS), settings.Limits.Burst)
	}

	router := utils.NewRouter()
	api.Register(router, api.Handlers{
		Metadata: handlers.NewMetadataHandler(metadataService),
		Indexer:  handlers.NewIndexerHandler(indexerService),
		Video:    handlers.NewVideoHandler(proxy),
	}, apiOpts)

	// background housekeeping lives until shutdown
	bgCtx, cancelBackground := context.WithCancel(context.Background())
	var background conc.WaitGroup
	if settings.Cache.SweepInterval > 0 {
		background.Go(func() { searches.RunJanitor(bgCtx, settings.Cache.SweepInterval) })
		background.Go(func() { details.RunJanitor(bgCtx, settings.Cache.SweepInterval) })
		background.Go(func() { streams.RunJanitor(bgCtx, settings.Cache.SweepInterval) })
	}
	if apiOpts.RateLimiter != nil {
		background.Go(func() { apiOpts.RateLimiter.Run(bgCtx) })
	}

	addr := settings.Server.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(router, apiOpts),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // No write timeout for streaming
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", addr, "cache_ttl", settings.Cache.TTL, "route_timeout", settings.Server.RouteTimeout)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		runErr = fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// streams still relaying are cut off here
		slog.Warn("server shutdown incomplete", "error", err)
		srv.Close()
	}

	cancelBackground()
	background.Wait()

	if err := engine.Close(); err != nil {
		slog.Warn("torrent engine close", "error", err)
	}

	for name, stats := range map[string]cache.Stats{
		"search":    searches.Stats(),
		"detail":    details.Stats(),
		"torrentio": streams.Stats(),
	} {
		slog.Info("cache stats", "cache", name, "entries", stats.Entries, "hits", stats.Hits, "misses", stats.Misses, "populations", stats.Populations, "failures", stats.Failures)
	}
	slog.Info("shutdown complete")
	return runErr
}
