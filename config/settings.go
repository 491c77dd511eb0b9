package config

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings is the process configuration, read from the environment once at
// startup.
type Settings struct {
	Server    ServerSettings
	Metadata  MetadataSettings
	Indexer   IndexerSettings
	Upstream  UpstreamSettings
	Cache     CacheSettings
	Streaming StreamingSettings
	Limits    LimitSettings
	Log       LogConfig
}

type ServerSettings struct {
	Host string `env:"HOST"`
	Port int    `env:"PORT" envDefault:"8080"`
	// RouteTimeout bounds JSON routes; never larger than Upstream.Timeout.
	RouteTimeout time.Duration `env:"ROUTE_TIMEOUT" envDefault:"8s"`
	// ShutdownTimeout bounds the graceful drain on SIGINT/SIGTERM.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CORSOrigins     []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

type MetadataSettings struct {
	OMDbAPIKey      string        `env:"OMDB_API_KEY,required,notEmpty"`
	OMDbBaseURL     string        `env:"OMDB_BASE_URL" envDefault:"https://www.omdbapi.com"`
	OMDbMinInterval time.Duration `env:"OMDB_MIN_INTERVAL" envDefault:"20ms"`
}

type IndexerSettings struct {
	TorrentioBaseURL string `env:"TORRENTIO_BASE_URL" envDefault:"https://torrentio.strem.fun"`
	// TorrentioOptions is the addon configuration path segment, e.g. "sort=qualitysize".
	TorrentioOptions     string        `env:"TORRENTIO_OPTIONS"`
	TorrentioMinInterval time.Duration `env:"TORRENTIO_MIN_INTERVAL" envDefault:"100ms"`
}

// UpstreamSettings shapes the pooled outbound HTTP clients.
type UpstreamSettings struct {
	ConnectTimeout  time.Duration `env:"UPSTREAM_CONNECT_TIMEOUT" envDefault:"3s"`
	Timeout         time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"8s"`
	MaxConnsPerHost int           `env:"UPSTREAM_MAX_CONNS_PER_HOST" envDefault:"8"`
	// Proxy is an optional socks5:// or http:// URL for outbound traffic.
	Proxy        string        `env:"UPSTREAM_PROXY"`
	Retries      uint          `env:"RETRY_ATTEMPTS" envDefault:"1"`
	RetryBackoff time.Duration `env:"RETRY_BACKOFF" envDefault:"250ms"`
}

type CacheSettings struct {
	TTL        time.Duration `env:"CACHE_TTL" envDefault:"60s"`
	MaxEntries int           `env:"CACHE_MAX_ENTRIES" envDefault:"10000"`
	// SweepInterval enables the background janitor; 0 keeps expiry lazy.
	SweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL" envDefault:"0s"`
}

type StreamingSettings struct {
	// DataDir holds torrent scratch data; empty means a fresh temp dir.
	DataDir          string        `env:"STREAM_DATA_DIR"`
	DiscoveryTimeout time.Duration `env:"STREAM_DISCOVERY_TIMEOUT" envDefault:"90s"`
	StallTimeout     time.Duration `env:"STREAM_STALL_TIMEOUT" envDefault:"60s"`
	ReleaseGrace     time.Duration `env:"STREAM_RELEASE_GRACE" envDefault:"10s"`
	ReadaheadMB      int           `env:"STREAM_READAHEAD_MB" envDefault:"16"`
	ListenPort       int           `env:"STREAM_LISTEN_PORT" envDefault:"0"`
	DisableIPv6      bool          `env:"TORRENT_DISABLE_IPV6" envDefault:"false"`
	NoDHT            bool          `env:"TORRENT_NO_DHT" envDefault:"false"`
}

// LimitSettings configures the optional per-client inbound rate limit.
type LimitSettings struct {
	RPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"0"`
	Burst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`
}

// LogConfig configures the optional rotating log file and the slog level.
type LogConfig struct {
	File       string `env:"LOG_FILE"`
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	MaxSize    int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"3"`
	MaxAge     int    `env:"LOG_MAX_AGE_DAYS" envDefault:"7"`
	Compress   bool   `env:"LOG_COMPRESS" envDefault:"true"`
}

// ConfigurationError is a fatal startup problem with the settings.
type ConfigurationError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Msg
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Load reads settings from the process environment.
func Load() (Settings, error) {
	return LoadFrom(nil)
}

// LoadFrom reads settings from environ, or from the process environment when
// environ is nil.
func LoadFrom(environ map[string]string) (Settings, error) {
	var s Settings
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&s, opts); err != nil {
		return Settings{}, &ConfigurationError{Msg: err.Error(), Err: err}
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks ranges and normalizes dependent values. The route timeout is
// clamped to the upstream timeout so a route never gives up before the
// component it waits on.
func (s *Settings) Validate() error {
	positive := []struct {
		field string
		value time.Duration
	}{
		{"ROUTE_TIMEOUT", s.Server.RouteTimeout},
		{"SHUTDOWN_TIMEOUT", s.Server.ShutdownTimeout},
		{"CACHE_TTL", s.Cache.TTL},
		{"UPSTREAM_CONNECT_TIMEOUT", s.Upstream.ConnectTimeout},
		{"UPSTREAM_TIMEOUT", s.Upstream.Timeout},
		{"STREAM_DISCOVERY_TIMEOUT", s.Streaming.DiscoveryTimeout},
		{"STREAM_STALL_TIMEOUT", s.Streaming.StallTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &ConfigurationError{Field: p.field, Msg: "must be a positive duration"}
		}
	}

	nonNegative := []struct {
		field string
		value time.Duration
	}{
		{"CACHE_SWEEP_INTERVAL", s.Cache.SweepInterval},
		{"RETRY_BACKOFF", s.Upstream.RetryBackoff},
		{"STREAM_RELEASE_GRACE", s.Streaming.ReleaseGrace},
		{"OMDB_MIN_INTERVAL", s.Metadata.OMDbMinInterval},
		{"TORRENTIO_MIN_INTERVAL", s.Indexer.TorrentioMinInterval},
	}
	for _, n := range nonNegative {
		if n.value < 0 {
			return &ConfigurationError{Field: n.field, Msg: "must not be negative"}
		}
	}

	if s.Server.Port < 1 || s.Server.Port > 65535 {
		return &ConfigurationError{Field: "PORT", Msg: fmt.Sprintf("%d is not a valid port", s.Server.Port)}
	}
	if s.Cache.MaxEntries < 1 {
		return &ConfigurationError{Field: "CACHE_MAX_ENTRIES", Msg: "must be at least 1"}
	}
	if s.Upstream.MaxConnsPerHost < 1 {
		return &ConfigurationError{Field: "UPSTREAM_MAX_CONNS_PER_HOST", Msg: "must be at least 1"}
	}
	if s.Streaming.ReadaheadMB < 1 {
		return &ConfigurationError{Field: "STREAM_READAHEAD_MB", Msg: "must be at least 1"}
	}
	if s.Limits.RPS < 0 {
		return &ConfigurationError{Field: "RATE_LIMIT_RPS", Msg: "must not be negative"}
	}

	for field, raw := range map[string]string{
		"OMDB_BASE_URL":      s.Metadata.OMDbBaseURL,
		"TORRENTIO_BASE_URL": s.Indexer.TorrentioBaseURL,
	} {
		if err := checkURL(raw, "http", "https"); err != nil {
			return &ConfigurationError{Field: field, Msg: err.Error(), Err: err}
		}
	}
	if s.Upstream.Proxy != "" {
		if err := checkURL(s.Upstream.Proxy, "http", "https", "socks5", "socks5h"); err != nil {
			return &ConfigurationError{Field: "UPSTREAM_PROXY", Msg: err.Error(), Err: err}
		}
	}

	if _, err := s.Log.SlogLevel(); err != nil {
		return &ConfigurationError{Field: "LOG_LEVEL", Msg: err.Error(), Err: err}
	}

	if s.Server.RouteTimeout > s.Upstream.Timeout {
		log.Printf("[config] ROUTE_TIMEOUT %s exceeds UPSTREAM_TIMEOUT %s, clamping", s.Server.RouteTimeout, s.Upstream.Timeout)
		s.Server.RouteTimeout = s.Upstream.Timeout
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	for _, scheme := range schemes {
		if strings.EqualFold(u.Scheme, scheme) {
			return nil
		}
	}
	return fmt.Errorf("%q: unsupported scheme %q", raw, u.Scheme)
}

var errUnknownLevel = errors.New("level must be one of debug, info, warn, error")

// SlogLevel maps Level onto slog.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(c.Level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errUnknownLevel
	}
}

// Addr is the listen address for the HTTP server.
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
