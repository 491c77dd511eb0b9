package upstream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// ClientOptions controls the pooled outbound client shared by a provider.
type ClientOptions struct {
	ConnectTimeout  time.Duration
	Timeout         time.Duration
	MaxConnsPerHost int
	// ProxyURL routes outbound traffic through an http(s) or socks5 proxy.
	ProxyURL string
}

// NewHTTPClient returns a client with a bounded connection pool. Once
// MaxConnsPerHost connections are busy further requests wait for a free one
// until their context or Timeout expires. Compression is negotiated by the
// transport as long as callers leave Accept-Encoding unset.
func NewHTTPClient(opts ClientOptions) (*http.Client, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 3 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = 8
	}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          opts.MaxConnsPerHost * 4,
		MaxIdleConnsPerHost:   opts.MaxConnsPerHost,
		MaxConnsPerHost:       opts.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.Timeout,
		ExpectContinueTimeout: time.Second,
	}

	if raw := strings.TrimSpace(opts.ProxyURL); raw != "" {
		proxyURL, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		switch proxyURL.Scheme {
		case "http", "https":
			transport.Proxy = http.ProxyURL(proxyURL)
		case "socks5", "socks5h":
			socks, err := proxy.FromURL(proxyURL, dialer)
			if err != nil {
				return nil, fmt.Errorf("create proxy dialer: %w", err)
			}
			transport.Proxy = nil
			if cd, ok := socks.(proxy.ContextDialer); ok {
				transport.DialContext = cd.DialContext
			} else {
				transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return socks.Dial(network, addr)
				}
			}
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
		}
	}

	return &http.Client{Transport: transport, Timeout: opts.Timeout}, nil
}
