// Package metrics holds the prometheus collectors shared by the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rossoflix_cache_hits_total",
		Help: "Cache lookups answered from a valid entry.",
	}, []string{"cache"})
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rossoflix_cache_misses_total",
		Help: "Cache lookups that found no valid entry.",
	}, []string{"cache"})
	CachePopulations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rossoflix_cache_populations_total",
		Help: "Populate calls started, by outcome.",
	}, []string{"cache", "outcome"})

	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rossoflix_upstream_requests_total",
		Help: "Outbound provider requests by provider and result kind.",
	}, []string{"provider", "result"})
	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rossoflix_upstream_request_duration_seconds",
		Help:    "Outbound provider request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rossoflix_active_streams",
		Help: "Streaming sessions currently relaying bytes.",
	})
	StreamedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rossoflix_streamed_bytes_total",
		Help: "Media bytes written to clients.",
	})
	ActiveTorrents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rossoflix_active_torrents",
		Help: "Torrents currently held open by the streaming engine.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rossoflix_http_requests_total",
		Help: "Inbound requests by route and status class.",
	}, []string{"route", "status"})
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rossoflix_http_request_duration_seconds",
		Help:    "Inbound request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)
