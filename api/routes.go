package api

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rossoflix/handlers"
	"rossoflix/utils"
)

// Handlers groups the endpoint handlers mounted by Register.
type Handlers struct {
	Metadata *handlers.MetadataHandler
	Indexer  *handlers.IndexerHandler
	Video    *handlers.VideoHandler
}

// Options configures the middleware chain.
type Options struct {
	// RouteTimeout bounds JSON routes. Streaming routes are unbounded.
	RouteTimeout time.Duration
	CORS         utils.CORSPolicy
	// RateLimiter is optional; nil disables inbound limiting.
	RateLimiter *IPRateLimiter
}

func notFound(w http.ResponseWriter, r *http.Request) {
	handlers.WriteErrorCode(w, http.StatusNotFound, handlers.CodeNotFound, "no route for "+r.Method+" "+r.URL.Path)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	handlers.WriteErrorCode(w, http.StatusMethodNotAllowed, handlers.CodeMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
}

// Register mounts API endpoints onto the provided router.
func Register(r *mux.Router, h Handlers, opts Options) {
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	// JSON routes: bounded by the route budget and gzip-compressed
	jsonRoutes := r.NewRoute().Subrouter()
	jsonRoutes.Use(routeTimeout(opts.RouteTimeout))
	jsonRoutes.Use(chimw.Compress(5, "application/json"))

	jsonRoutes.HandleFunc("/search", h.Metadata.Search).Methods(http.MethodGet)
	jsonRoutes.HandleFunc("/movie/{externalId}", h.Metadata.MovieDetails).Methods(http.MethodGet)
	jsonRoutes.HandleFunc("/torrentio/movie/{externalId}", h.Indexer.MovieStreams).Methods(http.MethodGet)
	jsonRoutes.HandleFunc("/torrentio/show/{externalId}/{season:[0-9]+}/{episode:[0-9]+}", h.Indexer.EpisodeStreams).Methods(http.MethodGet)

	// Streaming routes relay bytes for as long as the client keeps reading
	streamMethods := []string{http.MethodGet, http.MethodHead, http.MethodOptions}
	r.HandleFunc("/stream", h.Video.StreamVideo).Methods(streamMethods...)
	r.HandleFunc("/stream-torrent", h.Video.StreamVideo).Methods(streamMethods...)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// NewHandler wraps the router in the shared middleware chain:
// RealIP, Recoverer, request id, trace, CORS, then the optional rate limit.
func NewHandler(r *mux.Router, opts Options) http.Handler {
	var h http.Handler = r
	if opts.RateLimiter != nil {
		h = opts.RateLimiter.Middleware(h)
	}
	h = opts.CORS.Middleware(h)
	h = traceMiddleware(r)(h)
	h = requestIDMiddleware(h)
	h = chimw.Recoverer(h)
	h = chimw.RealIP(h)
	return h
}
