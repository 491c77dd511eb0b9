package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"rossoflix/internal/metrics"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// RequestIDHeader carries the per-request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID returns the id assigned to the request, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestIDMiddleware keeps a caller supplied id when it looks sane and mints
// a uuid otherwise.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// traceMiddleware logs one line per request and records request metrics
// labelled by route template.
func traceMiddleware(router *mux.Router) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			route := routeLabel(router, r)
			metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status/100)+"xx").Inc()
			metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())

			log.Printf("[api] %s %s status=%d bytes=%d duration=%s id=%s",
				r.Method, r.URL.RequestURI(), status, ww.BytesWritten(), elapsed.Round(time.Microsecond), RequestID(r.Context()))
		})
	}
}

func routeLabel(router *mux.Router, r *http.Request) string {
	var match mux.RouteMatch
	if router == nil || !router.Match(r, &match) || match.Route == nil {
		return "unmatched"
	}
	tpl, err := match.Route.GetPathTemplate()
	if err != nil {
		return "unmatched"
	}
	return tpl
}

// routeTimeout bounds JSON routes so the router never waits on a component
// longer than d. The component sees the deadline through its context and the
// resulting error maps to 504.
func routeTimeout(d time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
