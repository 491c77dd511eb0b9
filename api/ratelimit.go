package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"rossoflix/handlers"
)

const limiterIdleTTL = 10 * time.Minute

// ipLimiterEntry holds a rate limiter and last-seen timestamp for cleanup.
type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter manages per-IP rate limiters.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiterEntry
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

// NewIPRateLimiter creates a rate limiter that allows r events per second with
// the given burst size. Call Run to evict idle clients.
func NewIPRateLimiter(r rate.Limit, burst int) *IPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPRateLimiter{
		limiters: make(map[string]*ipLimiterEntry),
		rate:     r,
		burst:    burst,
		now:      time.Now,
	}
}

// getLimiter returns the rate limiter for the given IP, creating one if needed.
func (rl *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[ip] = &ipLimiterEntry{limiter: limiter, lastSeen: rl.now()}
		return limiter
	}
	entry.lastSeen = rl.now()
	return entry.limiter
}

// Run evicts clients idle for ten minutes until ctx ends.
func (rl *IPRateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

func (rl *IPRateLimiter) evictIdle() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	evicted := 0
	for ip, entry := range rl.limiters {
		if rl.now().Sub(entry.lastSeen) > limiterIdleTTL {
			delete(rl.limiters, ip)
			evicted++
		}
	}
	return evicted
}

// clientIP reads the peer address. RealIP runs earlier in the chain, so
// forwarded headers have already been folded into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects clients over their budget with 429. The liveness route
// is never limited.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		reservation := rl.getLimiter(clientIP(r)).Reserve()
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			seconds := int(delay / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			handlers.WriteErrorCode(w, http.StatusTooManyRequests, handlers.CodeTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
