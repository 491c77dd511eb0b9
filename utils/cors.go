package utils

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// CORSPolicy decides which browser origins may call the gateway.
//
// An empty policy is permissive and answers every origin with "*". Otherwise
// entries are exact origins ("https://app.example"), "*" or the keyword
// "private", which admits localhost, .local names, single-label LAN hosts and
// private or link-local addresses.
type CORSPolicy struct {
	any     bool
	private bool
	origins map[string]struct{}
}

// NewCORSPolicy builds a policy from configured entries.
func NewCORSPolicy(entries []string) CORSPolicy {
	p := CORSPolicy{origins: make(map[string]struct{})}
	for _, raw := range entries {
		entry := strings.ToLower(strings.TrimRight(strings.TrimSpace(raw), "/"))
		switch entry {
		case "":
		case "*":
			p.any = true
		case "private":
			p.private = true
		default:
			p.origins[entry] = struct{}{}
		}
	}
	if !p.private && len(p.origins) == 0 {
		p.any = true
	}
	return p
}

// AllowOrigin returns the Access-Control-Allow-Origin value for origin, or
// false when the origin is not admitted.
func (p CORSPolicy) AllowOrigin(origin string) (string, bool) {
	if p.any {
		return "*", true
	}
	if origin == "" {
		return "", false
	}
	if _, ok := p.origins[strings.ToLower(strings.TrimRight(origin, "/"))]; ok {
		return origin, true
	}
	if p.private && IsPrivateOrigin(origin) {
		return origin, true
	}
	return "", false
}

// Middleware sets CORS headers and answers preflight requests.
func (p CORSPolicy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if value, ok := p.AllowOrigin(origin); ok {
			w.Header().Set("Access-Control-Allow-Origin", value)
			if value != "*" {
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Range, Content-Type, Accept, Origin, X-Requested-With, X-Request-ID")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges, Content-Type, Content-Disposition, X-Filename, X-Request-ID")
		}

		// Handle preflight requests
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// IsPrivateOrigin reports whether an Origin header value points at the local
// network rather than the public internet.
func IsPrivateOrigin(origin string) bool {
	if origin == "" {
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}

	hostname := parsed.Hostname()
	if hostname == "localhost" || strings.HasSuffix(hostname, ".local") {
		return true
	}

	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
	}

	// single-label names are LAN hosts
	return !strings.Contains(hostname, ".")
}
