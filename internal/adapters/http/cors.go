package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"net/http"
	"strings"
)

// Methods and headers offered to allowed origins. Catalog frontends call
// the submit, populate and extent endpoints, so writes are included.
const (
	corsAllowMethods = "GET, POST, PUT, OPTIONS"
	corsAllowHeaders = "Accept, Content-Type, Authorization"
	corsMaxAge       = "86400"
)

// corsMiddleware answers preflight requests and sets CORS headers for
// allowed origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.isOriginAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			h.Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, pattern := range s.config.CORS.AllowedOrigins {
		if matchOrigin(origin, pattern) {
			return true
		}
	}
	return false
}

// matchOrigin matches an origin against an exact origin or a "*.domain"
// pattern. The wildcard requires at least one subdomain label.
func matchOrigin(origin, pattern string) bool {
	if origin == pattern {
		return true
	}
	if !strings.HasPrefix(pattern, "*.") {
		return false
	}
	suffix := pattern[1:]
	host := extractHost(origin)
	return strings.HasSuffix(host, suffix) && len(host) > len(suffix)
}

// extractHost returns the host of an origin without scheme, port or path.
func extractHost(origin string) string {
	host := origin
	if _, rest, ok := strings.Cut(host, "://"); ok {
		host = rest
	}
	if i := strings.IndexAny(host, ":/"); i != -1 {
		host = host[:i]
	}
	return host
}
