package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthConfig selects what the API key guards.
type AuthConfig struct {
	// APIKey is the shared secret. Empty disables authentication.
	APIKey string
	// PublicPaths skip the check entirely (health probes).
	PublicPaths []string
	// PublicReads lets GET and HEAD through without a key so dashboards can
	// watch books while feed switching and simulation stay guarded.
	PublicReads bool
}

// Auth returns middleware that requires the API key as a Bearer token, an
// X-API-Key header or an api_key query parameter. CORS preflights always pass.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	public := make(map[string]bool, len(cfg.PublicPaths))
	for _, p := range cfg.PublicPaths {
		public[p] = true
	}
	key := []byte(cfg.APIKey)

	return func(next http.Handler) http.Handler {
		if cfg.APIKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || public[r.URL.Path] ||
				(cfg.PublicReads && isRead(r.Method)) {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), key) != 1 {
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// extractToken looks for a token in the Authorization header (Bearer scheme),
// the X-API-Key header, or the api_key query parameter. Browser WebSocket
// clients cannot set headers.
func extractToken(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return strings.TrimSpace(r.URL.Query().Get("api_key"))
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", `Bearer realm="depthsim"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
