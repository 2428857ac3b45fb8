package middleware

import (
	"net/http"
	"strings"
)

// OriginPolicy decides which browser origins may call the API.
// An entry of "*" admits any origin.
type OriginPolicy struct {
	allowAny bool
	allow    map[string]struct{}
}

func NewOriginPolicy(allowedOrigins []string) *OriginPolicy {
	p := &OriginPolicy{allow: map[string]struct{}{}}
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			p.allowAny = true
			continue
		}
		p.allow[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return p
}

// Allowed reports whether origin may call the API. The websocket upgrader
// shares this check.
func (p *OriginPolicy) Allowed(origin string) bool {
	if p == nil || origin == "" {
		return false
	}
	if p.allowAny {
		return true
	}
	_, ok := p.allow[strings.TrimRight(origin, "/")]
	return ok
}

// CORS echoes allowed origins with credentials enabled so the session cookie
// travels with cross-origin requests.
func CORS(policy *OriginPolicy) func(http.Handler) http.Handler {
	allowedHeaders := "Authorization, Content-Type, X-Request-Id"
	allowedMethods := "GET, POST, PUT, PATCH, DELETE, OPTIONS"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if policy.Allowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
				w.Header().Set("Access-Control-Max-Age", "600")
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions && origin != "" && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
