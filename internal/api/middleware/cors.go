package middleware

import (
	"net/http"
	"strings"
)

// originSet is the parsed allow-list. wildcard short-circuits lookups.
type originSet struct {
	wildcard bool
	exact    map[string]bool
}

func newOriginSet(allowed []string) originSet {
	s := originSet{exact: make(map[string]bool, len(allowed))}
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			s.wildcard = true
		}
		if o != "" {
			s.exact[o] = true
		}
	}
	return s
}

func (s originSet) allows(origin string) bool {
	return s.wildcard || s.exact[origin]
}

// CORS sets cross-origin headers for origins in allowedOrigins. "*" in the
// list allows everything. An empty list disables CORS: no headers are sent
// and preflights get a bare 204.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	set := newOriginSet(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && set.allows(origin) {
				h := w.Header()
				if set.wildcard {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Vary", "Origin")
				}
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Max-Age", "300")
			}

			// Preflights end here whether or not the origin was allowed.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ParseCORSOrigins splits a comma-separated origin list, trimming whitespace
// and dropping empty entries. Empty input returns nil.
func ParseCORSOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var origins []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
