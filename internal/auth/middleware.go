// Package auth guards the HTTP endpoints of the SSE transport.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/sha1n/svn-river/internal/config"
)

// APIKeyHeader carries the API key. A bearer Authorization header is accepted too.
const APIKeyHeader = "X-API-Key"

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// NewMiddleware creates the authentication middleware of the settings.
// Requests to the public paths are never authenticated.
func NewMiddleware(settings config.AuthSettings, public ...string) (Middleware, error) {
	var guard Middleware
	switch settings.Type {
	case config.AuthTypeNone, "":
		return func(next http.Handler) http.Handler { return next }, nil
	case config.AuthTypeBasic:
		if settings.Basic.Username == "" || settings.Basic.Password == "" {
			return nil, fmt.Errorf("basic auth requires non-empty username and password")
		}
		guard = basicAuth(settings.Basic)
	case config.AuthTypeAPIKey:
		if len(settings.APIKeys) == 0 {
			return nil, fmt.Errorf("apikey auth requires at least one API key")
		}
		guard = apiKeyAuth(settings.APIKeys)
	default:
		return nil, fmt.Errorf("unknown auth type: %s", settings.Type)
	}
	return except(guard, public), nil
}

// except skips the guard for the given paths.
func except(guard Middleware, paths []string) Middleware {
	public := make(map[string]bool, len(paths))
	for _, p := range paths {
		public[p] = true
	}
	return func(next http.Handler) http.Handler {
		guarded := guard(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			guarded.ServeHTTP(w, r)
		})
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func basicAuth(settings config.BasicAuthSettings) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			// Both comparisons always run.
			userMatch := equal(user, settings.Username)
			passMatch := equal(pass, settings.Password)
			if !ok || !userMatch || !passMatch {
				w.Header().Set("WWW-Authenticate", `Basic realm="svn-river"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func apiKeyAuth(apiKeys []string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := requestKey(r)
			valid := false
			for _, k := range apiKeys {
				if key != "" && equal(key, k) {
					valid = true
				}
			}
			if !valid {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestKey returns the API key of a request, or "" when it carries none.
func requestKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
