package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bull/docsearch-mcp/internal/storage"
)

type contextKey struct{}

// WithKey returns a context carrying the authenticated key.
func WithKey(ctx context.Context, key *storage.APIKey) context.Context {
	return context.WithValue(ctx, contextKey{}, key)
}

// KeyFromContext returns the key attached by Middleware.
func KeyFromContext(ctx context.Context) (*storage.APIKey, bool) {
	key, ok := ctx.Value(contextKey{}).(*storage.APIKey)
	return key, ok
}

// ExtractKey reads "Authorization: Bearer <key>", falling back to X-API-Key.
func ExtractKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// Middleware rejects requests without a valid key. All credential failures
// get the same 401 response.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := g.Authenticate(r.Context(), ExtractKey(r))
		var limited *RateLimitError
		switch {
		case err == nil:
			next.ServeHTTP(w, r.WithContext(WithKey(r.Context(), key)))
		case errors.As(err, &limited):
			w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds()))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		case errors.Is(err, ErrUnauthenticated):
			w.Header().Set("WWW-Authenticate", `Bearer realm="docsearch"`)
			writeError(w, http.StatusUnauthorized, "unauthenticated")
		default:
			g.logger.Error("Authentication unavailable", "error", err)
			writeError(w, http.StatusServiceUnavailable, "authentication unavailable")
		}
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
