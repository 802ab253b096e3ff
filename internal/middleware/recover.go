package middleware

import (
	"log/slog"
	"net/http"
)

// NewRecoverMiddleware converts a panic in a downstream handler into a synthesized
// 500 response instead of crashing the server or leaking a raw Go stack trace to
// the caller.
func NewRecoverMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", "panic", rec, "path", r.URL.Path)
					http.Error(w, `{"error":{"message":"internal error","type":"internal_error"}}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
