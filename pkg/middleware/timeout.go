package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Timeout gives every request a deadline. Handlers see it through the
// request context and are expected to stop and answer when it passes.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Logging writes one access log line per request and turns a handler panic
// into a 500.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := wrap(w)
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic", "path", r.URL.Path, "panic", rec)
					if !sw.wroteHeader {
						http.Error(sw, `{"error":"internal error"}`, http.StatusInternalServerError)
					}
				}
				logger.Info("request",
					"request_id", GetRequestID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"query", r.URL.RawQuery,
					"status", sw.status,
					"duration", time.Since(start),
				)
			}()
			next.ServeHTTP(sw, r)
		})
	}
}
