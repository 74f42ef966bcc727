package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/pagevault/pagevault/internal/session"
)

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// protectedPrefixes lists routes that demand an authenticated session.
// Replay stays open: its content was access-gated at capture time.
var protectedPrefixes = []string{"/api/v1/captures", "/api/v1/validate"}

func sessionGuard(sessions session.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range protectedPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					if !sessions.Validate(r) {
						w.Header().Set("Content-Type", "application/problem+json")
						w.WriteHeader(http.StatusUnauthorized)
						_, _ = w.Write([]byte(`{"title":"Unauthorized","status":401,"detail":"a valid session is required"}`))
						return
					}
					break
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
