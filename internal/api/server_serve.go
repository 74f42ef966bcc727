package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pagevault/pagevault/internal/store"
)

// serveCapture replays one file of a published capture. No session check:
// access was gated when the capture was made.
func serveCapture(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dir := chi.URLParam(r, "dir")
		filePath := chi.URLParam(r, "*")
		if filePath == "" {
			filePath = "index.html"
		}
		writeCaptureFile(w, r, st, dir, filePath)
	}
}

// serveCaptureIndex handles the bare /serve/{dir} form.
func serveCaptureIndex(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeCaptureFile(w, r, st, chi.URLParam(r, "dir"), "index.html")
	}
}

func writeCaptureFile(w http.ResponseWriter, r *http.Request, st *store.Store, dir, filePath string) {
	data, contentType, err := st.Serve(dir, filePath)
	if err != nil {
		if errors.Is(err, store.ErrPathTraversal) {
			slog.Warn("replay path rejected", "dir", dir, "path", filePath, "remote", r.RemoteAddr)
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")

	isHTML := strings.HasPrefix(contentType, "text/html")
	if isHTML || strings.HasPrefix(contentType, "text/css") || strings.Contains(contentType, "javascript") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	if isHTML {
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'self'")
	}

	if _, err := w.Write(data); err != nil {
		slog.Debug("replay response write failed", "dir", dir, "path", filePath, "error", err)
	}
}
