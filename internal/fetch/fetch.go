// Package fetch downloads individual page resources over plain HTTP.
package fetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// UserAgent mimics a desktop browser so origin servers return the same
// assets they would serve a real visitor.
const UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

var binaryPrefixes = []string{"image/", "video/", "audio/", "font/", "application/octet-stream", "application/font"}

// Result is the outcome of a single resource download. A failed download
// yields a zero-content text result; sub-resource failures never abort a
// capture.
type Result struct {
	URL         string
	Content     []byte
	ContentType string
	Binary      bool
}

// Fetcher downloads resources with a browser-like identity.
type Fetcher struct {
	client   *http.Client
	maxBytes int
}

func New(maxBytes int) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: maxBytes,
	}
}

// Download resolves rawURL against base (when relative), fetches it and
// classifies the payload as binary or text from the declared content type.
// Network failures are absorbed: the returned Result is empty and the
// capture continues without this resource.
func (f *Fetcher) Download(ctx context.Context, rawURL, base string) Result {
	resolved := Resolve(rawURL, base)
	empty := Result{URL: resolved, ContentType: "text/plain"}
	if resolved == "" {
		return empty
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		slog.Debug("resource request build failed", "url", rawURL, "error", err)
		return empty
	}
	req.Header.Set("User-Agent", UserAgent)
	if base != "" {
		req.Header.Set("Referer", base)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		slog.Debug("resource download failed", "url", resolved, "error", err)
		return empty
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Debug("resource download non-2xx", "url", resolved, "status", resp.StatusCode)
		return empty
	}

	var reader io.Reader = resp.Body
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, int64(f.maxBytes)+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		slog.Debug("resource body read failed", "url", resolved, "error", err)
		return empty
	}
	if f.maxBytes > 0 && len(body) > f.maxBytes {
		slog.Warn("resource exceeds size ceiling, dropped", "url", resolved, "max_bytes", f.maxBytes)
		return empty
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	return Result{
		URL:         resolved,
		Content:     body,
		ContentType: contentType,
		Binary:      IsBinaryType(contentType),
	}
}

// Head probes a URL for reachability with a bounded timeout.
func Head(ctx context.Context, rawURL string, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// IsBinaryType reports whether a content type should be stored as raw bytes.
func IsBinaryType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, prefix := range binaryPrefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

// Resolve makes rawURL absolute against base. Already-absolute URLs pass
// through; unparseable input yields "".
func Resolve(rawURL, base string) string {
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return rawURL
	}
	if base == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}
