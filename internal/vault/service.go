// Package vault orchestrates the capture pipeline: browser session,
// site-specific enhancement, reference rewriting, shim injection and the
// cache store, with the documented fallback chain when the browser is
// unavailable.
package vault

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/pagevault/pagevault/internal/capture"
	"github.com/pagevault/pagevault/internal/fetch"
	"github.com/pagevault/pagevault/internal/mediawiki"
	"github.com/pagevault/pagevault/internal/rewrite"
	"github.com/pagevault/pagevault/internal/shim"
	"github.com/pagevault/pagevault/internal/store"
)

// Capture methods reported to API consumers, ordered from full browser
// render down the fallback chain.
const (
	MethodFull      = "playwright"
	MethodPartial   = "playwright-partial"
	MethodEmergency = "playwright-emergency"
	MethodFallback  = "fallback"
)

// Outcome describes one finished (or cache-served) capture.
type Outcome struct {
	Path          string
	Cached        bool
	ResourceCount int
	Method        string
	Title         string
}

// pageSession is the slice of a capture session the service drives.
type pageSession interface {
	Capture(targetURL string) (*capture.Result, error)
	FetchInPage(rawURL string) (string, error)
	Close()
}

// Service runs captures and serves cache hits.
type Service struct {
	store    *store.Store
	fetcher  *fetch.Fetcher
	enhancer *mediawiki.Enhancer
	opts     capture.Options

	// collapses concurrent captures of the same URL onto one session
	group singleflight.Group

	newSession func(ctx context.Context, opts capture.Options) (pageSession, error)
}

func NewService(st *store.Store, fetcher *fetch.Fetcher, enhancer *mediawiki.Enhancer, opts capture.Options) *Service {
	return &Service{
		store:    st,
		fetcher:  fetcher,
		enhancer: enhancer,
		opts:     opts,
		newSession: func(ctx context.Context, opts capture.Options) (pageSession, error) {
			return capture.NewSession(ctx, opts)
		},
	}
}

// CaptureURL captures rawURL, or serves the existing capture when one is
// published and no refresh was forced. Concurrent requests for the same URL
// share a single capture.
func (s *Service) CaptureURL(ctx context.Context, rawURL string, forceRefresh bool) (*Outcome, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	dirID := store.KeyFor(rawURL)
	if !forceRefresh && s.store.Exists(dirID) {
		html, err := s.store.IndexHTML(dirID)
		if err != nil {
			return nil, err
		}
		slog.Info("capture served from cache", "url", rawURL, "path", dirID)
		return &Outcome{
			Path:          dirID,
			Cached:        true,
			ResourceCount: s.store.ResourceCount(dirID),
			Method:        MethodFull,
			Title:         titleFromHTML(html),
		}, nil
	}

	v, err, shared := s.group.Do(dirID, func() (interface{}, error) {
		return s.performCapture(ctx, rawURL)
	})
	if err != nil {
		return nil, err
	}
	outcome := v.(*Outcome)
	if shared {
		slog.Debug("capture request joined in-flight session", "url", rawURL, "path", dirID)
	}
	return outcome, nil
}

func (s *Service) performCapture(ctx context.Context, rawURL string) (*Outcome, error) {
	sess, err := s.newSession(ctx, s.opts)
	if err != nil {
		slog.Error("browser launch failed, trying plain fetch", "url", rawURL, "error", err)
		outcome, fbErr := s.fallbackCapture(ctx, rawURL)
		if fbErr != nil {
			slog.Error("fallback capture failed", "url", rawURL, "error", fbErr)
			return nil, err
		}
		return outcome, nil
	}
	defer sess.Close()

	result, err := sess.Capture(rawURL)
	if err != nil {
		slog.Error("browser capture failed, trying plain fetch", "url", rawURL, "error", err)
		outcome, fbErr := s.fallbackCapture(ctx, rawURL)
		if fbErr != nil {
			slog.Error("fallback capture failed", "url", rawURL, "error", fbErr)
			return nil, err
		}
		return outcome, nil
	}

	resources := result.Resources
	if mediawiki.Detect(result.HTML) {
		have := make(map[string]bool, len(resources))
		for _, r := range resources {
			have[r.URL] = true
		}
		extra := s.enhancer.Enhance(ctx, result.HTML, result.FinalURL, sess.FetchInPage, have)
		resources = append(resources, extra...)
	}

	method := MethodFull
	switch {
	case result.Emergency:
		method = MethodEmergency
	case result.Partial:
		method = MethodPartial
	}

	outcome, err := s.persist(rawURL, result.FinalURL, result.HTML, result.Title, resources, method)
	if err != nil {
		return nil, err
	}
	slog.Info("capture complete",
		"url", rawURL,
		"path", outcome.Path,
		"resources", outcome.ResourceCount,
		"method", outcome.Method,
	)
	return outcome, nil
}

// persist rewrites every captured text body against the full url map, adds
// the replay shim, and publishes the capture atomically.
func (s *Service) persist(rawURL, finalURL, html, title string, resources []capture.Resource, method string) (*Outcome, error) {
	staged, err := s.store.Stage(rawURL)
	if err != nil {
		return nil, err
	}

	urlMap := make(map[string]string, len(resources))
	planned := make([]string, len(resources))
	for i, res := range resources {
		localPath := staged.Plan(res.URL, res.ContentType)
		urlMap[res.URL] = localPath
		planned[i] = localPath
	}

	base := finalURL
	if base == "" {
		base = rawURL
	}

	for i, res := range resources {
		content := res.Content
		if isRewritableType(res.ContentType) {
			content = []byte(rewrite.Rewrite(string(content), urlMap, res.URL))
		}
		if err := staged.WriteResource(planned[i], content); err != nil {
			staged.Discard()
			return nil, err
		}
	}

	rewritten := rewrite.Rewrite(html, urlMap, base)
	rewritten = shim.Inject(rewritten)
	if err := staged.WriteIndex([]byte(rewritten)); err != nil {
		staged.Discard()
		return nil, err
	}

	if err := staged.Publish(); err != nil {
		return nil, err
	}

	return &Outcome{
		Path:          staged.DirID(),
		Cached:        false,
		ResourceCount: len(resources),
		Method:        method,
		Title:         title,
	}, nil
}

// isRewritableType reports whether a stored resource's own references
// should be rewritten too (stylesheets, scripts, svg and friends).
func isRewritableType(contentType string) bool {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(ct)
	switch {
	case strings.HasPrefix(ct, "text/"):
		return true
	case strings.Contains(ct, "javascript"), strings.Contains(ct, "json"),
		strings.Contains(ct, "css"), strings.Contains(ct, "svg"),
		strings.Contains(ct, "xml"):
		return true
	}
	return false
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return &capture.CodedError{Code: capture.CodeValidation, Message: "url is required"}
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &capture.CodedError{Code: capture.CodeValidation, Message: "url is not parseable", Cause: err}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &capture.CodedError{Code: capture.CodeValidation, Message: "url must use http or https"}
	}
	if parsed.Host == "" {
		return &capture.CodedError{Code: capture.CodeValidation, Message: "url is missing a host"}
	}
	return nil
}
