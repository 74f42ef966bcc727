// Package capture drives one headless browser page through a full
// render-and-harvest pass: navigate, let content settle, and collect every
// network resource the page loaded along the way.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/pagevault/pagevault/internal/fetch"
)

// minEmergencyBytes is the smallest early snapshot worth saving when the
// session dies mid-capture.
const minEmergencyBytes = 200

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// Options bound every phase of a capture session. Timeouts here are flow
// control, not failure conditions: all of them except browser launch
// degrade to "continue with what we have".
type Options struct {
	NavigateTimeout    time.Duration
	DOMReadyTimeout    time.Duration
	NetworkIdleTimeout time.Duration
	SettleDelay        time.Duration
	EarlySnapshot      time.Duration
	BodyReadTimeout    time.Duration
	ResourceMaxBytes   int
}

// DefaultOptions returns the timeout budget used when a caller passes a
// zero value for one of the knobs.
func DefaultOptions() Options {
	return Options{
		NavigateTimeout:    15 * time.Second,
		DOMReadyTimeout:    10 * time.Second,
		NetworkIdleTimeout: 8 * time.Second,
		SettleDelay:        3 * time.Second,
		EarlySnapshot:      2 * time.Second,
		BodyReadTimeout:    10 * time.Second,
		ResourceMaxBytes:   25 * 1024 * 1024,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.NavigateTimeout <= 0 {
		o.NavigateTimeout = d.NavigateTimeout
	}
	if o.DOMReadyTimeout <= 0 {
		o.DOMReadyTimeout = d.DOMReadyTimeout
	}
	if o.NetworkIdleTimeout <= 0 {
		o.NetworkIdleTimeout = d.NetworkIdleTimeout
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = d.SettleDelay
	}
	if o.EarlySnapshot <= 0 {
		o.EarlySnapshot = d.EarlySnapshot
	}
	if o.BodyReadTimeout <= 0 {
		o.BodyReadTimeout = d.BodyReadTimeout
	}
	if o.ResourceMaxBytes <= 0 {
		o.ResourceMaxBytes = d.ResourceMaxBytes
	}
	return o
}

type pendingResponse struct {
	url         string
	status      int
	contentType string
}

// Session owns one isolated browser page for the duration of a single
// capture. Close must run on every exit path; it releases the browser
// process.
type Session struct {
	opts Options

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	harvest  *harvester
	inflight atomic.Int64

	pendingMu sync.Mutex
	pending   map[string]pendingResponse
}

// NewSession launches an isolated headless browser page with a fixed
// viewport and browser-like identity. Launch failure is the one terminal
// error of the capture pipeline.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(fetch.UserAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	s := &Session{
		opts:          opts,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		pending:       make(map[string]pendingResponse),
	}
	s.harvest = newHarvester(s.readBody, opts.ResourceMaxBytes)

	chromedp.ListenTarget(browserCtx, s.onEvent)

	launchCtx, cancel := context.WithTimeout(browserCtx, opts.NavigateTimeout)
	defer cancel()
	if err := chromedp.Run(launchCtx, network.Enable(), network.SetCacheDisabled(true)); err != nil {
		s.Close()
		return nil, newError(CodeBrowserLaunch, "browser launch failed", err)
	}

	return s, nil
}

// Close releases the browser and stops the harvest collector. Safe to call
// more than once.
func (s *Session) Close() {
	s.browserCancel()
	s.allocCancel()
	s.harvest.stop()
}

// onEvent is the single producer feeding the harvest channel. It must never
// block: body reads happen on the consumer side.
func (s *Session) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		s.inflight.Add(1)
	case *network.EventResponseReceived:
		contentType := e.Response.MimeType
		if ct, ok := e.Response.Headers["Content-Type"].(string); ok && ct != "" {
			contentType = ct
		}
		s.pendingMu.Lock()
		s.pending[string(e.RequestID)] = pendingResponse{
			url:         e.Response.URL,
			status:      int(e.Response.Status),
			contentType: contentType,
		}
		s.pendingMu.Unlock()
	case *network.EventLoadingFinished:
		s.inflight.Add(-1)
		s.pendingMu.Lock()
		p, ok := s.pending[string(e.RequestID)]
		delete(s.pending, string(e.RequestID))
		s.pendingMu.Unlock()
		if ok {
			s.harvest.observe(responseEvent{
				requestID:   string(e.RequestID),
				url:         p.url,
				status:      p.status,
				contentType: p.contentType,
			})
		}
	case *network.EventLoadingFailed:
		s.inflight.Add(-1)
		s.pendingMu.Lock()
		delete(s.pending, string(e.RequestID))
		s.pendingMu.Unlock()
	}
}

// readBody pulls a finished response body over CDP with a bounded wait.
func (s *Session) readBody(requestID string) ([]byte, error) {
	bodyCtx, cancel := context.WithTimeout(s.browserCtx, s.opts.BodyReadTimeout)
	defer cancel()

	var body []byte
	err := chromedp.Run(bodyCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(network.RequestID(requestID)).Do(ctx)
		return err
	}))
	return body, err
}

// Capture navigates to targetURL and runs the full pipeline: commit-only
// navigation racing an early snapshot timer, progressive settling where
// every timeout is individually tolerated, then final HTML extraction.
// A mid-session failure degrades to an emergency save when the early
// snapshot holds non-trivial content.
func (s *Session) Capture(targetURL string) (*Result, error) {
	result := &Result{FinalURL: targetURL}

	var earlyMu sync.Mutex
	var earlyHTML string

	// Early backup snapshot: slow or hanging pages must not leave us with
	// nothing, so grab whatever exists shortly after navigation starts.
	earlyDone := make(chan struct{})
	go func() {
		defer close(earlyDone)
		select {
		case <-time.After(s.opts.EarlySnapshot):
		case <-s.browserCtx.Done():
			return
		}
		snapCtx, cancel := context.WithTimeout(s.browserCtx, 3*time.Second)
		defer cancel()
		var html string
		if err := chromedp.Run(snapCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
			slog.Debug("early snapshot failed", "url", targetURL, "error", err)
			return
		}
		earlyMu.Lock()
		earlyHTML = html
		earlyMu.Unlock()
	}()

	// Navigating: wait only for the navigation to commit, not for load.
	navCtx, cancel := context.WithTimeout(s.browserCtx, s.opts.NavigateTimeout)
	err := chromedp.Run(navCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, _, err := page.Navigate(targetURL).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("navigation error: %s", errorText)
		}
		return nil
	}))
	cancel()
	if err != nil {
		slog.Warn("navigation did not commit, continuing with early content", "url", targetURL, "error", err)
		result.Partial = true
	}

	// ContentSettling: DOM-ready, network-idle, settle delay. Each timeout
	// fails independently and the capture proceeds regardless.
	domCtx, cancel := context.WithTimeout(s.browserCtx, s.opts.DOMReadyTimeout)
	if err := chromedp.Run(domCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		slog.Debug("DOM ready timeout", "url", targetURL, "error", err)
		result.Partial = true
	}
	cancel()

	if !s.waitNetworkIdle() {
		slog.Debug("network idle timeout", "url", targetURL)
		result.Partial = true
	}

	select {
	case <-time.After(s.opts.SettleDelay):
	case <-s.browserCtx.Done():
	}

	<-earlyDone

	// Done: extract final state and pick the richer snapshot.
	finalCtx, cancel := context.WithTimeout(s.browserCtx, 10*time.Second)
	var finalHTML, title, location string
	err = chromedp.Run(finalCtx,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &finalHTML, chromedp.ByQuery),
		chromedp.Title(&title),
	)
	cancel()

	earlyMu.Lock()
	backup := earlyHTML
	earlyMu.Unlock()

	if err != nil {
		// EmergencySave: report partial success when anything renderable
		// survived, fail only with empty hands.
		if len(backup) >= minEmergencyBytes {
			slog.Warn("capture failed mid-session, saving early content", "url", targetURL, "error", err)
			result.HTML = backup
			result.Title = titleFrom(backup)
			result.Emergency = true
			result.Resources = s.harvest.stop()
			return result, nil
		}
		s.harvest.stop()
		return nil, newError(CodeCaptureFailed, "capture failed with no salvageable content", err)
	}

	if len(backup) > len(finalHTML) {
		finalHTML = backup
	}
	if location != "" {
		result.FinalURL = location
	}
	result.HTML = finalHTML
	result.Title = title
	if result.Title == "" {
		result.Title = titleFrom(finalHTML)
	}
	result.Resources = s.harvest.stop()
	return result, nil
}

// waitNetworkIdle waits for the in-flight request counter to stay at zero
// for half a second, bounded by the network-idle timeout.
func (s *Session) waitNetworkIdle() bool {
	deadline := time.After(s.opts.NetworkIdleTimeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	idleSince := time.Time{}
	for {
		select {
		case <-deadline:
			return false
		case <-s.browserCtx.Done():
			return false
		case now := <-ticker.C:
			if s.inflight.Load() > 0 {
				idleSince = time.Time{}
				continue
			}
			if idleSince.IsZero() {
				idleSince = now
				continue
			}
			if now.Sub(idleSince) >= 500*time.Millisecond {
				return true
			}
		}
	}
}

// FetchInPage fetches a URL from inside the captured page so cookies and
// session state ride along. Text content only; callers fall back to a plain
// download for anything else.
func (s *Session) FetchInPage(rawURL string) (string, error) {
	fetchCtx, cancel := context.WithTimeout(s.browserCtx, s.opts.BodyReadTimeout)
	defer cancel()

	script := fmt.Sprintf(`fetch(%q, {credentials: 'include'}).then(r => r.ok ? r.text() : '')`, rawURL)
	var text string
	err := chromedp.Run(fetchCtx, chromedp.Evaluate(script, &text, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return "", fmt.Errorf("in-page fetch %s: %w", rawURL, err)
	}
	return text, nil
}

func titleFrom(html string) string {
	if m := titleRe.FindStringSubmatch(html); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
