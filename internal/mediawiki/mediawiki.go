// Package mediawiki augments captures of MediaWiki-backed sites. Their
// ResourceLoader assembles CSS and JS through load.php requests that
// passive network capture routinely misses (late module loads, cached
// entries), so a detected wiki gets a known catalog of auxiliary URLs
// fetched proactively.
package mediawiki

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/pagevault/pagevault/internal/capture"
	"github.com/pagevault/pagevault/internal/extract"
	"github.com/pagevault/pagevault/internal/fetch"
)

var (
	markerRes = []*regexp.Regexp{
		regexp.MustCompile(`RLCONF\s*=`),
		regexp.MustCompile(`\bmw\.config\b`),
		regexp.MustCompile(`"wgScriptPath"`),
		regexp.MustCompile(`\bmw\.loader\b`),
	}

	scriptPathRe   = regexp.MustCompile(`"wgScriptPath"\s*:\s*"([^"]*)"`)
	serverRe       = regexp.MustCompile(`"wgServer"\s*:\s*"([^"]*)"`)
	skinRe         = regexp.MustCompile(`"skin"\s*:\s*"([^"]+)"`)
	resourceBaseRe = regexp.MustCompile(`"wgResourceBasePath"\s*:\s*"([^"]*)"`)
	loadPHPRe      = regexp.MustCompile(`["']([^"']*load\.php[^"']*)["']`)
)

// FallbackCSS keeps a wiki page readable when no skin stylesheet could be
// fetched: basic typography and the classic content-frame look.
const FallbackCSS = `body{font-family:sans-serif;margin:0;background:#f6f6f6;color:#202122}
#content,.mw-body{background:#fff;border:1px solid #a7d7f9;padding:1em;margin:0.5em}
a{color:#0645ad;text-decoration:none}a:visited{color:#0b0080}
h1,h2{border-bottom:1px solid #a2a9b1;font-family:serif;font-weight:normal}
#mw-navigation,#footer,.mw-editsection{display:none}
img{max-width:100%;height:auto}
table.infobox{border:1px solid #a2a9b1;background:#f8f9fa;float:right;margin:0 0 1em 1em;max-width:22em;font-size:88%}`

// Detect reports whether captured HTML carries MediaWiki's global
// configuration markers.
func Detect(html string) bool {
	for _, re := range markerRes {
		if re.MatchString(html) {
			return true
		}
	}
	return false
}

// PageFetcher fetches a URL from inside the still-open capture page so the
// wiki sees the original cookies.
type PageFetcher func(rawURL string) (string, error)

// Enhancer resolves and downloads the auxiliary resource catalog.
type Enhancer struct {
	fetcher     *fetch.Fetcher
	concurrency int64
}

func NewEnhancer(fetcher *fetch.Fetcher, concurrency int) *Enhancer {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Enhancer{fetcher: fetcher, concurrency: int64(concurrency)}
}

// Enhance inspects detected wiki HTML, builds the auxiliary URL set and
// fetches everything not already captured. pageFetch may be nil, in which
// case all downloads go through the plain fetcher.
func (e *Enhancer) Enhance(ctx context.Context, html, baseURL string, pageFetch PageFetcher, have map[string]bool) []capture.Resource {
	urls := CatalogURLs(html, baseURL)

	var wanted []string
	for _, u := range urls {
		if !have[u] {
			wanted = append(wanted, u)
		}
	}
	if len(wanted) == 0 {
		return nil
	}
	slog.Info("mediawiki enhancement", "base_url", baseURL, "auxiliary_urls", len(wanted))

	sem := semaphore.NewWeighted(e.concurrency)
	var mu sync.Mutex
	var out []capture.Resource
	gotStyles := false

	var wg sync.WaitGroup
	for _, u := range wanted {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			defer sem.Release(1)

			res := e.download(ctx, u, baseURL, pageFetch)
			if len(res.Content) == 0 {
				return
			}
			mu.Lock()
			out = append(out, res)
			if strings.Contains(u, "only=styles") || strings.HasPrefix(res.ContentType, "text/css") {
				gotStyles = true
			}
			mu.Unlock()
		}(u)
	}
	wg.Wait()

	if !gotStyles {
		out = append(out, capture.Resource{
			URL:         fetch.Resolve("/pagevault-fallback.css", baseURL),
			Content:     []byte(FallbackCSS),
			ContentType: "text/css",
		})
	}
	return out
}

func (e *Enhancer) download(ctx context.Context, rawURL, baseURL string, pageFetch PageFetcher) capture.Resource {
	// The in-page fetch reads response text, which mangles binary payloads;
	// only stylesheets and scripts go through it.
	if contentType := guessType(rawURL); pageFetch != nil && contentType != "" {
		if text, err := pageFetch(rawURL); err == nil && text != "" {
			return capture.Resource{URL: rawURL, Content: []byte(text), ContentType: contentType}
		}
	}
	dl := e.fetcher.Download(ctx, rawURL, baseURL)
	return capture.Resource{URL: dl.URL, Content: dl.Content, ContentType: dl.ContentType}
}

// CatalogURLs builds the auxiliary URL set for a wiki page: the known
// ResourceLoader templates filled in with extracted config values, plus any
// load.php URLs present verbatim in the HTML.
func CatalogURLs(html, baseURL string) []string {
	scriptPath := firstMatch(scriptPathRe, html)
	server := firstMatch(serverRe, html)
	skin := firstMatch(skinRe, html)
	if skin == "" {
		skin = "vector"
	}

	root := server
	if root == "" {
		root = baseURL
	}
	loadBase := fetch.Resolve(scriptPath+"/load.php", root)

	seen := make(map[string]bool)
	var urls []string
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}

	if loadBase != "" {
		add(fmt.Sprintf("%s?lang=en&modules=skins.%s.styles%%7Cmediawiki.skinning.interface&only=styles&skin=%s", loadBase, skin, skin))
		add(fmt.Sprintf("%s?lang=en&modules=site.styles&only=styles&skin=%s", loadBase, skin))
		add(fmt.Sprintf("%s?lang=en&modules=startup&only=scripts&raw=1&skin=%s", loadBase, skin))
		add(fmt.Sprintf("%s?lang=en&modules=jquery%%2Cmediawiki.base&only=scripts&skin=%s", loadBase, skin))
	}
	if resourceBase := firstMatch(resourceBaseRe, html); resourceBase != "" {
		add(fetch.Resolve(resourceBase+"/resources/assets/poweredby_mediawiki_88x31.png", root))
	}

	for _, m := range loadPHPRe.FindAllStringSubmatch(html, -1) {
		if resolved, ok := extract.ResolveCandidate(m[1], baseURL); ok {
			add(resolved)
		}
	}

	return urls
}

func firstMatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

// guessType classifies a catalog URL as stylesheet or script text; anything
// else returns "" and must be downloaded as raw bytes.
func guessType(rawURL string) string {
	switch {
	case strings.Contains(rawURL, "only=styles"), strings.HasSuffix(rawURL, ".css"):
		return "text/css"
	case strings.Contains(rawURL, "only=scripts"), strings.HasSuffix(rawURL, ".js"):
		return "application/javascript"
	}
	return ""
}
