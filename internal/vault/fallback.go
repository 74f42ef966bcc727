package vault

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/sync/semaphore"

	"github.com/pagevault/pagevault/internal/capture"
	"github.com/pagevault/pagevault/internal/extract"
)

// fallbackConcurrency bounds sub-resource downloads on the browser-free
// path.
const fallbackConcurrency = 6

// fallbackCapture is the last rung of the capture chain: no browser, one
// plain GET of the page, structural extraction of sub-resource references,
// and bounded concurrent downloads. Scripted pages come out rougher than a
// rendered capture, but a rough snapshot beats none.
func (s *Service) fallbackCapture(ctx context.Context, rawURL string) (*Outcome, error) {
	page := s.fetcher.Download(ctx, rawURL, "")
	if len(page.Content) == 0 {
		return nil, &capture.CodedError{Code: capture.CodeCaptureFailed, Message: "plain fetch returned no content"}
	}

	pageHTML := string(page.Content)
	refs := collectPageRefs(pageHTML, page.URL)

	sem := semaphore.NewWeighted(fallbackConcurrency)
	var mu sync.Mutex
	var resources []capture.Resource
	var wg sync.WaitGroup

	for _, ref := range refs {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			defer sem.Release(1)

			dl := s.fetcher.Download(ctx, ref, page.URL)
			if len(dl.Content) == 0 {
				return
			}
			mu.Lock()
			resources = append(resources, capture.Resource{URL: dl.URL, Content: dl.Content, ContentType: dl.ContentType})
			mu.Unlock()
		}(ref)
	}
	wg.Wait()

	return s.persist(rawURL, page.URL, pageHTML, titleFromHTML(page.Content), resources, MethodFallback)
}

// subResourceAttrs names, per element, the attributes that point at
// same-page sub-resources worth capturing. Anchor href is deliberately
// absent: this is a single-page snapshot, not a crawl.
var subResourceAttrs = map[string][]string{
	"img":    {"src", "srcset", "poster"},
	"script": {"src"},
	"link":   {"href"},
	"source": {"src", "srcset"},
	"video":  {"src", "poster"},
	"audio":  {"src"},
	"embed":  {"src"},
	"object": {"data"},
	"iframe": {"src"},
	"input":  {"src"},
}

// collectPageRefs walks the parsed document for sub-resource attributes and
// runs the heuristic extractors over inline style and script text.
func collectPageRefs(pageHTML, base string) []string {
	seen := make(map[string]bool)
	var refs []string
	add := func(candidate string) {
		resolved, ok := extract.ResolveCandidate(candidate, base)
		if ok && !seen[resolved] {
			seen[resolved] = true
			refs = append(refs, resolved)
		}
	}
	addAll := func(urls []string) {
		for _, u := range urls {
			if !seen[u] {
				seen[u] = true
				refs = append(refs, u)
			}
		}
	}

	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		// unparseable markup still gets the pattern battery
		addAll(extract.FromCSS(pageHTML, base))
		return refs
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if attrs, ok := subResourceAttrs[n.Data]; ok {
				for _, attr := range n.Attr {
					for _, want := range attrs {
						if attr.Key != want || attr.Val == "" {
							continue
						}
						if attr.Key == "srcset" {
							for _, entry := range strings.Split(attr.Val, ",") {
								if fields := strings.Fields(strings.TrimSpace(entry)); len(fields) > 0 {
									add(fields[0])
								}
							}
						} else {
							add(attr.Val)
						}
					}
				}
			}
			if n.Data == "style" && n.FirstChild != nil {
				addAll(extract.FromCSS(n.FirstChild.Data, base))
			}
			if n.Data == "script" && n.FirstChild != nil {
				addAll(extract.FromJS(n.FirstChild.Data, base))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return refs
}

// titleFromHTML pulls the document title out of stored or fetched markup.
func titleFromHTML(content []byte) string {
	doc, err := html.Parse(strings.NewReader(string(content)))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}
