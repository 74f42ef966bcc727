// Package extract scans CSS and JavaScript text for embedded resource
// references. Matching is deliberately heuristic: the goal is high recall on
// the reference forms real pages use, not a parser-grade guarantee. Missed
// dynamic references and the odd false positive are acceptable.
package extract

import (
	"net/url"
	"regexp"
	"strings"
)

// resourceExt matches path suffixes that are worth capturing when they show
// up inside a bare string literal.
const resourceExt = `(?:js|mjs|css|png|jpe?g|gif|svg|webp|avif|ico|bmp|woff2?|ttf|otf|eot|mp4|webm|ogg|mp3|wav|json|map|xml)`

var cssPatterns = []*regexp.Regexp{
	// @import with or without url()
	regexp.MustCompile(`@import\s+(?:url\(\s*)?['"]?([^'")\s;]+)['"]?`),
	// CSS custom properties holding a url()
	regexp.MustCompile(`--[\w-]+\s*:\s*url\(\s*['"]?([^'")\s]+)['"]?\s*\)`),
	// shorthand and longhand properties that commonly carry url()
	regexp.MustCompile(`(?i)(?:background|background-image|mask|-webkit-mask|mask-image|filter|cursor|list-style|list-style-image|border-image|border-image-source|content|src)\s*:[^;{}]*?url\(\s*['"]?([^'")\s]+)['"]?\s*\)`),
	// any remaining url() reference
	regexp.MustCompile(`url\(\s*['"]?([^'")\s]+)['"]?\s*\)`),
}

var jsPatterns = []*regexp.Regexp{
	// static ES module imports
	regexp.MustCompile(`import\s+(?:[\w{},$*\s]+\s+from\s+)?['"]([^'"]+)['"]`),
	// dynamic import()
	regexp.MustCompile(`import\(\s*['"]([^'"]+)['"]\s*\)`),
	// fetch() calls
	regexp.MustCompile(`fetch\(\s*['"]([^'"]+)['"]`),
	// XMLHttpRequest open
	regexp.MustCompile(`\.open\(\s*['"](?:GET|POST|HEAD|PUT|DELETE|get|post)['"]\s*,\s*['"]([^'"]+)['"]`),
	// jQuery-style helpers, both direct-url and {url: ...} forms
	regexp.MustCompile(`\$\.(?:get|post|ajax|getJSON|getScript)\(\s*['"]([^'"]+)['"]`),
	regexp.MustCompile(`url\s*:\s*['"]([^'"]+)['"]`),
	// new URL("...")
	regexp.MustCompile(`new\s+URL\(\s*['"]([^'"]+)['"]`),
	// attribute-style key/value pairs pointing at files
	regexp.MustCompile(`(?:src|href|source|file|path|poster)\s*[:=]\s*['"]([^'"]+?\.` + resourceExt + `(?:\?[^'"]*)?)['"]`),
	// MediaWiki resource loader entry points
	regexp.MustCompile(`mw\.loader\.load\(\s*['"]([^'"]+)['"]`),
	regexp.MustCompile(`['"]([^'"]*load\.php[^'"]*)['"]`),
	regexp.MustCompile(`importScript\(\s*['"]([^'"]+)['"]`),
	// bare string literals with a recognized resource extension
	regexp.MustCompile(`['"]((?:https?:)?//[^'"\s]+?\.` + resourceExt + `(?:[?#][^'"]*)?)['"]`),
	regexp.MustCompile(`['"]((?:\.{0,2}/)?[\w@][\w@./-]*?\.` + resourceExt + `(?:\?[^'"]*)?)['"]`),
}

// FromCSS extracts resource references from stylesheet text, resolved
// against base. Results are absolute, deduplicated and in match order.
func FromCSS(text, base string) []string {
	return fromPatterns(cssPatterns, text, base)
}

// FromJS extracts resource references from script text, resolved against
// base. Results are absolute, deduplicated and in match order.
func FromJS(text, base string) []string {
	return fromPatterns(jsPatterns, text, base)
}

func fromPatterns(patterns []*regexp.Regexp, text, base string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, re := range patterns {
		for _, match := range re.FindAllStringSubmatch(text, -1) {
			if len(match) < 2 {
				continue
			}
			resolved, ok := ResolveCandidate(match[1], base)
			if !ok || seen[resolved] {
				continue
			}
			seen[resolved] = true
			out = append(out, resolved)
		}
	}
	return out
}

// ResolveCandidate turns one matched reference into an absolute URL. It
// rejects data: URIs, fragment-only references, non-fetchable schemes, and
// anything that fails to parse.
func ResolveCandidate(ref, base string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return "", false
	}
	lower := strings.ToLower(ref)
	for _, scheme := range []string{"data:", "javascript:", "mailto:", "tel:", "about:", "blob:"} {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}

	if strings.HasPrefix(ref, "//") {
		scheme := "https:"
		if b, err := url.Parse(base); err == nil && b.Scheme != "" {
			scheme = b.Scheme + ":"
		}
		ref = scheme + ref
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if parsed.IsAbs() {
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return "", false
		}
		return parsed.String(), true
	}

	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return "", false
	}
	return baseURL.ResolveReference(parsed).String(), true
}
