// Package rewrite points captured page text at locally stored resources.
// It applies one pass per reference form; every pass resolves its match to
// an absolute URL, looks it up in the capture's url map, and substitutes the
// local path only on a hit. Unmapped references are left byte-identical.
package rewrite

import (
	"regexp"

	"github.com/pagevault/pagevault/internal/extract"
)

var (
	attrRe      = regexp.MustCompile(`(?i)\b(src|href|action|poster|data|content|background)(\s*=\s*)(["'])([^"']+)(["'])`)
	cssURLRe    = regexp.MustCompile(`url\(\s*['"]?([^'")\s]+)['"]?\s*\)`)
	importRe    = regexp.MustCompile(`(@import\s+)(['"])([^'"]+)(['"])`)
	esImportRe  = regexp.MustCompile(`(import\s+(?:[\w{},$*\s]+\s+from\s+)?)(['"])([^'"]+)(['"])`)
	dynImportRe = regexp.MustCompile(`(import\(\s*)(['"])([^'"]+)(['"])`)
	fetchRe     = regexp.MustCompile(`(fetch\(\s*)(['"])([^'"]+)(['"])`)
	xhrOpenRe   = regexp.MustCompile(`(\.open\(\s*['"](?:GET|POST|HEAD|PUT|DELETE|get|post)['"]\s*,\s*)(['"])([^'"]+)(['"])`)
	dataAttrRe  = regexp.MustCompile(`(data-[\w-]+)(\s*=\s*)(["'])([^"']+)(["'])`)
	// ordered last and intentionally narrow: only quoted strings that carry
	// a recognized resource extension
	quotedURLRe = regexp.MustCompile(`(['"])((?:(?:https?:)?//|/)[^'"\s]+?\.(?:js|mjs|css|png|jpe?g|gif|svg|webp|avif|ico|woff2?|ttf|otf|eot|mp4|webm|ogg|mp3|json|map)(?:[?#][^'"]*)?)(['"])`)
)

// Rewrite replaces every recognized reference whose absolute form is a key
// of urlMap with the mapped local path. References not in the map, and
// anything the pattern battery does not recognize, come through untouched.
func Rewrite(text string, urlMap map[string]string, base string) string {
	if len(urlMap) == 0 {
		return text
	}
	rw := rewriter{urlMap: urlMap, base: base}

	text = attrRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := attrRe.FindStringSubmatch(m)
		if local, ok := rw.lookup(sub[4]); ok {
			return sub[1] + sub[2] + sub[3] + local + sub[5]
		}
		return m
	})

	text = cssURLRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := cssURLRe.FindStringSubmatch(m)
		if local, ok := rw.lookup(sub[1]); ok {
			return `url("` + local + `")`
		}
		return m
	})

	for _, re := range []*regexp.Regexp{importRe, esImportRe, dynImportRe, fetchRe, xhrOpenRe} {
		re := re
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			sub := re.FindStringSubmatch(m)
			if local, ok := rw.lookup(sub[3]); ok {
				return sub[1] + sub[2] + local + sub[4]
			}
			return m
		})
	}

	text = dataAttrRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := dataAttrRe.FindStringSubmatch(m)
		if local, ok := rw.lookup(sub[4]); ok {
			return sub[1] + sub[2] + sub[3] + local + sub[5]
		}
		return m
	})

	text = quotedURLRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := quotedURLRe.FindStringSubmatch(m)
		if local, ok := rw.lookup(sub[2]); ok {
			return sub[1] + local + sub[3]
		}
		return m
	})

	return text
}

type rewriter struct {
	urlMap map[string]string
	base   string
}

// lookup resolves a raw reference and returns its local path. Local paths
// produced by earlier passes resolve to URLs that are never urlMap keys, so
// overlapping passes cannot corrupt already-rewritten text.
func (rw rewriter) lookup(ref string) (string, bool) {
	if local, ok := rw.urlMap[ref]; ok {
		return local, true
	}
	resolved, ok := extract.ResolveCandidate(ref, rw.base)
	if !ok {
		return "", false
	}
	local, ok := rw.urlMap[resolved]
	return local, ok
}
