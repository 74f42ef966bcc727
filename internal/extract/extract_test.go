package extract

import (
	"testing"
)

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

func TestFromCSS(t *testing.T) {
	base := "https://example.com/styles/main.css"

	t.Run("url_references", func(t *testing.T) {
		css := `body { background: url('/img/bg.png'); }
.icon { cursor: url("cur.png"), auto; }
@font-face { src: url(../fonts/a.woff2); }`
		got := FromCSS(css, base)

		for _, want := range []string{
			"https://example.com/img/bg.png",
			"https://example.com/styles/cur.png",
			"https://example.com/fonts/a.woff2",
		} {
			if !contains(got, want) {
				t.Fatalf("FromCSS() = %v, missing %q", got, want)
			}
		}
	})

	t.Run("import_and_custom_properties", func(t *testing.T) {
		css := `@import url("reset.css");
@import 'theme.css';
:root { --hero: url(/img/hero.jpg); }`
		got := FromCSS(css, base)

		for _, want := range []string{
			"https://example.com/styles/reset.css",
			"https://example.com/styles/theme.css",
			"https://example.com/img/hero.jpg",
		} {
			if !contains(got, want) {
				t.Fatalf("FromCSS() = %v, missing %q", got, want)
			}
		}
	})

	t.Run("skips_data_uris", func(t *testing.T) {
		css := `.a { background: url(data:image/png;base64,iVBOR); }`
		if got := FromCSS(css, base); len(got) != 0 {
			t.Fatalf("FromCSS() = %v, want empty", got)
		}
	})

	t.Run("deduplicates", func(t *testing.T) {
		css := `.a { background: url(/img/x.png); } .b { background: url('/img/x.png'); }`
		if got := FromCSS(css, base); len(got) != 1 {
			t.Fatalf("FromCSS() = %v, want exactly one entry", got)
		}
	})
}

func TestFromJS(t *testing.T) {
	base := "https://example.com/app/main.js"

	t.Run("module_imports", func(t *testing.T) {
		js := `import { thing } from './lib/thing.js';
const mod = await import("/modules/lazy.js");`
		got := FromJS(js, base)

		for _, want := range []string{
			"https://example.com/app/lib/thing.js",
			"https://example.com/modules/lazy.js",
		} {
			if !contains(got, want) {
				t.Fatalf("FromJS() = %v, missing %q", got, want)
			}
		}
	})

	t.Run("network_calls", func(t *testing.T) {
		js := `fetch('/api/data.json');
xhr.open('GET', '/api/other.json');
$.getJSON("/api/third.json");
const u = new URL('/img/pic.png', location);`
		got := FromJS(js, base)

		for _, want := range []string{
			"https://example.com/api/data.json",
			"https://example.com/api/other.json",
			"https://example.com/api/third.json",
			"https://example.com/img/pic.png",
		} {
			if !contains(got, want) {
				t.Fatalf("FromJS() = %v, missing %q", got, want)
			}
		}
	})

	t.Run("mediawiki_loader", func(t *testing.T) {
		js := `mw.loader.load('/w/load.php?modules=site&only=scripts');
var x = "/w/load.php?lang=en&modules=startup";`
		got := FromJS(js, base)

		for _, want := range []string{
			"https://example.com/w/load.php?modules=site&only=scripts",
			"https://example.com/w/load.php?lang=en&modules=startup",
		} {
			if !contains(got, want) {
				t.Fatalf("FromJS() = %v, missing %q", got, want)
			}
		}
	})

	t.Run("bare_literals_need_known_extension", func(t *testing.T) {
		js := `var a = "/assets/logo.svg"; var b = "/some/plain/path"; var c = "notes.txt";`
		got := FromJS(js, base)

		if !contains(got, "https://example.com/assets/logo.svg") {
			t.Fatalf("FromJS() = %v, missing svg literal", got)
		}
		if contains(got, "https://example.com/some/plain/path") {
			t.Fatalf("FromJS() = %v, matched extensionless path", got)
		}
	})

	t.Run("skips_fragments_and_schemes", func(t *testing.T) {
		js := `fetch('#anchor'); fetch('javascript:void(0)'); fetch('data:text/plain,hi');`
		if got := FromJS(js, base); len(got) != 0 {
			t.Fatalf("FromJS() = %v, want empty", got)
		}
	})
}

func TestResolveCandidate(t *testing.T) {
	t.Run("protocol_relative_inherits_base_scheme", func(t *testing.T) {
		got, ok := ResolveCandidate("//cdn.example.net/lib.js", "http://example.com/")
		if !ok || got != "http://cdn.example.net/lib.js" {
			t.Fatalf("ResolveCandidate() = %q, %v", got, ok)
		}
	})

	t.Run("malformed_url_dropped", func(t *testing.T) {
		if _, ok := ResolveCandidate("http://%zz", "https://example.com/"); ok {
			t.Fatalf("ResolveCandidate() accepted malformed url")
		}
	})

	t.Run("relative_without_base_dropped", func(t *testing.T) {
		if _, ok := ResolveCandidate("img/a.png", ""); ok {
			t.Fatalf("ResolveCandidate() accepted relative url with no base")
		}
	})
}
