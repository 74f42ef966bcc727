package shim

import (
	"strings"
	"testing"
)

func TestInject(t *testing.T) {
	t.Run("after_head_open", func(t *testing.T) {
		in := `<html><head><title>x</title></head><body></body></html>`
		got := Inject(in)

		headEnd := strings.Index(got, "<head>") + len("<head>")
		script := strings.Index(got, "data-pagevault-shim")
		title := strings.Index(got, "<title>")
		if script < headEnd || script > title {
			t.Fatalf("guard not placed between <head> and first child:\n%s", got)
		}
	})

	t.Run("head_with_attributes", func(t *testing.T) {
		in := `<HEAD lang="en"><meta charset="utf-8"></HEAD>`
		got := Inject(in)
		if !strings.Contains(got, `<HEAD lang="en">`+"\n<script data-pagevault-shim") {
			t.Fatalf("guard not placed after attributed head tag:\n%s", got)
		}
	})

	t.Run("no_head_prepends", func(t *testing.T) {
		in := `<body>bare</body>`
		got := Inject(in)
		if !strings.HasPrefix(got, "<script data-pagevault-shim") {
			t.Fatalf("guard not prepended:\n%s", got)
		}
		if !strings.HasSuffix(got, in) {
			t.Fatalf("original markup lost:\n%s", got)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		once := Inject(`<html><head></head></html>`)
		twice := Inject(once)
		if twice != once {
			t.Fatalf("second Inject() changed the document")
		}
		if n := strings.Count(twice, "<script data-pagevault-shim"); n != 1 {
			t.Fatalf("guard injected %d times", n)
		}
	})

	t.Run("version_tagged", func(t *testing.T) {
		got := Inject(`<head></head>`)
		if !strings.Contains(got, `data-pagevault-shim="`+Version+`"`) {
			t.Fatalf("guard missing version tag:\n%s", got)
		}
	})
}

func TestGuardBlob(t *testing.T) {
	blob := Inject("")

	t.Run("complete_elements", func(t *testing.T) {
		if !strings.HasPrefix(blob, "<script") {
			t.Fatalf("blob does not start with a script element")
		}
		if !strings.Contains(blob, "</script>") || !strings.Contains(blob, "</style>") {
			t.Fatalf("blob is incomplete")
		}
	})

	t.Run("silenced_hosts_consulted", func(t *testing.T) {
		// the analytics host list must feed the blocking decision, not just
		// sit declared
		if !strings.Contains(blob, "function isSilenced") {
			t.Fatalf("blob has no silenced-host check")
		}
		if n := strings.Count(blob, "isSilenced("); n < 3 {
			t.Fatalf("isSilenced referenced %d times, want the XHR and fetch guards to consult it", n)
		}
		if !strings.Contains(blob, "SILENCED_HOSTS.length") {
			t.Fatalf("silenced-host list never iterated")
		}
	})
}
