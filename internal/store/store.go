// Package store persists captures on disk and serves their files back.
// Each capture is one directory named by a deterministic key of the source
// URL, holding index.html plus uniquely named resource files. Captures are
// staged into a temp directory and published with an atomic rename, so a
// half-written capture is never visible and concurrent writers of the same
// URL cannot interleave inside a published directory.
package store

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	stdpath "path"
	"path/filepath"
	"regexp"
	"strings"
)

const indexFile = "index.html"

// ServeRoot is the URL prefix under which capture files are replayed.
const ServeRoot = "/serve/"

var (
	// ErrNotFound reports a missing capture or capture file.
	ErrNotFound = errors.New("capture not found")
	// ErrPathTraversal reports a serve path that tries to escape the cache root.
	ErrPathTraversal = errors.New("path escapes cache root")
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Store owns the on-disk cache root.
type Store struct {
	root string
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("capture store: mkdir %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("capture store: resolve root: %w", err)
	}
	return &Store{root: abs}, nil
}

// KeyFor derives a deterministic, filesystem-safe directory id from a URL.
// Hostname and path keep the id readable; the short digest of the full URL
// keeps distinct URLs with equal host+path (query strings) apart.
func KeyFor(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	digest := hex.EncodeToString(sum[:])[:8]

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "capture_" + digest
	}

	host := sanitizeSegment(parsed.Hostname(), 64)
	if host == "" {
		host = "capture"
	}
	p := strings.Trim(parsed.Path, "/")
	if p == "" {
		return host + "_" + digest
	}
	return host + "_" + sanitizeSegment(p, 80) + "_" + digest
}

func sanitizeSegment(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// Exists reports whether a published capture holds an index.html, which is
// the sole cache-hit signal.
func (s *Store) Exists(dirID string) bool {
	_, err := os.Stat(filepath.Join(s.root, dirID, indexFile))
	return err == nil
}

// IndexHTML reads the published page of a capture.
func (s *Store) IndexHTML(dirID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, dirID, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("capture store: read index: %w", err)
	}
	return data, nil
}

// ResourceCount counts the stored files of a capture besides index.html.
func (s *Store) ResourceCount(dirID string) int {
	entries, err := os.ReadDir(filepath.Join(s.root, dirID))
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && e.Name() != indexFile {
			n++
		}
	}
	return n
}

// Stage opens a staging directory for a new capture of rawURL. The staged
// capture is invisible to readers until Publish.
func (s *Store) Stage(rawURL string) (*Staged, error) {
	dirID := KeyFor(rawURL)

	var suffix [4]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return nil, fmt.Errorf("capture store: staging suffix: %w", err)
	}
	tmp := filepath.Join(s.root, ".staging-"+dirID+"-"+hex.EncodeToString(suffix[:]))
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return nil, fmt.Errorf("capture store: mkdir staging: %w", err)
	}

	return &Staged{
		store: s,
		dirID: dirID,
		tmp:   tmp,
		names: map[string]bool{indexFile: true},
	}, nil
}

// Staged is an in-progress capture directory.
type Staged struct {
	store *Store
	dirID string
	tmp   string
	names map[string]bool
}

// DirID returns the directory id the capture will publish under.
func (st *Staged) DirID() string {
	return st.dirID
}

// Plan assigns a unique local filename for a resource and returns the
// replay path to substitute into rewritten text. Planning is separate from
// writing so the full url map exists before any text body is rewritten.
func (st *Staged) Plan(rawURL, contentType string) string {
	name := st.uniqueName(filenameFor(rawURL, contentType))
	return ServeRoot + st.dirID + "/" + name
}

// WriteResource writes content under a previously planned replay path.
func (st *Staged) WriteResource(localPath string, content []byte) error {
	name := stdpath.Base(localPath)
	if err := os.WriteFile(filepath.Join(st.tmp, name), content, 0o644); err != nil {
		return fmt.Errorf("capture store: write resource: %w", err)
	}
	return nil
}

// AddResource plans and writes a resource in one step.
func (st *Staged) AddResource(rawURL string, content []byte, contentType string) (string, error) {
	localPath := st.Plan(rawURL, contentType)
	return localPath, st.WriteResource(localPath, content)
}

// WriteIndex writes the rewritten page.
func (st *Staged) WriteIndex(html []byte) error {
	if err := os.WriteFile(filepath.Join(st.tmp, indexFile), html, 0o644); err != nil {
		return fmt.Errorf("capture store: write index: %w", err)
	}
	return nil
}

// Publish atomically swaps the staged directory into place, replacing any
// previous capture of the same URL.
func (st *Staged) Publish() error {
	final := filepath.Join(st.store.root, st.dirID)
	if err := os.RemoveAll(final); err != nil {
		st.Discard()
		return fmt.Errorf("capture store: clear previous capture: %w", err)
	}
	if err := os.Rename(st.tmp, final); err != nil {
		st.Discard()
		return fmt.Errorf("capture store: publish capture: %w", err)
	}
	return nil
}

// Discard removes the staging directory without publishing.
func (st *Staged) Discard() {
	_ = os.RemoveAll(st.tmp)
}

// uniqueName resolves filename collisions within one capture by numeric
// suffixing: name.ext, name_1.ext, name_2.ext, ...
func (st *Staged) uniqueName(base string) string {
	if !st.names[base] {
		st.names[base] = true
		return base
	}
	ext := stdpath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if !st.names[candidate] {
			st.names[candidate] = true
			return candidate
		}
	}
}

// filenameFor derives a local filename from the resource URL, borrowing an
// extension from the content type when the URL path has none.
func filenameFor(rawURL, contentType string) string {
	name := "resource"
	if parsed, err := url.Parse(rawURL); err == nil {
		if base := stdpath.Base(parsed.Path); base != "" && base != "." && base != "/" {
			name = base
		}
	}
	name = sanitizeSegment(name, 100)
	if name == "" {
		name = "resource"
	}
	if stdpath.Ext(name) == "" {
		if ext := extensionForType(contentType); ext != "" {
			name += ext
		}
	}
	return name
}

func extensionForType(contentType string) string {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "text/html":
		return ".html"
	case "text/css":
		return ".css"
	case "application/javascript", "text/javascript", "application/x-javascript":
		return ".js"
	case "application/json":
		return ".json"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/svg+xml":
		return ".svg"
	case "image/webp":
		return ".webp"
	case "image/x-icon", "image/vnd.microsoft.icon":
		return ".ico"
	case "font/woff":
		return ".woff"
	case "font/woff2":
		return ".woff2"
	case "font/ttf":
		return ".ttf"
	}
	return ""
}
