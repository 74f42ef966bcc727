package store

import (
	"os"
	stdpath "path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var mimeByExt = map[string]string{
	".html":  "text/html; charset=utf-8",
	".htm":   "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "application/javascript; charset=utf-8",
	".mjs":   "application/javascript; charset=utf-8",
	".json":  "application/json",
	".xml":   "application/xml",
	".txt":   "text/plain; charset=utf-8",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".avif":  "image/avif",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".eot":   "application/vnd.ms-fontobject",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
	".mp3":   "audio/mpeg",
	".ogg":   "audio/ogg",
	".map":   "application/json",
}

// Serve reads one capture file and reports its content type. Any path that
// contains a parent-directory segment, or that resolves (including through
// symlinks) outside the cache root, is rejected with ErrPathTraversal
// before the filesystem is read.
func (s *Store) Serve(dirID, filePath string) ([]byte, string, error) {
	for _, segment := range append(strings.Split(filePath, "/"), dirID) {
		if segment == ".." {
			return nil, "", ErrPathTraversal
		}
	}

	full := filepath.Join(s.root, dirID, filepath.FromSlash(filePath))

	resolvedRoot, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return nil, "", ErrNotFound
	}
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", ErrNotFound
	}
	if resolved != resolvedRoot && !strings.HasPrefix(resolved, resolvedRoot+string(filepath.Separator)) {
		return nil, "", ErrPathTraversal
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, "", ErrNotFound
	}

	return data, contentTypeFor(filePath, data), nil
}

// contentTypeFor maps a file to a MIME type by extension, sniffing the
// content for extensions the table does not know.
func contentTypeFor(filePath string, data []byte) string {
	ext := strings.ToLower(stdpath.Ext(filePath))
	if ct, ok := mimeByExt[ext]; ok {
		return ct
	}
	return mimetype.Detect(data).String()
}
