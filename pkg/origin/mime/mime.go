// Package mime holds a small, closed extension-to-content-type table
// covering the file types a static site commonly serves.
package mime

import "strings"

var table = map[string]string{
	".html":  "text/html; charset=utf-8",
	".htm":   "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "application/javascript; charset=utf-8",
	".json":  "application/json",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".txt":   "text/plain; charset=utf-8",
	".pdf":   "application/pdf",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
}

const fallback = "application/octet-stream"

// TypeForPath returns the content type registered for path's extension,
// or the fallback octet-stream type if the extension is unknown or
// absent.
func TypeForPath(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return fallback
	}
	ext := strings.ToLower(path[idx:])
	if ct, ok := table[ext]; ok {
		return ct
	}
	return fallback
}
