// Package dirlisting renders the autoindex HTML page for a directory
// when no index file is present and autoindex is on.
package dirlisting

import (
	"fmt"
	"html"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/yourusername/originserver/pkg/origin/errs"
	"github.com/yourusername/originserver/pkg/origin/wire"
)

type entry struct {
	name  string
	isDir bool
	size  int64
}

// Render builds the autoindex HTML for the directory at fsPath, with
// requestPath used to build child links and the parent link.
func Render(fsPath, requestPath string) (*wire.Response, error) {
	dirents, err := os.ReadDir(fsPath)
	if err != nil {
		return nil, errs.New(errs.KindForbidden, "dirlisting.Render", err)
	}

	entries := make([]entry, 0, len(dirents))
	for _, d := range dirents {
		var size int64
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				size = info.Size()
			}
		}
		entries = append(entries, entry{name: d.Name(), isDir: d.IsDir(), size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].isDir != entries[j].isDir {
			return entries[i].isDir
		}
		return entries[i].name < entries[j].name
	})

	var b strings.Builder
	title := html.EscapeString(requestPath)
	fmt.Fprintf(&b, "<!DOCTYPE html>\n<html><head><title>Index of %s</title></head><body>\n", title)
	fmt.Fprintf(&b, "<h1>Index of %s</h1>\n<table>\n", title)

	if requestPath != "/" {
		parent := path.Dir(strings.TrimSuffix(requestPath, "/"))
		if !strings.HasSuffix(parent, "/") {
			parent += "/"
		}
		fmt.Fprintf(&b, "<tr><td><a href=\"%s\">..</a></td><td>-</td></tr>\n", html.EscapeString(parent))
	}

	for _, e := range entries {
		href := joinRequestPath(requestPath, e.name)
		name := html.EscapeString(e.name)
		sizeStr := "-"
		if !e.isDir {
			sizeStr = humanSize(e.size)
		}
		fmt.Fprintf(&b, "<tr><td><a href=\"%s\">%s</a></td><td>%s</td></tr>\n",
			html.EscapeString(href), name, sizeStr)
	}

	b.WriteString("</table>\n</body></html>\n")

	return wire.NewResponse(200).WithBody([]byte(b.String())).WithContentType("text/html; charset=utf-8"), nil
}

func joinRequestPath(requestPath, name string) string {
	if strings.HasSuffix(requestPath, "/") {
		return requestPath + name
	}
	return requestPath + "/" + name
}

// humanSize formats n as a 1024-based, 1-decimal human-readable size
// (B/KB/MB/GB).
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB"}
	return fmt.Sprintf("%.1f%s", float64(n)/float64(div), units[exp])
}
