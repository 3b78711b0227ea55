// Package upload implements the POST upload handler: multipart/form-data
// part extraction, or a raw-body fallback for any other content type.
package upload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/yourusername/originserver/pkg/origin/errs"
	"github.com/yourusername/originserver/pkg/origin/headers"
	"github.com/yourusername/originserver/pkg/origin/wire"
)

var partBufPool bytebufferpool.Pool

// Handle dispatches a POST body to uploadDir, based on Content-Type.
func Handle(uploadDir string, h *headers.Headers, body []byte) (*wire.Response, error) {
	if uploadDir == "" {
		return nil, errs.New(errs.KindForbidden, "upload.Handle", os.ErrPermission)
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, errs.New(errs.KindInternal, "upload.Handle", err)
	}

	ct := h.ContentType()
	if boundary, ok := multipartBoundary(ct); ok {
		return handleMultipart(uploadDir, boundary, body)
	}
	return handleRaw(uploadDir, body)
}

func multipartBoundary(contentType string) (string, bool) {
	if !strings.HasPrefix(strings.ToLower(contentType), "multipart/form-data") {
		return "", false
	}
	idx := strings.Index(contentType, "boundary=")
	if idx < 0 {
		return "", false
	}
	b := contentType[idx+len("boundary="):]
	if semi := strings.IndexByte(b, ';'); semi >= 0 {
		b = b[:semi]
	}
	b = strings.TrimSpace(b)
	b = strings.Trim(b, `"`)
	if b == "" {
		return "", false
	}
	return b, true
}

func handleMultipart(uploadDir, boundary string, body []byte) (*wire.Response, error) {
	delim := []byte("--" + boundary)
	parts := bytes.Split(body, delim)

	var written []string
	for _, part := range parts {
		part = bytes.TrimPrefix(part, []byte("\r\n"))
		if len(part) == 0 {
			continue
		}
		// The terminal boundary's remainder starts with "--".
		if bytes.HasPrefix(part, []byte("--")) {
			continue
		}

		headerEnd := bytes.Index(part, []byte("\r\n\r\n"))
		if headerEnd < 0 {
			continue
		}
		headerBlock := part[:headerEnd]
		partBody := part[headerEnd+4:]
		partBody = bytes.TrimSuffix(partBody, []byte("\r\n"))

		filename, ok := findFilename(string(headerBlock))
		if !ok || filename == "" {
			continue
		}
		filename = filepath.Base(filename)

		buf := partBufPool.Get()
		buf.Write(partBody)
		dest := filepath.Join(uploadDir, filename)
		if err := os.WriteFile(dest, buf.B, 0o644); err != nil {
			partBufPool.Put(buf)
			return nil, errs.New(errs.KindInternal, "upload.handleMultipart", err)
		}
		partBufPool.Put(buf)
		written = append(written, filename)
	}

	if len(written) == 0 {
		return wire.NewResponse(400).
			WithBody([]byte(`{"status":"error","message":"no files written"}`)).
			WithContentType("application/json"), nil
	}

	body2, err := json.Marshal(written)
	if err != nil {
		return nil, errs.New(errs.KindInternal, "upload.handleMultipart", err)
	}
	return wire.NewResponse(200).WithBody(body2).WithContentType("application/json"), nil
}

func findFilename(headerBlock string) (string, bool) {
	for _, line := range strings.Split(headerBlock, "\r\n") {
		if !strings.Contains(strings.ToLower(line), "content-disposition") {
			continue
		}
		idx := strings.Index(strings.ToLower(line), "filename=")
		if idx < 0 {
			return "", false
		}
		rest := line[idx+len("filename="):]
		rest = strings.TrimSpace(rest)
		rest = strings.Trim(rest, `"`)
		if semi := strings.IndexByte(rest, ';'); semi >= 0 {
			rest = rest[:semi]
		}
		return rest, true
	}
	return "", false
}

func handleRaw(uploadDir string, body []byte) (*wire.Response, error) {
	name := fmt.Sprintf("upload_%d", time.Now().Unix())
	dest := filepath.Join(uploadDir, name)
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return nil, errs.New(errs.KindInternal, "upload.handleRaw", err)
	}

	resp := map[string]string{"status": "ok", "file": name}
	body2, err := json.Marshal(resp)
	if err != nil {
		return nil, errs.New(errs.KindInternal, "upload.handleRaw", err)
	}
	return wire.NewResponse(200).WithBody(body2).WithContentType("application/json"), nil
}
