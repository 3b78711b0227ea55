// Package static serves plain files from a resolved filesystem path.
// Path-safety (rejecting "..", NUL bytes) is the router's job; this
// package trusts the path it is given and only decides existence,
// file-ness, and content typing.
package static

import (
	"os"

	"github.com/yourusername/originserver/pkg/origin/errs"
	"github.com/yourusername/originserver/pkg/origin/mime"
	"github.com/yourusername/originserver/pkg/origin/wire"
)

// Serve reads the file at path in full and builds a 200 response with
// Content-Type derived from the closed MIME table and Content-Length
// from the body length.
func Serve(path string) (*wire.Response, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.KindNotFound, "static.Serve", err)
		}
		return nil, errs.New(errs.KindForbidden, "static.Serve", err)
	}
	if info.IsDir() {
		return nil, errs.New(errs.KindNotFound, "static.Serve", os.ErrNotExist)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.KindForbidden, "static.Serve", err)
	}

	resp := wire.NewResponse(200).WithBody(body)
	resp.WithContentType(mime.TypeForPath(path))
	return resp, nil
}
