// Package router implements request routing: route
// selection, method gating, redirects, path resolution, and dispatch to
// the static/dirlisting/upload/cgi handlers.
package router

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/originserver/pkg/origin/config"
	"github.com/yourusername/originserver/pkg/origin/dirlisting"
	"github.com/yourusername/originserver/pkg/origin/errs"
	"github.com/yourusername/originserver/pkg/origin/mime"
	"github.com/yourusername/originserver/pkg/origin/static"
	"github.com/yourusername/originserver/pkg/origin/upload"
	"github.com/yourusername/originserver/pkg/origin/wire"
)

// CGIDispatch describes a request the router has determined must run
// through the CGI executor. The loop owns actually spawning and
// driving the process, since that spans multiple iterations while the
// connection sits in WaitingForCgi.
type CGIDispatch struct {
	ScriptPath  string
	Interpreter string
}

// Decision is the router's verdict for one request: either a Response
// ready to serve, or a CGI dispatch the loop must carry out.
type Decision struct {
	Response *wire.Response
	CGI      *CGIDispatch
}

// Router resolves requests against a Config.
type Router struct {
	Cfg *config.Config
}

func New(cfg *config.Config) *Router { return &Router{Cfg: cfg} }

// Resolve runs route selection, method gating, redirect, path
// resolution, and dispatch against req within sc.
func (rt *Router) Resolve(req *wire.Request, sc *config.ServerConfig) *Decision {
	route := matchRoute(sc.Routes, req.Path)
	if route == nil {
		return &Decision{Response: rt.ErrorResponse(sc, 404)}
	}

	if !route.AllowsMethod(string(req.Method)) {
		return &Decision{Response: rt.ErrorResponse(sc, 405)}
	}

	if route.HasRedirect() {
		status := 302
		if route.RedirectPermanent {
			status = 301
		}
		return &Decision{Response: redirectResponse(status, route.RedirectTarget)}
	}

	resolved, err := resolvePath(route, sc, req.Path)
	if err != nil {
		return &Decision{Response: rt.ErrorResponse(sc, 403)}
	}

	if interp, ok := matchCGIExt(route, resolved); ok {
		return &Decision{CGI: &CGIDispatch{ScriptPath: resolved, Interpreter: interp}}
	}

	var resp *wire.Response
	switch req.Method {
	case wire.MethodGET, wire.MethodHEAD:
		resp = rt.serveGet(route, sc, resolved, req.Path)
	case wire.MethodPOST:
		resp = rt.servePost(sc, route, req)
	case wire.MethodDELETE:
		resp = rt.serveDelete(sc, resolved)
	default:
		resp = rt.ErrorResponse(sc, 405)
	}

	return &Decision{Response: StripIfHead(resp, req.Method)}
}

// StripIfHead clears resp's body when method is HEAD, preserving
// headers. Applied uniformly to both direct and CGI-produced
// responses.
func StripIfHead(resp *wire.Response, method wire.Method) *wire.Response {
	if method == wire.MethodHEAD {
		resp.StripBody()
	}
	return resp
}

func matchRoute(routes []*config.Route, reqPath string) *config.Route {
	var best *config.Route
	for _, r := range routes {
		if r.Path != "/" && !strings.HasPrefix(reqPath, r.Path) {
			continue
		}
		if best == nil || len(r.Path) > len(best.Path) {
			best = r
		}
	}
	return best
}

// resolvePath joins the request path to the route's (or server's) root,
// rejecting ".." traversal and embedded NUL bytes.
func resolvePath(route *config.Route, sc *config.ServerConfig, reqPath string) (string, error) {
	if strings.Contains(reqPath, "..") || strings.ContainsRune(reqPath, 0) {
		return "", errs.New(errs.KindForbidden, "router.resolvePath", fmt.Errorf("unsafe path %q", reqPath))
	}

	if route.Root != "" {
		rel := strings.TrimPrefix(reqPath, route.Path)
		return filepath.Join(route.Root, rel), nil
	}
	return filepath.Join(sc.Root, reqPath), nil
}

func matchCGIExt(route *config.Route, resolved string) (string, bool) {
	for ext, interp := range route.CGI {
		if strings.HasSuffix(resolved, ext) {
			return interp, true
		}
	}
	return "", false
}

func (rt *Router) serveGet(route *config.Route, sc *config.ServerConfig, resolved, requestPath string) *wire.Response {
	info, err := os.Stat(resolved)
	if err != nil {
		return rt.ErrorResponse(sc, 404)
	}

	if info.IsDir() {
		index := route.Index
		if index == "" {
			index = "index.html"
		}
		indexPath := filepath.Join(resolved, index)
		if _, err := os.Stat(indexPath); err == nil {
			resp, err := static.Serve(indexPath)
			if err != nil {
				return rt.ErrorResponse(sc, statusFor(err))
			}
			return resp
		}
		if route.Autoindex {
			resp, err := dirlisting.Render(resolved, requestPath)
			if err != nil {
				return rt.ErrorResponse(sc, 403)
			}
			return resp
		}
		return rt.ErrorResponse(sc, 403)
	}

	resp, err := static.Serve(resolved)
	if err != nil {
		return rt.ErrorResponse(sc, statusFor(err))
	}
	return resp
}

func (rt *Router) servePost(sc *config.ServerConfig, route *config.Route, req *wire.Request) *wire.Response {
	resp, err := upload.Handle(route.UploadDir, req.Headers, req.Body)
	if err != nil {
		return rt.ErrorResponse(sc, statusFor(err))
	}
	return resp
}

func (rt *Router) serveDelete(sc *config.ServerConfig, resolved string) *wire.Response {
	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return rt.ErrorResponse(sc, 404)
		}
		return rt.ErrorResponse(sc, 500)
	}
	if info.IsDir() {
		return rt.ErrorResponse(sc, 403)
	}
	if err := os.Remove(resolved); err != nil {
		return rt.ErrorResponse(sc, 500)
	}
	return wire.NewResponse(200).
		WithBody([]byte(`{"status":"ok","message":"File deleted"}`)).
		WithContentType("application/json")
}

func statusFor(err error) int {
	if kind, ok := errs.As(err); ok {
		if status := kind.Status(); status != 0 {
			return status
		}
	}
	return 500
}

func redirectResponse(status int, target string) *wire.Response {
	body := fmt.Sprintf("<!DOCTYPE html><html><body><a href=\"%s\">%s</a></body></html>", target, wire.ReasonPhrase(status))
	resp := wire.NewResponse(status).WithBody([]byte(body)).WithContentType("text/html; charset=utf-8")
	resp.Headers.Set("Location", target)
	return resp
}

// ErrorResponse applies the error response policy: a configured error
// page for the code if it resolves and reads, else a minimal built-in
// page.
func (rt *Router) ErrorResponse(sc *config.ServerConfig, code int) *wire.Response {
	if path, ok := sc.ErrorPages[code]; ok {
		if body, err := os.ReadFile(path); err == nil {
			resp := wire.NewResponse(code).WithBody(body)
			resp.WithContentType(mime.TypeForPath(path))
			return resp
		}
	}
	return builtinErrorPage(code)
}

func builtinErrorPage(code int) *wire.Response {
	reason := wire.ReasonPhrase(code)
	body := fmt.Sprintf("<!DOCTYPE html><html><head><title>%d %s</title></head><body><h1>%d %s</h1></body></html>", code, reason, code, reason)
	return wire.NewResponse(code).WithBody([]byte(body)).WithContentType("text/html; charset=utf-8")
}
