// Package loop implements the single-threaded, non-blocking event loop:
// it owns the poller, the listeners, the connection table, the router,
// and the full Config, and drives every connection through the
// Reading/Processing/Writing/WaitingForCgi/Closed state machine. One
// goroutine pumps a readiness queue and dispatches inline; nothing is
// handed off to a worker pool after dispatch.
package loop

import (
	"errors"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/originserver/pkg/origin/cgi"
	"github.com/yourusername/originserver/pkg/origin/config"
	"github.com/yourusername/originserver/pkg/origin/conn"
	"github.com/yourusername/originserver/pkg/origin/errs"
	"github.com/yourusername/originserver/pkg/origin/listener"
	"github.com/yourusername/originserver/pkg/origin/poller"
	"github.com/yourusername/originserver/pkg/origin/router"
	"github.com/yourusername/originserver/pkg/origin/wire"
)

const waitTimeout = 100 * time.Millisecond

const defaultTimeout = 60 * time.Second

// cgiInFlight tracks one connection's in-progress CGI dispatch.
type cgiInFlight struct {
	connFD    int
	proc      *cgi.Process
	method    wire.Method
	sc        *config.ServerConfig
	keepAlive bool
}

// Loop is the event loop's sole instance: single-threaded, no locks,
// no shared mutable state beyond what it owns exclusively.
type Loop struct {
	p   poller.Poller
	log *zap.Logger

	cfg    *config.Config
	router *router.Router

	listeners map[int]*listener.Listener // fd -> listener
	conns     map[int]*conn.Connection   // fd -> connection
	cgiByPipe map[int]*cgiInFlight       // cgi stdout pipe fd -> in-flight state

	timeout time.Duration
	scratch []byte
}

// New builds a Loop over cfg, binding one Listener per distinct
// (host, port) pair named across every ServerConfig.
func New(cfg *config.Config, log *zap.Logger) (*Loop, error) {
	ep, err := poller.New()
	if err != nil {
		return nil, errs.New(errs.KindIO, "loop.New", err)
	}

	timeout := defaultTimeout
	if len(cfg.Servers) > 0 && cfg.Servers[0].Timeout > 0 {
		timeout = cfg.Servers[0].Timeout
	}

	l := &Loop{
		p:         ep,
		log:       log,
		cfg:       cfg,
		router:    router.New(cfg),
		listeners: make(map[int]*listener.Listener),
		conns:     make(map[int]*conn.Connection),
		cgiByPipe: make(map[int]*cgiInFlight),
		timeout:   timeout,
		scratch:   make([]byte, 64*1024),
	}

	bound := make(map[string]bool)
	for _, sc := range cfg.Servers {
		host := sc.Host
		if host == "" {
			host = "0.0.0.0"
		}
		for _, port := range sc.Ports {
			key := host + ":" + portKey(port)
			if bound[key] {
				continue
			}
			bound[key] = true

			ln, err := listener.Listen(host, port)
			if err != nil {
				return nil, errs.New(errs.KindIO, "loop.New", err)
			}
			if err := ep.Add(ln.FD(), poller.Read); err != nil {
				return nil, errs.New(errs.KindIO, "loop.New", err)
			}
			l.listeners[ln.FD()] = ln
		}
	}

	return l, nil
}

func portKey(p int) string {
	const digits = "0123456789"
	if p == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = digits[p%10]
		p /= 10
	}
	return string(buf[i:])
}

// Run drives the loop until a non-nil stop signal is received via
// stopCh, or forever if stopCh is nil.
func (l *Loop) Run(stopCh <-chan struct{}) error {
	for {
		select {
		case <-stopCh:
			return l.shutdown()
		default:
		}

		events, err := l.p.Wait(waitTimeout)
		if err != nil {
			return errs.New(errs.KindIO, "loop.Run", err)
		}

		for _, ev := range events {
			l.handleEvent(ev)
		}

		l.sweep()
	}
}

func (l *Loop) handleEvent(ev poller.Event) {
	if ln, ok := l.listeners[ev.FD]; ok {
		l.acceptAll(ln)
		return
	}
	if st, ok := l.cgiByPipe[ev.FD]; ok {
		l.pumpCGI(st)
		return
	}
	if c, ok := l.conns[ev.FD]; ok {
		l.handleConnEvent(c, ev)
	}
}

func (l *Loop) acceptAll(ln *listener.Listener) {
	ln.DrainAccept(func(nc net.Conn) {
		fd, err := fdOfConn(nc)
		if err != nil {
			nc.Close()
			return
		}
		c := conn.New(nc, fd, ln.Port())
		l.conns[fd] = c
		if err := l.p.Add(fd, poller.Read); err != nil {
			l.dropConn(c)
			return
		}
		l.log.Debug("accepted connection", zap.Int("fd", fd), zap.Int("port", ln.Port()), zap.String("trace_id", c.TraceID.String()))
	})
}

func (l *Loop) handleConnEvent(c *conn.Connection, ev poller.Event) {
	switch c.State() {
	case conn.Reading:
		if !ev.Readable {
			return
		}
		n, wouldBlock, err := c.Read(l.scratch)
		if err != nil {
			l.dropConn(c)
			return
		}
		if wouldBlock {
			return
		}
		if n == 0 {
			l.dropConn(c)
			return
		}
	case conn.Writing:
		if !ev.Writable {
			return
		}
		drained, wouldBlock, err := c.Write()
		if err != nil {
			l.dropConn(c)
			return
		}
		if wouldBlock || !drained {
			return
		}
		l.finishWrite(c)
	}
}

// finishWrite runs after a response has fully drained: either reset the
// connection for another keep-alive request, or close it.
func (l *Loop) finishWrite(c *conn.Connection) {
	if !c.KeepAlive() {
		l.dropConn(c)
		return
	}
	c.ResetForReuse()
	l.p.Modify(c.FD, poller.Read)
}

// sweep promotes complete requests to Processing and dispatches them,
// and drops connections that are Closed or past their inactivity
// timeout.
func (l *Loop) sweep() {
	for fd, c := range l.conns {
		switch c.State() {
		case conn.Reading:
			if wire.IsComplete(c.ReadBuffered()) {
				c.SetState(conn.Processing)
				l.process(c)
				continue
			}
		case conn.Closed:
			l.dropConnFD(fd, c)
			continue
		}

		if c.State() != conn.WaitingForCgi && c.IdleFor() > l.timeout {
			l.dropConnFD(fd, c)
		}
	}
}

// process runs the router against a Processing connection's buffered
// request and either loads a response for Writing or starts a CGI
// process and transitions to WaitingForCgi.
func (l *Loop) process(c *conn.Connection) {
	req, err := wire.Parse(c.ReadBuffered())
	if err != nil {
		l.writeAndMaybeClose(c, badRequestResponse())
		return
	}

	if req.Headers.IsChunked() {
		decoded, err := wire.DecodeChunked(req.Body)
		if err != nil {
			l.writeAndMaybeClose(c, badRequestResponse())
			return
		}
		req = &wire.Request{Method: req.Method, Path: req.Path, Query: req.Query, Proto: req.Proto, Headers: req.Headers, Body: decoded}
	}

	host := hostOnly(req.Headers.Host())
	sc := l.cfg.SelectServer(c.ListenPort, host)
	if sc == nil {
		l.writeAndMaybeClose(c, notFoundResponse())
		return
	}

	if sc.MaxBodySize > 0 && int64(len(req.Body)) > sc.MaxBodySize {
		resp := l.router.ErrorResponse(sc, 413).WithKeepAlive(req.Headers.KeepAlive())
		l.writeResponse(c, resp)
		return
	}

	decision := l.router.Resolve(req, sc)
	if decision.CGI != nil {
		l.startCGI(c, decision.CGI, req, sc)
		return
	}

	resp := decision.Response.WithKeepAlive(req.Headers.KeepAlive())
	l.writeResponse(c, resp)
}

func (l *Loop) startCGI(c *conn.Connection, dispatch *router.CGIDispatch, req *wire.Request, sc *config.ServerConfig) {
	maxBody := sc.MaxBodySize
	if maxBody <= 0 {
		maxBody = 10 * 1024 * 1024
	}

	proc, err := cgi.Start(dispatch.ScriptPath, dispatch.Interpreter, req, sc.ServerName, req.Headers.Host(), maxBody)
	if err != nil {
		resp := l.router.ErrorResponse(sc, 500).WithKeepAlive(req.Headers.KeepAlive())
		l.writeResponse(c, resp)
		return
	}

	c.SetState(conn.WaitingForCgi)
	c.CgiPipeFD = proc.FD()
	if err := l.p.Add(proc.FD(), poller.Read); err != nil {
		proc.Kill()
		resp := l.router.ErrorResponse(sc, 500).WithKeepAlive(req.Headers.KeepAlive())
		l.writeResponse(c, resp)
		return
	}

	l.cgiByPipe[proc.FD()] = &cgiInFlight{connFD: c.FD, proc: proc, method: req.Method, sc: sc, keepAlive: req.Headers.KeepAlive()}
}

func (l *Loop) pumpCGI(st *cgiInFlight) {
	done, wouldBlock, err := st.proc.ReadMore(l.scratch)
	if wouldBlock {
		return
	}
	if err != nil {
		done = true
	}
	if !done {
		return
	}

	l.p.Remove(st.proc.FD())
	delete(l.cgiByPipe, st.proc.FD())

	c, ok := l.conns[st.connFD]
	if !ok {
		st.proc.Kill()
		return
	}

	resp, ferr := st.proc.Finish()
	if ferr != nil {
		resp = l.router.ErrorResponse(st.sc, 500)
	}
	resp = router.StripIfHead(resp, st.method).WithKeepAlive(st.keepAlive)

	l.writeResponse(c, resp)
}

func (l *Loop) writeResponse(c *conn.Connection, resp *wire.Response) {
	c.SetKeepAlive(resp.Headers.KeepAlive())
	c.LoadResponse(resp.ToBytes())
	c.SetState(conn.Writing)
	if err := l.p.Modify(c.FD, poller.Write); err != nil {
		l.dropConn(c)
		return
	}
	// Opportunistically write immediately; the poller will still notify
	// on the next iteration if this doesn't drain the buffer.
	drained, wouldBlock, err := c.Write()
	if err != nil {
		l.dropConn(c)
		return
	}
	if !wouldBlock && drained {
		l.finishWrite(c)
	}
}

// writeAndMaybeClose is used for malformed/unroutable requests where no
// ServerConfig's keep-alive policy is known yet; the connection closes
// after the response drains.
func (l *Loop) writeAndMaybeClose(c *conn.Connection, resp *wire.Response) {
	l.writeResponse(c, resp.WithKeepAlive(false))
}

func (l *Loop) dropConn(c *conn.Connection) { l.dropConnFD(c.FD, c) }

func (l *Loop) dropConnFD(fd int, c *conn.Connection) {
	l.p.Remove(fd)
	delete(l.conns, fd)
	c.Close()
}

func (l *Loop) shutdown() error {
	for fd := range l.conns {
		l.dropConnFD(fd, l.conns[fd])
	}
	for fd, ln := range l.listeners {
		l.p.Remove(fd)
		ln.Close()
	}
	return l.p.Close()
}

func badRequestResponse() *wire.Response {
	return wire.NewResponse(400).WithBody([]byte("<!DOCTYPE html><html><body><h1>400 Bad Request</h1></body></html>")).WithContentType("text/html; charset=utf-8")
}

func notFoundResponse() *wire.Response {
	return wire.NewResponse(404).WithBody([]byte("<!DOCTYPE html><html><body><h1>404 Not Found</h1></body></html>")).WithContentType("text/html; charset=utf-8")
}

func hostOnly(host string) string {
	for i, c := range host {
		if c == ':' {
			return host[:i]
		}
	}
	return host
}

// fdOfConn extracts the raw file descriptor from an accepted TCP
// connection, the same technique listener.fdOf uses on the listening
// socket itself.
func fdOfConn(nc net.Conn) (int, error) {
	sc, ok := nc.(syscall.Conn)
	if !ok {
		return 0, errs.New(errs.KindIO, "loop.fdOfConn", errNotSyscallConn)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	ctrlErr := rc.Control(func(p uintptr) { fd = int(p) })
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}

var errNotSyscallConn = errors.New("connection does not expose a raw fd")
