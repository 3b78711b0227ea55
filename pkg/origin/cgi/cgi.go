// Package cgi implements the CGI/1.1 executor. The spawned child's
// stdout is not read synchronously: Start spawns the process and
// returns its stdout pipe fd for poller registration, so the event loop
// stays responsive to other connections while the script runs.
// ReadMore/Finish let the loop drive the remaining, now non-blocking,
// I/O the way it drives a Connection's own Read.
package cgi

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/valyala/bytebufferpool"

	"github.com/yourusername/originserver/pkg/origin/errs"
	"github.com/yourusername/originserver/pkg/origin/headers"
	"github.com/yourusername/originserver/pkg/origin/wire"
)

var stdoutBufPool bytebufferpool.Pool

// Process is one in-flight CGI invocation.
type Process struct {
	cmd      *exec.Cmd
	stdout   *os.File
	stdoutFD int
	buf      *bytebufferpool.ByteBuffer
	maxBody  int64
}

// Start spawns interpreter with scriptPath as its argument, cwd set to
// the script's parent directory, the full CGI/1.1 environment, and the
// request body piped to stdin. It returns a Process whose stdout pipe fd
// the caller registers with the poller for Read interest.
func Start(scriptPath, interpreter string, req *wire.Request, serverName, host string, maxBody int64) (*Process, error) {
	cmd := exec.Command(interpreter, scriptPath)
	cmd.Dir = filepath.Dir(scriptPath)
	cmd.Env = buildEnv(scriptPath, req, serverName, host)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errs.New(errs.KindCgi, "cgi.Start", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.New(errs.KindCgi, "cgi.Start", err)
	}
	stdoutFile, ok := stdoutPipe.(*os.File)
	if !ok {
		return nil, errs.New(errs.KindCgi, "cgi.Start", fmt.Errorf("stdout pipe is not a file"))
	}

	if err := cmd.Start(); err != nil {
		return nil, errs.New(errs.KindCgi, "cgi.Start", err)
	}

	if _, err := stdin.Write(req.Body); err != nil {
		stdin.Close()
		cmd.Process.Kill()
		return nil, errs.New(errs.KindCgi, "cgi.Start", err)
	}
	stdin.Close()

	fd, err := fdOf(stdoutFile)
	if err != nil {
		cmd.Process.Kill()
		return nil, errs.New(errs.KindCgi, "cgi.Start", err)
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		cmd.Process.Kill()
		return nil, errs.New(errs.KindCgi, "cgi.Start", err)
	}

	return &Process{
		cmd:      cmd,
		stdout:   stdoutFile,
		stdoutFD: fd,
		buf:      stdoutBufPool.Get(),
		maxBody:  maxBody,
	}, nil
}

// FD returns the child's stdout pipe fd, for poller registration.
func (p *Process) FD() int { return p.stdoutFD }

// ReadMore performs one non-blocking read of the child's stdout,
// appending to the internal buffer. No read is made once the buffer
// holds maxBody bytes or more; the read that crosses maxBody is kept
// whole, so the buffer can exceed maxBody by up to len(scratch)-1 bytes.
// done is true once the pipe reports EOF or the cap is reached.
func (p *Process) ReadMore(scratch []byte) (done bool, wouldBlock bool, err error) {
	if int64(len(p.buf.B)) >= p.maxBody {
		return true, false, nil
	}

	n, err := syscall.Read(p.stdoutFD, scratch)
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return false, true, nil
		}
		return false, false, err
	}
	if n == 0 {
		return true, false, nil
	}
	p.buf.Write(scratch[:n])
	return false, false, nil
}

// Finish waits for the child to exit and parses the accumulated stdout
// into a Response. The Process's buffer is returned to the pool;
// Finish must be called exactly once.
func (p *Process) Finish() (*wire.Response, error) {
	defer func() {
		stdoutBufPool.Put(p.buf)
		p.buf = nil
		p.stdout.Close()
	}()

	err := p.cmd.Wait()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return nil, errs.New(errs.KindCgi, "cgi.Finish", err)
		}
		return nil, errs.New(errs.KindCgi, "cgi.Finish", err)
	}

	return parseOutput(p.buf.B)
}

// Kill terminates the child process; used when the connection that
// initiated the CGI call is closed before completion.
func (p *Process) Kill() {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	p.cmd.Wait()
}

func fdOf(f *os.File) (int, error) {
	rc, err := f.SyscallConn()
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

func buildEnv(scriptPath string, req *wire.Request, serverName, host string) []string {
	env := []string{
		"REQUEST_METHOD=" + string(req.Method),
		"SCRIPT_FILENAME=" + scriptPath,
		"SCRIPT_NAME=" + req.Path,
		"PATH_INFO=" + req.Path,
		"QUERY_STRING=" + reserializeQuery(req.Query),
		"SERVER_PROTOCOL=" + req.Proto,
		"SERVER_SOFTWARE=originserver",
		"GATEWAY_INTERFACE=CGI/1.1",
		"HTTP_HOST=" + host,
		"SERVER_NAME=" + serverName,
	}

	if ct := req.Headers.ContentType(); ct != "" {
		env = append(env, "CONTENT_TYPE="+ct)
	}
	if cl := req.Headers.ContentLength(); cl >= 0 {
		env = append(env, "CONTENT_LENGTH="+strconv.FormatInt(cl, 10))
	}

	seen := make(map[string]bool)
	req.Headers.Iter(func(name, _ string) {
		if seen[name] {
			return
		}
		seen[name] = true
		key := "HTTP_" + strings.ReplaceAll(strings.ToUpper(name), "-", "_")
		env = append(env, key+"="+req.Headers.Get(name))
	})

	return env
}

func reserializeQuery(q map[string]string) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(q[k]))
	}
	return strings.Join(parts, "&")
}

// parseOutput splits CGI stdout into headers and body at the first
// CRLFCRLF or LFLF separator.
func parseOutput(out []byte) (*wire.Response, error) {
	sepLen := 4
	idx := bytes.Index(out, []byte("\r\n\r\n"))
	if idx < 0 {
		sepLen = 2
		idx = bytes.Index(out, []byte("\n\n"))
	}
	if idx < 0 {
		resp := wire.NewResponse(200).WithBody(out)
		resp.WithContentType("text/html")
		return resp, nil
	}

	headerBlock := string(out[:idx])
	body := out[idx+sepLen:]

	status := 200
	h := headers.New()
	hasContentType := false

	for _, line := range splitLines(headerBlock) {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])

		switch strings.ToLower(name) {
		case "status":
			fields := strings.Fields(value)
			if len(fields) > 0 {
				if code, err := strconv.Atoi(fields[0]); err == nil && wire.IsSupportedStatus(code) {
					status = code
				}
			}
		case "location":
			h.Set("Location", value)
			if status == 200 {
				status = 302
			}
		case "content-type":
			h.Set("Content-Type", value)
			hasContentType = true
		default:
			h.Add(name, value)
		}
	}

	resp := wire.NewResponse(status)
	resp.Headers = h
	resp.Headers.Set("Server", "originserver")
	resp.WithBody(body)
	if !hasContentType {
		resp.DefaultContentType("text/html")
	}
	return resp, nil
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}
