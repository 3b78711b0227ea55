package wire

import (
	"strconv"

	"github.com/yourusername/originserver/pkg/origin/headers"
)

const serverBanner = "originserver"

// Response is a fully buffered HTTP response. Connection (see
// pkg/origin/conn) needs the whole response serialized into its write
// buffer before any bytes go on the wire, so Response here is a plain
// value built by a small builder instead of a streaming writer.
type Response struct {
	Status  int
	Reason  string
	Headers *headers.Headers
	Body    []byte
}

// NewResponse starts a response with the given status code (must be in
// the closed set from status.go) and the Server header populated.
func NewResponse(status int) *Response {
	h := headers.New()
	h.Set("Server", serverBanner)
	return &Response{
		Status:  status,
		Reason:  ReasonPhrase(status),
		Headers: h,
	}
}

// WithBody sets the response body and recomputes Content-Length to
// match its byte length.
func (r *Response) WithBody(body []byte) *Response {
	r.Body = body
	r.Headers.Set("Content-Length", strconv.Itoa(len(body)))
	return r
}

// WithContentType sets Content-Type, replacing any value already set.
func (r *Response) WithContentType(ct string) *Response {
	r.Headers.Set("Content-Type", ct)
	return r
}

// DefaultContentType sets Content-Type only if it hasn't been set yet.
func (r *Response) DefaultContentType(ct string) *Response {
	if !r.Headers.Contains("Content-Type") {
		r.Headers.Set("Content-Type", ct)
	}
	return r
}

// StripBody clears the body but leaves headers (including
// Content-Length) untouched — used by HEAD responses.
func (r *Response) StripBody() *Response {
	r.Body = nil
	return r
}

// WithKeepAlive stamps the default Connection header ("keep-alive" or
// "close") unless the response already declares one — a CGI script's
// own Connection header takes precedence over the request-derived
// default. The connection's actual keep-alive decision is read back
// from this header once the response is built, not from the request.
func (r *Response) WithKeepAlive(keepAlive bool) *Response {
	if r.Headers.Contains("Connection") {
		return r
	}
	if keepAlive {
		r.Headers.Set("Connection", "keep-alive")
	} else {
		r.Headers.Set("Connection", "close")
	}
	return r
}

// ToBytes serializes the response to wire format:
// "HTTP/1.1 {code} {reason}\r\n" + headers + "\r\n" + body.
func (r *Response) ToBytes() []byte {
	reason := r.Reason
	if reason == "" {
		reason = ReasonPhrase(r.Status)
	}

	buf := make([]byte, 0, 256+len(r.Body))
	buf = append(buf, "HTTP/1.1 "...)
	buf = append(buf, strconv.Itoa(r.Status)...)
	buf = append(buf, ' ')
	buf = append(buf, reason...)
	buf = append(buf, "\r\n"...)

	r.Headers.Iter(func(name, value string) {
		buf = append(buf, name...)
		buf = append(buf, ": "...)
		buf = append(buf, value...)
		buf = append(buf, "\r\n"...)
	})

	buf = append(buf, "\r\n"...)
	buf = append(buf, r.Body...)
	return buf
}
