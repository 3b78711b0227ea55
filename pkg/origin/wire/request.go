package wire

import "github.com/yourusername/originserver/pkg/origin/headers"

// Request is a fully parsed, immutable HTTP request. Every field is an
// owned value, not a slice into a pooled buffer, since a request must
// remain valid and unchanging for its whole lifetime once parsed.
type Request struct {
	Method  Method
	Path    string
	Query   map[string]string
	Proto   string
	Headers *headers.Headers
	Body    []byte
}

// newRequest builds an immutable Request. Once returned, none of its
// fields are mutated by the parser.
func newRequest(method Method, path string, query map[string]string, proto string, h *headers.Headers, body []byte) *Request {
	return &Request{
		Method:  method,
		Path:    path,
		Query:   query,
		Proto:   proto,
		Headers: h,
		Body:    body,
	}
}
