// Package wire implements the request/response codec: parsing raw bytes
// into a Request, serializing a Response to bytes, and detecting message
// completeness on an accumulating read buffer.
//
// Connection (pkg/origin/conn) owns the accumulation buffer itself and
// only hands Parse a buffer it has already proven complete via
// IsComplete, so Parse here is a single-pass, non-streaming function
// over a byte slice rather than a stateful object driven off an
// io.Reader.
package wire

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/yourusername/originserver/pkg/origin/errs"
	"github.com/yourusername/originserver/pkg/origin/headers"
)

// Parse parses a complete request out of buf. buf must satisfy
// IsComplete; Parse does not itself wait for more data.
func Parse(buf []byte) (*Request, error) {
	headerEnd := indexHeaderEnd(buf)
	if headerEnd < 0 {
		return nil, errs.New(errs.KindParse, "wire.Parse", errNoHeaderEnd)
	}

	if !utf8.Valid(buf[:headerEnd]) {
		return nil, errs.New(errs.KindParse, "wire.Parse", errNotUTF8)
	}

	lines := strings.Split(string(buf[:headerEnd]), "\r\n")
	if len(lines) == 0 {
		return nil, errs.New(errs.KindParse, "wire.Parse", errNoRequestLine)
	}

	method, path, query, proto, err := parseRequestLine(lines[0])
	if err != nil {
		return nil, err
	}

	h := headers.New()
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		if err := parseHeaderLine(h, line); err != nil {
			return nil, err
		}
	}

	body := append([]byte(nil), buf[headerEnd+4:]...)

	return newRequest(method, path, query, proto, h, body), nil
}

func parseRequestLine(line string) (Method, string, map[string]string, string, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", "", nil, "", errs.New(errs.KindParse, "wire.parseRequestLine", errRequestLineFields)
	}

	method, ok := ParseMethod(fields[0])
	if !ok {
		return "", "", nil, "", errs.New(errs.KindParse, "wire.parseRequestLine", errUnknownMethod)
	}

	target := fields[1]
	path := target
	query := map[string]string{}
	if idx := strings.IndexByte(target, '?'); idx >= 0 {
		path = target[:idx]
		query = parseQuery(target[idx+1:])
	}

	proto := fields[2]

	return method, path, query, proto, nil
}

func parseHeaderLine(h *headers.Headers, line string) error {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return errs.New(errs.KindParse, "wire.parseHeaderLine", errHeaderLine)
	}
	name := strings.ToLower(strings.TrimSpace(line[:idx]))
	value := strings.TrimSpace(line[idx+1:])
	h.Add(name, value)
	return nil
}

// indexHeaderEnd finds the start of the CRLFCRLF sequence, or -1.
func indexHeaderEnd(buf []byte) int {
	return bytes.Index(buf, crlfcrlf)
}
