package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCompleteNoBody(t *testing.T) {
	buf := []byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.True(t, IsComplete(buf))
}

func TestIsCompleteWaitsForHeaders(t *testing.T) {
	buf := []byte("GET / HTTP/1.1\r\nHost: x")
	assert.False(t, IsComplete(buf))
}

func TestIsCompleteWaitsForBody(t *testing.T) {
	buf := []byte("POST / HTTP/1.1\r\nContent-Length: 5\r\n\r\nhel")
	assert.False(t, IsComplete(buf))
	buf2 := []byte("POST / HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")
	assert.True(t, IsComplete(buf2))
}

func TestIsCompleteChunked(t *testing.T) {
	buf := []byte("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0")
	assert.False(t, IsComplete(buf))
	buf2 := []byte("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n")
	assert.True(t, IsComplete(buf2))
}

func TestParseBasicGet(t *testing.T) {
	buf := []byte("GET /index.html?a=1&b=two HTTP/1.1\r\nHost: x\r\n\r\n")
	req, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, MethodGET, req.Method)
	assert.Equal(t, "/index.html", req.Path)
	assert.Equal(t, "1", req.Query["a"])
	assert.Equal(t, "two", req.Query["b"])
	assert.Equal(t, "x", req.Headers.Get("host"))
	assert.Equal(t, "HTTP/1.1", req.Proto)
	assert.Empty(t, req.Body)
}

func TestParseQueryPercentDecoding(t *testing.T) {
	buf := []byte("GET /s?q=hello%20world&bad=%zz HTTP/1.1\r\nHost: x\r\n\r\n")
	req, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", req.Query["q"])
	assert.Equal(t, "%zz", req.Query["bad"])
}

func TestParseKeyOnlyQuery(t *testing.T) {
	buf := []byte("GET /s?flag HTTP/1.1\r\nHost: x\r\n\r\n")
	req, err := Parse(buf)
	require.NoError(t, err)
	val, ok := req.Query["flag"]
	assert.True(t, ok)
	assert.Equal(t, "", val)
}

func TestParseBody(t *testing.T) {
	buf := []byte("POST /up HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")
	req, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), req.Body)
}

func TestParseMissingTokenFails(t *testing.T) {
	buf := []byte("GET / \r\nHost: x\r\n\r\n")
	_, err := Parse(buf)
	assert.Error(t, err)
}

func TestParseUnknownMethodFails(t *testing.T) {
	buf := []byte("FROB / HTTP/1.1\r\nHost: x\r\n\r\n")
	_, err := Parse(buf)
	assert.Error(t, err)
}

func TestParseMethodCaseInsensitive(t *testing.T) {
	buf := []byte("get / HTTP/1.1\r\nHost: x\r\n\r\n")
	req, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, MethodGET, req.Method)
}

func TestParseDuplicateHeadersAppend(t *testing.T) {
	buf := []byte("GET / HTTP/1.1\r\nX-A: 1\r\nX-A: 2\r\n\r\n")
	req, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, req.Headers.GetAll("X-A"))
}

func TestDecodeChunked(t *testing.T) {
	body := []byte("5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n")
	out, err := DecodeChunked(body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))
}

func TestDecodeChunkedMalformedHex(t *testing.T) {
	body := []byte("zz\r\nhello\r\n0\r\n\r\n")
	_, err := DecodeChunked(body)
	assert.Error(t, err)
}

func TestResponseToBytes(t *testing.T) {
	resp := NewResponse(200).WithContentType("text/html; charset=utf-8").WithBody([]byte("hello"))
	b := resp.ToBytes()
	s := string(b)
	assert.Contains(t, s, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, s, "content-length: 5\r\n")
	assert.Contains(t, s, "content-type: text/html; charset=utf-8\r\n")
	assert.Contains(t, s, "\r\n\r\nhello")
}

func TestResponseStripBodyKeepsContentLength(t *testing.T) {
	resp := NewResponse(200).WithBody([]byte("hello")).StripBody()
	assert.Empty(t, resp.Body)
	assert.Equal(t, "5", resp.Headers.Get("content-length"))
}

// Request has no serializer and Response has no parser, so a
// parse(serialize(R)) round trip cannot be run here; this test checks
// the serializer's framing instead.
func TestResponseToBytesSingleBlankLineBeforeBody(t *testing.T) {
	resp := NewResponse(200).WithContentType("text/plain").WithBody([]byte("ok"))
	b := resp.ToBytes()

	// Reinterpret the response bytes as a request-shaped buffer isn't
	// meaningful (different start-line grammar); instead verify the
	// serializer always emits exactly one blank line between headers and
	// body, which is what Parse relies on to find the boundary.
	idx := -1
	for i := 0; i+3 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' && b[i+2] == '\r' && b[i+3] == '\n' {
			idx = i
			break
		}
	}
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "ok", string(b[idx+4:]))
}
