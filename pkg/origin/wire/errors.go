package wire

import "errors"

// Parse error sentinels, consulted by errs.New at the call site rather
// than compared directly by callers.
var (
	errNoHeaderEnd       = errors.New("wire: no CRLFCRLF header terminator found")
	errNotUTF8           = errors.New("wire: header block is not valid UTF-8")
	errNoRequestLine     = errors.New("wire: empty request line")
	errRequestLineFields = errors.New("wire: request line must have exactly three fields")
	errUnknownMethod     = errors.New("wire: unknown or unsupported method")
	errHeaderLine        = errors.New("wire: header line missing ':'")

	errChunkMalformed = errors.New("wire: malformed chunk framing")
	errChunkHex       = errors.New("wire: malformed chunk size")
	errChunkShort     = errors.New("wire: short chunk read")
)
