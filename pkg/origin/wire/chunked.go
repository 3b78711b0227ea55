package wire

import (
	"strconv"
	"strings"

	"github.com/yourusername/originserver/pkg/origin/errs"
)

// DecodeChunked decodes an RFC 7230 chunked body that has already been
// proven complete by IsComplete. The whole chunked body is already
// buffered by the time this runs, so a single pass over the slice is
// simpler and sufficient — no need for an incremental io.Reader that
// strips framing as bytes arrive.
func DecodeChunked(body []byte) ([]byte, error) {
	out := make([]byte, 0, len(body))
	i := 0
	for {
		lineEnd := indexCRLF(body, i)
		if lineEnd < 0 {
			return nil, errs.New(errs.KindParse, "wire.DecodeChunked", errChunkMalformed)
		}
		sizeLine := string(body[i:lineEnd])
		if idx := strings.IndexByte(sizeLine, ';'); idx >= 0 {
			sizeLine = sizeLine[:idx]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 16, 64)
		if err != nil || size < 0 {
			return nil, errs.New(errs.KindParse, "wire.DecodeChunked", errChunkHex)
		}

		dataStart := lineEnd + 2
		if size == 0 {
			return out, nil
		}

		dataEnd := dataStart + int(size)
		if dataEnd+2 > len(body) {
			return nil, errs.New(errs.KindParse, "wire.DecodeChunked", errChunkShort)
		}
		if body[dataEnd] != '\r' || body[dataEnd+1] != '\n' {
			return nil, errs.New(errs.KindParse, "wire.DecodeChunked", errChunkMalformed)
		}

		out = append(out, body[dataStart:dataEnd]...)
		i = dataEnd + 2
	}
}

func indexCRLF(b []byte, from int) int {
	for i := from; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}
