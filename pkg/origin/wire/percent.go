package wire

import "strings"

// percentDecode decodes a percent-encoded string: '+' becomes a space,
// "%XX" becomes the byte XX for two valid hex digits, and malformed
// escape sequences are preserved literally rather than rejected.
func percentDecode(s string) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '+':
			b.WriteByte(' ')
		case '%':
			if i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
				b.WriteByte(hexVal(s[i+1])<<4 | hexVal(s[i+2]))
				i += 2
			} else {
				b.WriteByte('%')
			}
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// parseQuery decodes a raw query string ("k=v&k2=v2") into a map, last
// writer wins on duplicate keys, key-only pairs yield empty-string values.
func parseQuery(raw string) map[string]string {
	out := make(map[string]string)
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		var key, val string
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			key, val = pair[:idx], pair[idx+1:]
		} else {
			key = pair
		}
		out[percentDecode(key)] = percentDecode(val)
	}
	return out
}
