package wire

// statusReasons is the closed set of status codes and reason phrases
// this engine supports. Response emits a (code, reason) pair rather
// than a pre-baked status-line byte blob, so the status stays
// queryable after construction.
var statusReasons = map[int]string{
	200: "OK",
	201: "Created",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	413: "Payload Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
}

// ReasonPhrase returns the reason phrase for a supported status code, or
// "" if code is outside the closed set.
func ReasonPhrase(code int) string {
	return statusReasons[code]
}

// IsSupportedStatus reports whether code is in the closed set this engine
// can emit as a status line.
func IsSupportedStatus(code int) bool {
	_, ok := statusReasons[code]
	return ok
}
