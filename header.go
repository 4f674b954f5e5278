package offlinecache

import (
	"net/http"
	"net/textproto"
	"strings"
)

// Request headers that could turn a fetch into a 304 or a partial response.
var conditionalHeaders = []string{
	"If-None-Match",
	"If-Modified-Since",
	"If-Match",
	"If-Unmodified-Since",
	"If-Range",
	"Range",
}

// Response headers that only make sense on one connection.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// stripForStorage removes the headers a stored copy must not carry.
// One bucket is shared by every client, so cookies set for whoever
// triggered the fetch are never replayed to anybody else.
func stripForStorage(h http.Header) {
	for _, field := range h.Values("Connection") {
		for _, name := range strings.Split(field, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for name := range h {
		if _, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(name)]; ok {
			delete(h, name)
		}
	}
	h.Del("Set-Cookie")
	h.Del("Set-Cookie2")
	h.Del("Cache-Status")
}
