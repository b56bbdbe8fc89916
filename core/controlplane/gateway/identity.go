package gateway

import (
	"net"
	"net/http"
	"strings"
)

// clientIP resolves the caller's address. The first hop of x-forwarded-for
// wins when the edge sets it; otherwise the socket peer is used.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("x-forwarded-for"); fwd != "" {
		first := fwd
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			first = fwd[:i]
		}
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
