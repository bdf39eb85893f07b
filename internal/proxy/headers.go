package proxy

import (
	"net"
	"net/http"
	"net/textproto"
	"strings"
)

// hopHeaders are connection-level headers that are never forwarded (RFC 7230
// section 6.1), in either direction.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RemoveHopHeaders deletes hop-by-hop headers from h, including any header
// named in a Connection header.
func RemoveHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = textproto.TrimString(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// OutboundHeader returns the headers to send upstream for r: a copy without
// hop-by-hop headers, with X-Forwarded-For, X-Forwarded-Proto and
// X-Forwarded-Host set.
func OutboundHeader(r *http.Request) http.Header {
	h := r.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	RemoveHopHeaders(h)

	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := h.Values("X-Forwarded-For"); len(prior) > 0 {
			clientIP = strings.Join(prior, ", ") + ", " + clientIP
		}
		h.Set("X-Forwarded-For", clientIP)
	}

	if r.TLS != nil {
		h.Set("X-Forwarded-Proto", "https")
	} else {
		h.Set("X-Forwarded-Proto", "http")
	}
	h.Set("X-Forwarded-Host", r.Host)

	return h
}

// CopyResponseHeader copies src into dst, leaving out hop-by-hop headers.
// CORS headers the gateway already set on dst are kept over the backend's,
// and Vary values are merged.
func CopyResponseHeader(dst, src http.Header) {
	h := src.Clone()
	RemoveHopHeaders(h)
	for k, vv := range h {
		switch {
		case k == "Vary":
			dst[k] = append(dst[k], vv...)
		case strings.HasPrefix(k, "Access-Control-") && len(dst[k]) > 0:
		default:
			dst[k] = vv
		}
	}
}
