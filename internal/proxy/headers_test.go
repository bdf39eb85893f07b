package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoveHopHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("Connection", "keep-alive, X-Internal")
	h.Set("X-Internal", "1")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Upgrade", "websocket")
	h.Set("Content-Type", "application/json")

	RemoveHopHeaders(h)

	assert.Empty(t, h.Get("Connection"))
	assert.Empty(t, h.Get("X-Internal"))
	assert.Empty(t, h.Get("Transfer-Encoding"))
	assert.Empty(t, h.Get("Upgrade"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
}

func TestOutboundHeader_AppendsForwardedFor(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/api/order", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	r.Header.Set("X-Forwarded-For", "203.0.113.9")

	h := OutboundHeader(r)
	assert.Equal(t, "203.0.113.9, 10.0.0.7", h.Get("X-Forwarded-For"))
	assert.Equal(t, "203.0.113.9", r.Header.Get("X-Forwarded-For"), "inbound headers are not modified")
}

func TestCopyResponseHeader(t *testing.T) {
	t.Parallel()

	src := http.Header{}
	src.Set("Keep-Alive", "timeout=5")
	src.Add("Set-Cookie", "a=1")
	src.Add("Set-Cookie", "b=2")

	dst := http.Header{}
	CopyResponseHeader(dst, src)

	assert.Empty(t, dst.Get("Keep-Alive"))
	assert.Equal(t, []string{"a=1", "b=2"}, dst.Values("Set-Cookie"))
}

func TestCopyResponseHeader_GatewayCORSWins(t *testing.T) {
	t.Parallel()

	src := http.Header{}
	src.Set("Access-Control-Allow-Origin", "*")
	src.Set("Access-Control-Max-Age", "60")
	src.Set("Vary", "Accept-Encoding")

	dst := http.Header{}
	dst.Set("Access-Control-Allow-Origin", "https://shop.example.com")
	dst.Set("Vary", "Origin")
	CopyResponseHeader(dst, src)

	assert.Equal(t, "https://shop.example.com", dst.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "60", dst.Get("Access-Control-Max-Age"))
	assert.Equal(t, []string{"Origin", "Accept-Encoding"}, dst.Values("Vary"))
}
