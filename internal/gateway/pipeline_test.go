package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/vyrodovalexey/microgw/internal/config"
	"github.com/vyrodovalexey/microgw/internal/observability"
)

func newGateway(t *testing.T, cfg *config.GatewayConfig, opts ...Option) *Gateway {
	t.Helper()

	g, err := New(cfg, opts...)
	require.NoError(t, err)
	return g
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	assert.NotEmpty(t, body.Message)
	return body.Error
}

func TestPipeline_UnknownRouteNeverContactsBackend(t *testing.T) {
	be := newBackend(t, okHandler)
	g := newGateway(t, testConfig(be.URL, 3))

	for _, path := range []string{"/api/orders", "/api/inventory/1", "/", "/api"} {
		w := serve(g, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, "not_found", errorCode(t, w))
	}
	assert.Zero(t, be.Hits())
}

func TestPipeline_ProtectedRouteWithoutCredential(t *testing.T) {
	be := newBackend(t, okHandler)
	s := newSigner(t)
	g := newGateway(t, testConfig(be.URL, 3), WithAuthenticator(s.validator(t, clock.RealClock{})))

	w := serve(g, httptest.NewRequest(http.MethodPost, "/api/order", strings.NewReader(`{"sku":"a"}`)))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "unauthorized", errorCode(t, w))
	assert.Zero(t, be.Hits())
}

func TestPipeline_InvalidCredentials(t *testing.T) {
	be := newBackend(t, okHandler)
	s := newSigner(t)
	other := newSigner(t)
	g := newGateway(t, testConfig(be.URL, 3), WithAuthenticator(s.validator(t, clock.RealClock{})))

	now := time.Now()
	tests := []struct {
		name   string
		header string
	}{
		{name: "expired", header: "Bearer " + s.token(t, "alice", now.Add(-time.Second))},
		{name: "foreign key", header: "Bearer " + other.token(t, "alice", now.Add(time.Hour))},
		{name: "garbage", header: "Bearer not.a.jwt"},
		{name: "wrong scheme", header: "Basic YWxpY2U6c2VjcmV0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/order/1", nil)
			req.Header.Set("Authorization", tt.header)
			w := serve(g, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, `Bearer error="invalid_token"`, w.Header().Get("WWW-Authenticate"))
			assert.Equal(t, "invalid_token", errorCode(t, w))
			assert.NotContains(t, w.Body.String(), "signature")
		})
	}
	assert.Zero(t, be.Hits())
}

func TestPipeline_NoAuthenticatorFailsClosed(t *testing.T) {
	be := newBackend(t, okHandler)
	g := newGateway(t, testConfig(be.URL, 3))

	req := httptest.NewRequest(http.MethodGet, "/api/order", nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := serve(g, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, be.Hits())
}

func TestPipeline_AuthenticatedPassthrough(t *testing.T) {
	be := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Connection", "X-Internal")
		w.Header().Set("X-Internal", "secret")
		w.Header().Set("Keep-Alive", "timeout=5")
		w.Header().Set("X-Order-Id", "42")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":42}`))
	})
	s := newSigner(t)
	core, logs := observer.New(zapcore.InfoLevel)
	g := newGateway(t, testConfig(be.URL, 3),
		WithAuthenticator(s.validator(t, clock.RealClock{})),
		WithLogger(observability.NewZapLogger(zap.New(core))),
	)

	token := s.token(t, "alice", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodPost, "/api/order/items?draft=true", strings.NewReader(`{"sku":"a"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Authenticated-Subject", "mallory")
	w := serve(g, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":42}`, w.Body.String())
	assert.Equal(t, "42", w.Header().Get("X-Order-Id"))
	assert.Empty(t, w.Header().Get("X-Internal"))
	assert.Empty(t, w.Header().Get("Keep-Alive"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	got, body := be.LastRequest()
	require.NotNil(t, got)
	assert.Equal(t, "/api/order/items", got.URL.Path)
	assert.Equal(t, "draft=true", got.URL.RawQuery)
	assert.Equal(t, `{"sku":"a"}`, string(body))
	assert.Equal(t, "alice", got.Header.Get("X-Authenticated-Subject"))
	assert.Equal(t, "Bearer "+token, got.Header.Get("Authorization"))
	assert.Equal(t, int64(1), be.Hits())

	access := logs.FilterMessage("request completed").All()
	require.Len(t, access, 1)
	assert.Equal(t, "alice", access[0].ContextMap()["subject"])
}

func TestPipeline_PublicRouteStripsSubjectHeader(t *testing.T) {
	be := newBackend(t, okHandler)
	g := newGateway(t, testConfig(be.URL, 3))

	req := httptest.NewRequest(http.MethodGet, "/api/public/catalog", nil)
	req.Header.Set("X-Authenticated-Subject", "mallory")
	w := serve(g, req)

	require.Equal(t, http.StatusOK, w.Code)
	got, _ := be.LastRequest()
	assert.Empty(t, got.Header.Get("X-Authenticated-Subject"))
}

func TestPipeline_RetryBoundThenExhausted(t *testing.T) {
	be := newBackend(t, statusHandler(http.StatusInternalServerError))
	g := newGateway(t, testConfig(be.URL, 3))

	w := serve(g, httptest.NewRequest(http.MethodGet, "/api/public", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "service_unavailable", errorCode(t, w))
	assert.Equal(t, int64(4), be.Hits())
}

func TestPipeline_ClientErrorsPassThroughWithoutRetry(t *testing.T) {
	be := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("duplicate order"))
	})
	g := newGateway(t, testConfig(be.URL, 3))

	w := serve(g, httptest.NewRequest(http.MethodPost, "/api/public", strings.NewReader("{}")))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate order", w.Body.String())
	assert.Equal(t, int64(1), be.Hits())
}

func TestPipeline_UpstreamFailures(t *testing.T) {
	slow := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{name: "timeout", target: slow.URL, status: http.StatusGatewayTimeout, code: "gateway_timeout"},
		{name: "unreachable", target: closedURL(t), status: http.StatusBadGateway, code: "bad_gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGateway(t, testConfig(tt.target, 0))

			w := serve(g, httptest.NewRequest(http.MethodGet, "/api/public", nil))
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
}

func TestPipeline_ServerErrorPassesThroughWithoutRetries(t *testing.T) {
	be := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})
	g := newGateway(t, testConfig(be.URL, 0))

	w := serve(g, httptest.NewRequest(http.MethodGet, "/api/public", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "boom", w.Body.String())
	assert.Equal(t, int64(1), be.Hits())
}

func TestPipeline_BreakerLifecycle(t *testing.T) {
	var failing atomic.Bool
	be := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	clk := clocktesting.NewFakeClock(time.Now())
	g := newGateway(t, testConfig(be.URL, 0), WithClock(clk))
	call := func() int {
		return serve(g, httptest.NewRequest(http.MethodGet, "/api/public", nil)).Code
	}

	// Six successes then four failures: 4/10 stays closed.
	for i := 0; i < 6; i++ {
		require.Equal(t, http.StatusOK, call())
	}
	failing.Store(true)
	for i := 0; i < 4; i++ {
		require.Equal(t, http.StatusInternalServerError, call())
	}
	require.Equal(t, "CLOSED", g.BreakerStats()[0].State)

	// The fifth failure evicts a success: 5/10 opens.
	require.Equal(t, http.StatusInternalServerError, call())
	require.Equal(t, "OPEN", g.BreakerStats()[0].State)
	require.Equal(t, int64(11), be.Hits())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusServiceUnavailable, call())
	}
	assert.Equal(t, int64(11), be.Hits())

	clk.Step(29 * time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, call())
	assert.Equal(t, int64(11), be.Hits())

	// One probe once the wait has elapsed; success closes with a fresh window.
	clk.Step(time.Second)
	failing.Store(false)
	assert.Equal(t, http.StatusOK, call())
	assert.Equal(t, int64(12), be.Hits())
	assert.Equal(t, "CLOSED", g.BreakerStats()[0].State)

	failing.Store(true)
	assert.Equal(t, http.StatusInternalServerError, call())
	assert.Equal(t, "CLOSED", g.BreakerStats()[0].State)
}

func TestPipeline_CORSPreflightShortCircuits(t *testing.T) {
	be := newBackend(t, okHandler)
	g := newGateway(t, testConfig(be.URL, 3))

	for _, path := range []string{"/api/order", "/not/routed"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		req.Header.Set("Origin", "http://localhost:4200")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "authorization,content-type")
		w := serve(g, req)

		assert.Equal(t, http.StatusNoContent, w.Code, path)
		assert.Equal(t, "http://localhost:4200", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "authorization,content-type", w.Header().Get("Access-Control-Allow-Headers"))
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/order", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	assert.Equal(t, http.StatusForbidden, serve(g, req).Code)

	assert.Zero(t, be.Hits())
}

func TestPipeline_CORSHeadersOnProxiedResponse(t *testing.T) {
	be := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
	})
	g := newGateway(t, testConfig(be.URL, 3))

	req := httptest.NewRequest(http.MethodGet, "/api/public", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	w := serve(g, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:4200", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestPipeline_BodyTooLarge(t *testing.T) {
	be := newBackend(t, okHandler)
	cfg := testConfig(be.URL, 3)
	cfg.Server.MaxBodyBytes = 8
	g := newGateway(t, cfg)

	w := serve(g, httptest.NewRequest(http.MethodPost, "/api/public", strings.NewReader("0123456789")))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, be.Hits())
}

func TestPipeline_Metrics(t *testing.T) {
	be := newBackend(t, okHandler)
	m := observability.NewMetrics("gw")
	g := newGateway(t, testConfig(be.URL, 3), WithMetrics(m, "gw"))

	serve(g, httptest.NewRequest(http.MethodGet, "/api/public", nil))
	serve(g, httptest.NewRequest(http.MethodGet, "/api/order", nil))
	serve(g, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	w := serve(g, httptest.NewRequest(http.MethodGet, PrometheusPath, nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()

	assert.Contains(t, body, `gw_requests_total{method="GET",route="public",status="200"} 1`)
	assert.Contains(t, body, `gw_rejections_total{reason="unauthenticated",route="orders"} 1`)
	assert.Contains(t, body, `gw_rejections_total{reason="route_not_found",route="unmatched"} 1`)
	assert.Contains(t, body, "gw_proxy_upstream_attempts_total")
	assert.Contains(t, body, "gw_circuit_breaker_state")
}
