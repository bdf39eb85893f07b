package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/microgw/internal/auth/jwt"
	"github.com/vyrodovalexey/microgw/internal/observability"
)

func observedLogger() (observability.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return observability.NewZapLogger(zap.New(core)), logs
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var fromCtx string
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) {
		fromCtx = observability.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, fromCtx)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "client-id")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "client-id", w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("a", 500))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36, "oversized ids are replaced")
}

func TestLogging(t *testing.T) {
	gin.SetMode(gin.TestMode)

	logger, logs := observedLogger()
	r := gin.New()
	r.Use(RequestID(), Logging(logger, "/actuator/health"))
	r.GET("/api/order", func(c *gin.Context) {
		SetRoute(c, "orders")
		c.Status(http.StatusBadGateway)
	})
	r.GET("/actuator/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/order", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/actuator/health", nil))

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "orders", fields["route"])
	assert.Equal(t, int64(http.StatusBadGateway), fields["status"])
	assert.NotEmpty(t, fields["request_id"])
}

func TestLogging_Subject(t *testing.T) {
	gin.SetMode(gin.TestMode)

	logger, logs := observedLogger()
	r := gin.New()
	r.Use(Logging(logger))
	r.GET("/api/order", func(c *gin.Context) {
		ctx := jwt.ContextWithPrincipal(c.Request.Context(), &jwt.Principal{Subject: "alice"})
		c.Request = c.Request.WithContext(ctx)
		c.Status(http.StatusOK)
	})
	r.GET("/api/public", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/order", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/public", nil))

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "alice", entries[0].ContextMap()["subject"])
	assert.NotContains(t, entries[1].ContextMap(), "subject")
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	logger, logs := observedLogger()
	r := gin.New()
	r.Use(Recovery(logger))
	r.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal_error","message":"An unexpected error occurred"}`, w.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)

	m := observability.NewMetrics("test")
	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/api/order", func(c *gin.Context) {
		SetRoute(c, "orders")
		c.Status(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/order", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	body := scrape(t, m)
	assert.Contains(t, body, `test_requests_total{method="GET",route="orders",status="200"} 1`)
	assert.Contains(t, body, `test_requests_total{method="GET",route="unmatched",status="404"} 1`)
	assert.Contains(t, body, "test_active_requests 0")
}

func scrape(t *testing.T, m *observability.Metrics) string {
	t.Helper()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestTracing_DisabledTracerStillServes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Tracing(nil))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
