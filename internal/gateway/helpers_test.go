package gateway

import (
	"crypto/rand"
	"crypto/rsa"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
	"k8s.io/utils/ptr"

	"github.com/vyrodovalexey/microgw/internal/auth/jwt"
	"github.com/vyrodovalexey/microgw/internal/config"
)

const (
	testIssuer = "https://idp.example.com/realms/shop"
	testKid    = "gw-test"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// backend is an httptest server that counts hits and records the last request.
type backend struct {
	*httptest.Server
	hits atomic.Int64

	mu      sync.Mutex
	last    *http.Request
	lastRaw []byte
}

func newBackend(t *testing.T, h http.HandlerFunc) *backend {
	t.Helper()

	b := &backend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.last = r.Clone(r.Context())
		b.lastRaw = body
		b.mu.Unlock()
		h(w, r)
	}))
	t.Cleanup(b.Close)
	return b
}

func (b *backend) Hits() int64 { return b.hits.Load() }

func (b *backend) LastRequest() (*http.Request, []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.lastRaw
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func statusHandler(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	}
}

func boolPtr(b bool) *bool { return &b }

func intPtr(n int) *int { return &n }

// fastPolicy keeps retries and backoff short enough for tests.
func fastPolicy(retries int) config.BreakerPolicy {
	return config.BreakerPolicy{
		SlidingWindowSize:     ptr.To(10),
		FailureRateThreshold:  ptr.To(50.0),
		OpenStateWaitDuration: ptr.To(config.Duration(30 * time.Second)),
		CallTimeout:           ptr.To(config.Duration(300 * time.Millisecond)),
		MaxRetryAttempts:      intPtr(retries),
		RetryBackoff: config.BackoffConfig{
			Base:       ptr.To(config.Duration(time.Millisecond)),
			Multiplier: ptr.To(2.0),
			Max:        ptr.To(config.Duration(10 * time.Millisecond)),
		},
	}
}

// testConfig routes /api/order (protected) and /api/public (public) to target.
func testConfig(target string, retries int) *config.GatewayConfig {
	cfg := &config.GatewayConfig{
		Routes: []config.RouteConfig{
			{ID: "orders", PathPrefix: "/api/order", Target: target, BreakerPolicy: "fast"},
			{ID: "public", PathPrefix: "/api/public", Target: target, BreakerPolicy: "fast", AuthRequired: boolPtr(false)},
		},
		BreakerPolicies: map[string]config.BreakerPolicy{"fast": fastPolicy(retries)},
		Auth: config.AuthConfig{
			Issuer:  testIssuer,
			JWKSURL: "https://idp.example.com/realms/shop/protocol/openid-connect/certs",
		},
		CORS: config.CORSConfig{
			AllowedOrigins:   []string{"http://localhost:4200"},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		},
	}
	return cfg
}

// signer issues tokens trusted by the validator it builds.
type signer struct {
	priv *rsa.PrivateKey
	set  jwk.Set
}

func newSigner(t *testing.T) *signer {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.FromRaw(priv.Public())
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, testKid))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(key))
	return &signer{priv: priv, set: set}
}

func (s *signer) validator(t *testing.T, clk clock.PassiveClock) Authenticator {
	t.Helper()

	auth := config.AuthConfig{Issuer: testIssuer, Algorithms: []string{"RS256"}}
	cache := jwt.NewKeyCache(jwt.StaticKeys(s.set), auth, jwt.WithClock(clk))
	v, err := jwt.NewValidator(auth, cache, jwt.WithClock(clk))
	require.NoError(t, err)
	return v
}

func (s *signer) token(t *testing.T, sub string, exp time.Time) string {
	t.Helper()

	tok := gojwt.NewWithClaims(gojwt.SigningMethodRS256, gojwt.MapClaims{
		"iss":   testIssuer,
		"sub":   sub,
		"exp":   exp.Unix(),
		"iat":   exp.Add(-time.Hour).Unix(),
		"scope": "openid orders",
	})
	tok.Header["kid"] = testKid
	raw, err := tok.SignedString(s.priv)
	require.NoError(t, err)
	return raw
}

// serve runs req through g's handler.
func serve(g *Gateway, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	g.Handler().ServeHTTP(w, req)
	return w
}

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func closedURL(t *testing.T) string {
	t.Helper()
	return "http://127.0.0.1:" + strconv.Itoa(freePort(t))
}
