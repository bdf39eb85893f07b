package jwt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jwksHandler(t *testing.T, keys ...testKey) http.HandlerFunc {
	t.Helper()

	body, err := json.Marshal(newKeySet(t, keys...))
	require.NoError(t, err)

	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

func TestHTTPFetcher_FetchKeys(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(jwksHandler(t, newTestKey(t, "k1"), newTestKey(t, "k2")))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, WithHTTPClient(srv.Client()))
	set, err := f.FetchKeys(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, set.Len())
	_, ok := set.LookupKeyID("k2")
	assert.True(t, ok)
}

func TestHTTPFetcher_Discovery(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var discoveries atomic.Int32
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		discoveries.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   srv.URL,
			"jwks_uri": srv.URL + "/certs",
		})
	})
	mux.Handle("/certs", jwksHandler(t, newTestKey(t, "k1")))

	f := NewHTTPFetcher("", WithDiscovery(srv.URL+"/"), WithHTTPClient(srv.Client()))
	for i := 0; i < 2; i++ {
		set, err := f.FetchKeys(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, set.Len())
	}
	assert.Equal(t, int32(1), discoveries.Load(), "discovery document is read once")
}

func TestHTTPFetcher_DiscoveryIssuerMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   "https://someone-else.example.com",
			"jwks_uri": "https://someone-else.example.com/certs",
		})
	}))
	defer srv.Close()

	f := NewHTTPFetcher("", WithDiscovery(srv.URL), WithHTTPClient(srv.Client()))
	_, err := f.FetchKeys(context.Background())
	require.ErrorIs(t, err, ErrKeySetUnavailable)
	assert.Contains(t, err.Error(), "does not match")
}

func TestHTTPFetcher_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("<html>"))
			},
		},
		{
			name: "empty set",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"keys":[]}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewHTTPFetcher(srv.URL, WithHTTPClient(srv.Client())).FetchKeys(context.Background())
			assert.ErrorIs(t, err, ErrKeySetUnavailable)
		})
	}
}

func TestHTTPFetcher_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, WithHTTPClient(srv.Client()))
	for i := 0; i < fetchBreakerFailures; i++ {
		_, err := f.FetchKeys(context.Background())
		require.Error(t, err)
	}

	_, err := f.FetchKeys(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, ErrKeySetUnavailable)
	assert.Equal(t, int32(fetchBreakerFailures), hits.Load())
}
