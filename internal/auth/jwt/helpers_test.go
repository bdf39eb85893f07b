package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://idp.example.com/realms/shop"

type testKey struct {
	kid  string
	priv *rsa.PrivateKey
	pub  jwk.Key
}

func newTestKey(t *testing.T, kid string) testKey {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, kid))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))

	return testKey{kid: kid, priv: priv, pub: pub}
}

func newKeySet(t *testing.T, keys ...testKey) jwk.Set {
	t.Helper()

	set := jwk.NewSet()
	for _, k := range keys {
		require.NoError(t, set.AddKey(k.pub))
	}
	return set
}

func (k testKey) sign(t *testing.T, claims gojwt.MapClaims) string {
	t.Helper()

	tok := gojwt.NewWithClaims(gojwt.SigningMethodRS256, claims)
	if k.kid != "" {
		tok.Header["kid"] = k.kid
	}
	s, err := tok.SignedString(k.priv)
	require.NoError(t, err)
	return s
}

func validClaims(now time.Time) gojwt.MapClaims {
	return gojwt.MapClaims{
		"iss":   testIssuer,
		"sub":   "alice",
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Add(-time.Minute).Unix(),
		"scope": "orders:read",
		"realm_access": map[string]interface{}{
			"roles": []string{"customer"},
		},
	}
}
