package jwt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "MALFORMED", KindMalformed.String())
	assert.Equal(t, "EXPIRED", KindExpired.String())
	assert.Equal(t, "BAD_SIGNATURE", KindBadSignature.String())
	assert.Equal(t, "UNTRUSTED_ISSUER", KindUntrustedIssuer.String())
	assert.Equal(t, "UNKNOWN", Kind(42).String())
}

func TestValidationError_Is(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", newError(KindExpired, cause))

	assert.ErrorIs(t, err, ErrExpired)
	assert.NotErrorIs(t, err, ErrMalformed)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "EXPIRED")

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindExpired, kind)

	_, ok = KindOf(cause)
	assert.False(t, ok)
}

func TestPrincipal_FromClaims(t *testing.T) {
	t.Parallel()

	c := &claims{Scope: "read write"}
	c.Subject = "alice"
	c.Issuer = "https://idp.example.com"
	c.RealmAccess.Roles = []string{"admin", "user"}
	c.Roles = []string{"user", "auditor", ""}

	p := c.principal()
	assert.Equal(t, "alice", p.Subject)
	assert.Equal(t, []string{"admin", "user", "auditor"}, p.Roles)
	assert.Equal(t, []string{"read", "write"}, p.Scopes)
	assert.True(t, p.ExpiresAt.IsZero())
}
