package jwt

import (
	"context"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Principal is the identity carried by a validated token. It lives for one request.
type Principal struct {
	Subject   string
	Issuer    string
	Roles     []string
	Scopes    []string
	ExpiresAt time.Time
}

// claims is the claim set read from tokens. Roles are taken from the
// Keycloak realm_access claim and from a flat roles claim; scopes from the
// space separated scope claim and the scp list.
type claims struct {
	gojwt.RegisteredClaims
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	Roles []string           `json:"roles"`
	Scope string             `json:"scope"`
	Scp   gojwt.ClaimStrings `json:"scp"`
}

func (c *claims) principal() *Principal {
	p := &Principal{
		Subject: c.Subject,
		Issuer:  c.Issuer,
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}

	seen := make(map[string]bool)
	for _, r := range append(append([]string{}, c.RealmAccess.Roles...), c.Roles...) {
		if r != "" && !seen[r] {
			seen[r] = true
			p.Roles = append(p.Roles, r)
		}
	}
	p.Scopes = append(strings.Fields(c.Scope), c.Scp...)
	return p
}

type principalKey struct{}

// ContextWithPrincipal stores p in ctx.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by ContextWithPrincipal.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
