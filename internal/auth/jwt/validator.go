package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/vyrodovalexey/microgw/internal/config"
	"github.com/vyrodovalexey/microgw/internal/observability"
)

// Validator verifies bearer tokens against one trusted issuer.
type Validator struct {
	issuer string
	keys   KeyResolver
	parser *gojwt.Parser
	options
}

// NewValidator creates a validator for cfg.Issuer using keys for signature
// verification. Only the algorithms in cfg.Algorithms are accepted.
func NewValidator(cfg config.AuthConfig, keys KeyResolver, opts ...Option) (*Validator, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if keys == nil {
		return nil, errors.New("key resolver is required")
	}

	algorithms := cfg.Algorithms
	if len(algorithms) == 0 {
		algorithms = []string{"RS256"}
	}

	v := &Validator{
		issuer:  cfg.Issuer,
		keys:    keys,
		options: newOptions(opts),
	}
	// exp and nbf are enforced with zero leeway. iat is informational only:
	// an issuer clock running slightly ahead must not reject fresh tokens.
	v.parser = gojwt.NewParser(
		gojwt.WithValidMethods(algorithms),
		gojwt.WithIssuer(cfg.Issuer),
		gojwt.WithExpirationRequired(),
		gojwt.WithLeeway(0),
		gojwt.WithTimeFunc(v.clock.Now),
	)
	return v, nil
}

// Issuer returns the trusted issuer.
func (v *Validator) Issuer() string {
	return v.issuer
}

// Validate verifies raw and returns its principal. Every failure is a
// *ValidationError.
func (v *Validator) Validate(ctx context.Context, raw string) (*Principal, error) {
	start := time.Now()
	p, err := v.validate(ctx, raw)

	result := "success"
	if kind, ok := KindOf(err); ok {
		result = kind.String()
	}
	v.metrics.recordValidation(result, time.Since(start))

	if err != nil {
		v.logger.Debug("token rejected",
			observability.String("reason", result),
			observability.Error(err),
		)
		return nil, err
	}
	return p, nil
}

func (v *Validator) validate(ctx context.Context, raw string) (*Principal, error) {
	if raw == "" {
		return nil, newError(KindMalformed, errors.New("empty token"))
	}

	// The issuer is checked before any key lookup so tokens from foreign
	// issuers never trigger a key set refresh.
	var unverified claims
	if _, _, err := v.parser.ParseUnverified(raw, &unverified); err != nil {
		return nil, newError(KindMalformed, err)
	}
	if unverified.Issuer != v.issuer {
		return nil, newError(KindUntrustedIssuer,
			fmt.Errorf("issuer %q is not trusted", unverified.Issuer))
	}

	var c claims
	if _, err := v.parser.ParseWithClaims(raw, &c, v.keyfunc(ctx)); err != nil {
		return nil, classify(err)
	}
	if c.Subject == "" {
		return nil, newError(KindMalformed, errors.New("token has no subject"))
	}
	return c.principal(), nil
}

func (v *Validator) keyfunc(ctx context.Context) gojwt.Keyfunc {
	return func(t *gojwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)

		key, err := v.keys.LookupKey(ctx, kid)
		if err != nil {
			return nil, err
		}

		if alg := key.Algorithm(); alg != nil && alg.String() != "" && alg.String() != t.Method.Alg() {
			return nil, fmt.Errorf("%w: key %q is bound to %s", ErrKeyAlgorithmMismatch, kid, alg)
		}

		pub, err := jwk.PublicKeyOf(key)
		if err != nil {
			return nil, fmt.Errorf("public key of %q: %w", kid, err)
		}
		var rawKey interface{}
		if err := pub.Raw(&rawKey); err != nil {
			return nil, fmt.Errorf("raw key of %q: %w", kid, err)
		}
		return rawKey, nil
	}
}

// classify maps parser errors onto rejection kinds.
func classify(err error) *ValidationError {
	switch {
	case errors.Is(err, gojwt.ErrTokenMalformed):
		return newError(KindMalformed, err)
	case errors.Is(err, gojwt.ErrTokenUnverifiable),
		errors.Is(err, gojwt.ErrTokenSignatureInvalid):
		return newError(KindBadSignature, err)
	case errors.Is(err, gojwt.ErrTokenExpired),
		errors.Is(err, gojwt.ErrTokenNotValidYet),
		errors.Is(err, gojwt.ErrTokenUsedBeforeIssued):
		return newError(KindExpired, err)
	case errors.Is(err, gojwt.ErrTokenInvalidIssuer):
		return newError(KindUntrustedIssuer, err)
	case errors.Is(err, gojwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, gojwt.ErrTokenInvalidClaims):
		return newError(KindMalformed, err)
	default:
		return newError(KindBadSignature, err)
	}
}
