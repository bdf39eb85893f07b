package jwt

import (
	"errors"
	"fmt"
)

// Kind classifies why a token was rejected.
type Kind int

const (
	// KindMalformed covers tokens that cannot be parsed or lack required claims.
	KindMalformed Kind = iota
	// KindExpired covers tokens outside their validity window.
	KindExpired
	// KindBadSignature covers signatures that do not verify, including when
	// no matching key can be obtained.
	KindBadSignature
	// KindUntrustedIssuer covers tokens from any issuer but the configured one.
	KindUntrustedIssuer
)

// String returns the kind name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "MALFORMED"
	case KindExpired:
		return "EXPIRED"
	case KindBadSignature:
		return "BAD_SIGNATURE"
	case KindUntrustedIssuer:
		return "UNTRUSTED_ISSUER"
	default:
		return "UNKNOWN"
	}
}

// Sentinel errors for key resolution.
var (
	// ErrKeyNotFound indicates that no key in the issuer's set matches the token.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrKeySetUnavailable indicates that no usable key set could be obtained.
	ErrKeySetUnavailable = errors.New("key set unavailable")

	// ErrKeyAlgorithmMismatch indicates that the key is bound to another algorithm.
	ErrKeyAlgorithmMismatch = errors.New("key algorithm does not match token")
)

// ValidationError is returned for every rejected token.
type ValidationError struct {
	Kind  Kind
	Cause error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("token rejected (%s): %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("token rejected (%s)", e.Kind)
}

// Unwrap returns the underlying cause.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Is matches another *ValidationError of the same kind.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Cause == nil && t.Kind == e.Kind
}

func newError(kind Kind, cause error) *ValidationError {
	return &ValidationError{Kind: kind, Cause: cause}
}

// Targets for errors.Is.
var (
	ErrMalformed       = &ValidationError{Kind: KindMalformed}
	ErrExpired         = &ValidationError{Kind: KindExpired}
	ErrBadSignature    = &ValidationError{Kind: KindBadSignature}
	ErrUntrustedIssuer = &ValidationError{Kind: KindUntrustedIssuer}
)

// KindOf returns the kind of a validation error.
func KindOf(err error) (Kind, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	return 0, false
}
