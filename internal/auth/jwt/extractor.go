package jwt

import (
	"errors"
	"net/http"
	"strings"
)

// Errors returned by ExtractBearer.
var (
	ErrMissingHeader = errors.New("missing authorization header")
	ErrInvalidPrefix = errors.New("invalid authorization prefix")
)

const bearerPrefix = "Bearer "

// ExtractBearer returns the token of an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively. A header carrying a
// different scheme, or an empty token, is ErrInvalidPrefix.
func ExtractBearer(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissingHeader
	}
	if len(h) < len(bearerPrefix) || !strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrInvalidPrefix
	}
	token := strings.TrimSpace(h[len(bearerPrefix):])
	if token == "" {
		return "", ErrInvalidPrefix
	}
	return token, nil
}
