package auth

import (
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// TokenVerifier is the part of Service the resolver depends on.
type TokenVerifier interface {
	VerifyToken(token string) (*Claims, bool)
}

// Resolver turns a request into an identity using only the signed token.
// It never touches the database.
type Resolver struct {
	verifier TokenVerifier
}

func NewResolver(verifier TokenVerifier) *Resolver {
	return &Resolver{verifier: verifier}
}

// Resolve returns the caller's identity, or false for anonymous requests.
// A missing or malformed Authorization header is anonymous, not an error.
func (r *Resolver) Resolve(req *http.Request) (Identity, bool) {
	token, ok := BearerToken(req.Header.Get("Authorization"))
	if !ok {
		return Identity{}, false
	}
	return r.ResolveToken(token)
}

func (r *Resolver) ResolveToken(token string) (Identity, bool) {
	claims, ok := r.verifier.VerifyToken(token)
	if !ok {
		return Identity{}, false
	}
	return claims.Identity, true
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", false
	}
	return token, true
}
