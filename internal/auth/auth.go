// Package auth verifies caller identity on the upload endpoints. Token
// minting belongs to the surrounding application; this package only checks
// that a presented bearer token was signed with the shared key.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a private type for context values set by the middleware.
type contextKey int

// subjectKey carries the authenticated subject through the request context.
const subjectKey contextKey = 0

// Verifier checks a request's credentials and returns the authenticated
// subject.
type Verifier interface {
	VerifyRequest(r *http.Request) (subject string, err error)
}

// tokenClaims are the bearer token's claims.
type tokenClaims struct {
	jwt.RegisteredClaims
}

// TokenVerifier verifies HMAC-signed bearer tokens.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a TokenVerifier with the given HMAC key.
func NewTokenVerifier(secret []byte) *TokenVerifier {
	return &TokenVerifier{secret: secret}
}

// VerifyRequest checks the Authorization header for a valid bearer token and
// returns its subject.
func (v *TokenVerifier) VerifyRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", fmt.Errorf("missing bearer token")
	}

	c := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parsing bearer token: %w", err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("invalid bearer token")
	}
	return c.Subject, nil
}

// SubjectFromContext returns the authenticated subject set by Middleware,
// or "" if the request was not authenticated.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey).(string)
	return subject
}

// Middleware returns HTTP middleware that rejects unauthenticated requests
// with 401 and stores the verified subject in the request context.
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := v.VerifyRequest(r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"Unauthorized","message":"Authentication required"}`))
				return
			}
			ctx := context.WithValue(r.Context(), subjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
