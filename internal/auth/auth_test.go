package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mintToken(t *testing.T, secret []byte, subject string, expiry time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("minting token: %v", err)
	}
	return token
}

func TestVerifyRequest(t *testing.T) {
	secret := []byte("auth-secret")
	v := NewTokenVerifier(secret)

	r := httptest.NewRequest(http.MethodPost, "/uploads", nil)
	r.Header.Set("Authorization", "Bearer "+mintToken(t, secret, "alice", time.Hour))

	subject, err := v.VerifyRequest(r)
	if err != nil {
		t.Fatalf("VerifyRequest: %v", err)
	}
	if subject != "alice" {
		t.Errorf("subject = %q, want alice", subject)
	}
}

func TestVerifyRequestFailures(t *testing.T) {
	secret := []byte("auth-secret")
	v := NewTokenVerifier(secret)

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"empty token", "Bearer "},
		{"garbage token", "Bearer not.a.jwt"},
		{"wrong key", "Bearer " + mintToken(t, []byte("other-secret"), "alice", time.Hour)},
		{"expired", "Bearer " + mintToken(t, secret, "alice", -time.Hour)},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodPost, "/uploads", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		if _, err := v.VerifyRequest(r); err == nil {
			t.Errorf("%s: VerifyRequest succeeded, want error", tc.name)
		}
	}
}

func TestMiddleware(t *testing.T) {
	secret := []byte("auth-secret")
	var gotSubject string
	handler := Middleware(NewTokenVerifier(secret))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	// Authenticated request passes through with the subject in context.
	r := httptest.NewRequest(http.MethodPost, "/uploads", nil)
	r.Header.Set("Authorization", "Bearer "+mintToken(t, secret, "bob", time.Hour))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("authenticated request status = %d, want 204", w.Code)
	}
	if gotSubject != "bob" {
		t.Errorf("subject in context = %q, want bob", gotSubject)
	}

	// Unauthenticated request is rejected before the handler runs.
	r = httptest.NewRequest(http.MethodPost, "/uploads", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request status = %d, want 401", w.Code)
	}
}
