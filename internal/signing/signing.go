// Package signing produces and verifies signed blob handles. A handle is an
// HMAC-signed token over a blob id; holders can retrieve the blob through the
// API without any further dependency on the upload subsystem.
package signing

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidHandle is returned when a handle fails verification.
var ErrInvalidHandle = errors.New("invalid blob handle")

// claims are the signed handle's claims: the registered set plus the blob id.
type claims struct {
	jwt.RegisteredClaims
	BlobID string `json:"blob_id"`
}

// Signer signs and verifies blob handles with an HMAC key.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner creates a Signer with the given key. A zero ttl means handles
// never expire.
func NewSigner(secret []byte, ttl time.Duration) *Signer {
	return &Signer{secret: secret, ttl: ttl}
}

// Sign returns a signed handle for the given blob id.
func (s *Signer) Sign(blobID string) (string, error) {
	c := claims{BlobID: blobID}
	if s.ttl != 0 {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(s.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing blob handle: %w", err)
	}
	return signed, nil
}

// Verify checks the handle's signature and expiry and returns the blob id it
// refers to.
func (s *Signer) Verify(handle string) (string, error) {
	c := &claims{}
	token, err := jwt.ParseWithClaims(handle, c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid || c.BlobID == "" {
		return "", ErrInvalidHandle
	}
	return c.BlobID, nil
}
