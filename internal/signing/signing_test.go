package signing

import (
	"errors"
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	signer := NewSigner([]byte("test-secret"), 0)

	handle, err := signer.Sign("blob-123")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	id, err := signer.Verify(handle)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id != "blob-123" {
		t.Errorf("Verify returned %q, want blob-123", id)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	signer := NewSigner([]byte("test-secret"), 0)
	other := NewSigner([]byte("different-secret"), 0)

	handle, err := signer.Sign("blob-123")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := other.Verify(handle); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Verify with wrong key: err = %v, want ErrInvalidHandle", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	signer := NewSigner([]byte("test-secret"), 0)

	for _, handle := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := signer.Verify(handle); !errors.Is(err, ErrInvalidHandle) {
			t.Errorf("Verify(%q): err = %v, want ErrInvalidHandle", handle, err)
		}
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	signer := NewSigner([]byte("test-secret"), -time.Minute)

	handle, err := signer.Sign("blob-123")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := signer.Verify(handle); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Verify expired handle: err = %v, want ErrInvalidHandle", err)
	}
}
