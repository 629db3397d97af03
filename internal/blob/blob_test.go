package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	uperr "github.com/sealbox/sealbox/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	index, err := NewIndex(filepath.Join(t.TempDir(), "blobs.db"))
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	t.Cleanup(func() { index.Close() })

	backend, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	return NewStore(index, backend)
}

func TestPutAndOpen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	info, err := store.Put(ctx, strings.NewReader("hello"), 5, "h.txt", "text/plain")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if info.ID == "" {
		t.Fatal("Put returned empty id")
	}
	if info.Size != 5 {
		t.Errorf("Size = %d, want 5", info.Size)
	}

	rc, got, err := store.Open(ctx, info.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading blob: %v", err)
	}
	if !bytes.Equal(data, []byte("hello")) {
		t.Errorf("content = %q, want %q", data, "hello")
	}
	if got.Filename != "h.txt" || got.ContentType != "text/plain" {
		t.Errorf("metadata = %q/%q, want h.txt/text/plain", got.Filename, got.ContentType)
	}
}

func TestOpenMissing(t *testing.T) {
	store := newTestStore(t)

	if _, _, err := store.Open(context.Background(), "nonexistent"); !errors.Is(err, uperr.ErrNotFound) {
		t.Errorf("Open missing blob: err = %v, want ErrNotFound", err)
	}
}

func TestIdenticalContentSharesObject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.Put(ctx, strings.NewReader("same bytes"), 10, "a.bin", "application/octet-stream")
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	b, err := store.Put(ctx, strings.NewReader("same bytes"), 10, "b.bin", "application/octet-stream")
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if a.ID == b.ID {
		t.Fatal("two records share an id")
	}

	// Deleting one record must not take the shared content with it.
	if err := store.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	rc, _, err := store.Open(ctx, b.ID)
	if err != nil {
		t.Fatalf("Open surviving record: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(data, []byte("same bytes")) {
		t.Errorf("surviving content = %q, want %q", data, "same bytes")
	}

	// Deleting the last record removes the content object too.
	if err := store.Delete(ctx, b.ID); err != nil {
		t.Fatalf("final Delete: %v", err)
	}
	if _, _, err := store.Open(ctx, b.ID); !errors.Is(err, uperr.ErrNotFound) {
		t.Errorf("Open deleted record: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteMissing(t *testing.T) {
	store := newTestStore(t)

	if err := store.Delete(context.Background(), "nonexistent"); !errors.Is(err, uperr.ErrNotFound) {
		t.Errorf("Delete missing blob: err = %v, want ErrNotFound", err)
	}
}

func TestRecoverClearsStaging(t *testing.T) {
	index, err := NewIndex(filepath.Join(t.TempDir(), "blobs.db"))
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	t.Cleanup(func() { index.Close() })

	backend, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	store := NewStore(index, backend)
	ctx := context.Background()

	// Simulate a crash mid-Put: a staged object that was never promoted.
	if _, err := backend.Put(ctx, stagingPrefix+"orphan", strings.NewReader("partial"), 7); err != nil {
		t.Fatalf("staging Put: %v", err)
	}

	if err := store.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	exists, err := backend.Exists(ctx, stagingPrefix+"orphan")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("staged orphan survived Recover")
	}
}

func TestHealthCheck(t *testing.T) {
	store := newTestStore(t)

	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}
