// Package blob implements Sealbox's permanent blob storage: the durable,
// retrievable home of finalized uploads.
//
// A blob record (id, filename, content type, size) lives in a local SQLite
// index; the raw bytes live in a pluggable Backend under a content-addressed
// key, so identical content is stored once and shared across records. Writes
// stream through SHA-256 into a staging key and are then promoted to their
// content address, which makes a retried Put idempotent.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/sealbox/sealbox/internal/uid"
)

// stagingPrefix namespaces in-flight writes. Staging leftovers indicate a
// crash mid-Put and are cleared on startup.
const stagingPrefix = "staging/"

// contentPrefix namespaces promoted, content-addressed objects.
const contentPrefix = "content/"

// Info describes a stored blob. It is the durable handle's payload.
type Info struct {
	// ID is the opaque blob record identifier.
	ID string
	// Size is the exact byte length of the content.
	Size int64
	// Filename is the name the content was uploaded under.
	Filename string
	// ContentType is the declared media type of the content.
	ContentType string
	// CreatedAt is the time the blob record was created.
	CreatedAt time.Time
}

// Backend stores and retrieves raw blob bytes by key. Implementations
// provide the underlying mechanism (local filesystem, cloud provider,
// memory). All methods must be safe for concurrent use.
type Backend interface {
	// Put writes the data from the reader at the given key, replacing any
	// existing object. Returns the number of bytes written.
	Put(ctx context.Context, key string, r io.Reader, size int64) (int64, error)

	// Open returns a reader over the object at key along with its size.
	// The caller is responsible for closing the reader.
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// Promote moves the object at stagingKey to finalKey, replacing any
	// existing object at finalKey.
	Promote(ctx context.Context, stagingKey, finalKey string) error

	// Delete removes the object at key. Idempotent: deleting a missing
	// object is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)

	// CleanStaging removes all objects under the staging prefix. Called
	// on startup as part of crash-only recovery.
	CleanStaging(ctx context.Context) error

	// HealthCheck verifies that the backend is operational.
	HealthCheck(ctx context.Context) error
}

// Store is the permanent blob store: a SQLite index over a Backend.
type Store struct {
	index   *Index
	backend Backend
}

// NewStore creates a Store over the given index and backend.
func NewStore(index *Index, backend Backend) *Store {
	return &Store{index: index, backend: backend}
}

// contentKey returns the content-addressed backend key for a digest,
// sharded by the first two byte pairs to keep directories small.
func contentKey(digest string) string {
	return path.Join(contentPrefix, digest[:2], digest[2:4], digest)
}

// Put stores the stream as a new blob record and returns its Info. The bytes
// are written to a staging key while hashing, then promoted to their content
// address; a record row pointing at the digest is inserted last. Storing the
// same content twice shares the promoted object between the two records.
func (s *Store) Put(ctx context.Context, r io.Reader, size int64, filename, contentType string) (*Info, error) {
	stagingKey := stagingPrefix + uid.New()

	h := sha256.New()
	written, err := s.backend.Put(ctx, stagingKey, io.TeeReader(r, h), size)
	if err != nil {
		return nil, fmt.Errorf("staging blob content: %w", err)
	}
	digest := hex.EncodeToString(h.Sum(nil))

	if err := s.backend.Promote(ctx, stagingKey, contentKey(digest)); err != nil {
		s.backend.Delete(ctx, stagingKey)
		return nil, fmt.Errorf("promoting blob content: %w", err)
	}

	rec := &Record{
		ID:          uid.New(),
		Digest:      digest,
		Size:        written,
		Filename:    filename,
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.index.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("indexing blob: %w", err)
	}

	return &Info{
		ID:          rec.ID,
		Size:        rec.Size,
		Filename:    rec.Filename,
		ContentType: rec.ContentType,
		CreatedAt:   rec.CreatedAt,
	}, nil
}

// Open returns a reader over the blob's content along with its Info.
// The caller is responsible for closing the reader.
func (s *Store) Open(ctx context.Context, id string) (io.ReadCloser, *Info, error) {
	rec, err := s.index.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, _, err := s.backend.Open(ctx, contentKey(rec.Digest))
	if err != nil {
		return nil, nil, fmt.Errorf("opening blob content: %w", err)
	}
	return rc, &Info{
		ID:          rec.ID,
		Size:        rec.Size,
		Filename:    rec.Filename,
		ContentType: rec.ContentType,
		CreatedAt:   rec.CreatedAt,
	}, nil
}

// Stat returns the blob's Info without opening its content.
func (s *Store) Stat(ctx context.Context, id string) (*Info, error) {
	rec, err := s.index.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Info{
		ID:          rec.ID,
		Size:        rec.Size,
		Filename:    rec.Filename,
		ContentType: rec.ContentType,
		CreatedAt:   rec.CreatedAt,
	}, nil
}

// Delete removes the blob record. The underlying content object is deleted
// only once no other record references its digest.
func (s *Store) Delete(ctx context.Context, id string) error {
	digest, remaining, err := s.index.Delete(ctx, id)
	if err != nil {
		return err
	}
	if remaining == 0 {
		if err := s.backend.Delete(ctx, contentKey(digest)); err != nil {
			return fmt.Errorf("deleting blob content: %w", err)
		}
	}
	return nil
}

// Recover clears staging leftovers from a previous crash. Called on startup.
func (s *Store) Recover(ctx context.Context) error {
	return s.backend.CleanStaging(ctx)
}

// HealthCheck verifies both the index and the backend are operational.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.index.Ping(ctx); err != nil {
		return fmt.Errorf("blob index: %w", err)
	}
	if err := s.backend.HealthCheck(ctx); err != nil {
		return fmt.Errorf("blob backend: %w", err)
	}
	return nil
}

// Close closes the blob index.
func (s *Store) Close() error {
	return s.index.Close()
}
