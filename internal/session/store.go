// Package session implements Sealbox's resumable upload store: durable
// per-session metadata, the offset-checked chunk append engine, the finalizer
// that hands completed uploads to permanent blob storage, and the stale
// session reaper.
//
// All session state lives on disk under a single root directory, one
// directory per session:
//
//	{root}/{id}/meta.json   upload_length, upload_offset, filename, content_type, created_at
//	{root}/{id}/data        bytes received so far
//
// The store tolerates process restarts between requests; the only in-process
// state is the per-session lock table that serializes appends.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sealbox/sealbox/internal/blob"
	uperr "github.com/sealbox/sealbox/internal/errors"
	"github.com/sealbox/sealbox/internal/uid"
)

// metaFile is the name of the metadata record inside a session directory.
const metaFile = "meta.json"

// dataFile is the name of the data region inside a session directory.
const dataFile = "data"

// Meta is the persisted metadata record for an upload session.
type Meta struct {
	// UploadLength is the declared total byte count, fixed at creation.
	UploadLength int64 `json:"upload_length"`
	// UploadOffset is the count of bytes durably written so far.
	UploadOffset int64 `json:"upload_offset"`
	// Filename is the client-declared file name, set only at creation.
	Filename string `json:"filename,omitempty"`
	// ContentType is the client-declared content type, set only at creation.
	ContentType string `json:"content_type,omitempty"`
	// CreatedAt is the session creation time, used only by the reaper.
	CreatedAt time.Time `json:"created_at"`
}

// Session is an upload session: its identifier plus the persisted metadata.
type Session struct {
	ID string
	Meta
}

// IsComplete reports whether all declared bytes have been received.
func (s *Session) IsComplete() bool {
	return s.UploadOffset == s.UploadLength
}

// Archiver is the permanent blob store a finalized upload is handed to.
// *blob.Store satisfies this interface.
type Archiver interface {
	Put(ctx context.Context, r io.Reader, size int64, filename, contentType string) (*blob.Info, error)
}

// Store is the filesystem-backed upload session store.
type Store struct {
	root  string
	locks *lockTable
}

// NewStore creates a Store rooted at the given directory, creating the
// directory if it does not exist.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload root directory %q: %w", root, err)
	}
	return &Store{root: root, locks: newLockTable()}, nil
}

// dir returns the session directory path. Callers must have validated id.
func (s *Store) dir(id string) string {
	return filepath.Join(s.root, id)
}

// Create persists a new session with offset 0 and an empty data region.
// upload_length must be positive. The id must come from uid.New; creating
// twice for the same id is the caller's responsibility to avoid.
func (s *Store) Create(id string, uploadLength int64, filename, contentType string) (*Session, error) {
	if !uid.Valid(id) {
		return nil, uperr.ErrInvalidID
	}
	if uploadLength <= 0 {
		return nil, uperr.ErrInvalidArgument
	}

	dir := s.dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session directory %q: %w", dir, err)
	}

	// Create the empty data region first so an append never races a
	// half-created session.
	df, err := os.OpenFile(filepath.Join(dir, dataFile), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("creating session data file: %w", err)
	}
	if err := df.Close(); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("closing session data file: %w", err)
	}

	meta := &Meta{
		UploadLength: uploadLength,
		UploadOffset: 0,
		Filename:     filename,
		ContentType:  contentType,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.writeMeta(id, meta); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	return &Session{ID: id, Meta: *meta}, nil
}

// Exists reports whether a session with the given id exists on disk.
// Invalid ids never touch the filesystem.
func (s *Store) Exists(id string) bool {
	if !uid.Valid(id) {
		return false
	}
	_, err := os.Stat(filepath.Join(s.dir(id), metaFile))
	return err == nil
}

// ReadMeta returns the session record, or ErrNotFound if it does not exist.
func (s *Store) ReadMeta(id string) (*Session, error) {
	if !uid.Valid(id) {
		return nil, uperr.ErrInvalidID
	}
	meta, err := s.readMeta(id)
	if err != nil {
		return nil, err
	}
	return &Session{ID: id, Meta: *meta}, nil
}

// UploadLength returns the declared total byte count for the session.
func (s *Store) UploadLength(id string) (int64, error) {
	sess, err := s.ReadMeta(id)
	if err != nil {
		return 0, err
	}
	return sess.UploadLength, nil
}

// UploadOffset returns the count of bytes durably written so far.
func (s *Store) UploadOffset(id string) (int64, error) {
	sess, err := s.ReadMeta(id)
	if err != nil {
		return 0, err
	}
	return sess.UploadOffset, nil
}

// IsComplete reports whether the session has received all declared bytes.
// A missing session is not complete, not an error.
func (s *Store) IsComplete(id string) bool {
	sess, err := s.ReadMeta(id)
	if err != nil {
		return false
	}
	return sess.IsComplete()
}

// Destroy removes all storage for the session. Idempotent: destroying a
// session that is already absent succeeds silently.
func (s *Store) Destroy(id string) error {
	if !uid.Valid(id) {
		return uperr.ErrInvalidID
	}
	if err := os.RemoveAll(s.dir(id)); err != nil {
		return fmt.Errorf("removing session directory: %w", err)
	}
	return nil
}

// Finalize transfers a complete session's assembled bytes into the permanent
// blob store and destroys the session. The returned handle is only produced
// once the session is gone; if destruction fails no handle is returned, and
// the content-addressed blob store makes the retried Put idempotent.
func (s *Store) Finalize(ctx context.Context, id string, dest Archiver) (*blob.Info, error) {
	if !uid.Valid(id) {
		return nil, uperr.ErrInvalidID
	}

	// Hold the session lock so a racing append cannot interleave with the
	// transfer.
	l := s.locks.acquire(id)
	defer s.locks.release(id, l)

	meta, err := s.readMeta(id)
	if err != nil {
		return nil, err
	}
	if meta.UploadOffset != meta.UploadLength {
		return nil, uperr.ErrIncompleteUpload
	}

	filename := meta.Filename
	if filename == "" {
		filename = "upload"
	}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	df, err := os.Open(filepath.Join(s.dir(id), dataFile))
	if err != nil {
		return nil, fmt.Errorf("opening session data file: %w", err)
	}
	info, err := dest.Put(ctx, df, meta.UploadLength, filename, contentType)
	df.Close()
	if err != nil {
		return nil, fmt.Errorf("storing finalized upload: %w", err)
	}

	if err := os.RemoveAll(s.dir(id)); err != nil {
		return nil, fmt.Errorf("removing finalized session: %w", err)
	}
	return info, nil
}

// Recover runs the crash-only startup repair: any data file longer than its
// committed offset is truncated back to the offset, discarding bytes from
// appends that never committed. Sessions with unreadable metadata are left
// untouched.
func (s *Store) Recover() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading upload root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		meta, err := s.readMeta(id)
		if err != nil {
			continue
		}
		dataPath := filepath.Join(s.dir(id), dataFile)
		fi, err := os.Stat(dataPath)
		if err != nil {
			continue
		}
		if fi.Size() > meta.UploadOffset {
			if err := os.Truncate(dataPath, meta.UploadOffset); err != nil {
				return fmt.Errorf("truncating uncommitted bytes for session %s: %w", id, err)
			}
		}
	}
	return nil
}

// readMeta loads and decodes the session metadata record.
func (s *Store) readMeta(id string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(s.dir(id), metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, uperr.ErrNotFound
		}
		return nil, fmt.Errorf("reading session metadata: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding session metadata: %w", err)
	}
	return &meta, nil
}

// writeMeta persists the metadata record using the atomic write pattern:
// write to a temp file in the session directory, fsync, rename.
func (s *Store) writeMeta(id string, meta *Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding session metadata: %w", err)
	}

	dir := s.dir(id)
	tmp, err := os.CreateTemp(dir, metaFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating metadata temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing session metadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing session metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing session metadata: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, metaFile)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming session metadata: %w", err)
	}
	return nil
}
