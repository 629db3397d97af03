package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	uperr "github.com/sealbox/sealbox/internal/errors"
	"github.com/sealbox/sealbox/internal/uid"
)

// AppendChunk verifies claimedOffset against the session's authoritative
// offset and, if they match, streams the chunk onto the end of the data
// region and advances the offset. Exactly one of two racing appends at the
// same offset wins; the loser receives an OffsetMismatchError carrying the
// offset the winner advanced to.
//
// The read-compare-write-update sequence runs under the session's exclusive
// lock. The lock covers only that sequence, so appends to other sessions
// never wait on this one. The offset is committed only after the chunk bytes
// are synced to disk; if the stream fails mid-chunk the data file is
// truncated back to the committed offset and the metadata is untouched.
//
// A zero-byte chunk is a legal no-op that returns the current offset. Bytes
// beyond upload_length are discarded: the stored length never exceeds the
// declared length.
func (s *Store) AppendChunk(id string, claimedOffset int64, r io.Reader) (int64, error) {
	if !uid.Valid(id) {
		return 0, uperr.ErrInvalidID
	}
	if claimedOffset < 0 {
		return 0, uperr.ErrInvalidArgument
	}
	if !s.Exists(id) {
		return 0, uperr.ErrNotFound
	}

	l := s.locks.acquire(id)
	defer s.locks.release(id, l)

	meta, err := s.readMeta(id)
	if err != nil {
		// The session was destroyed between the existence check and the
		// lock acquisition.
		if errors.Is(err, uperr.ErrNotFound) {
			return 0, uperr.ErrNotFound
		}
		return 0, err
	}

	if meta.UploadOffset == meta.UploadLength {
		return 0, uperr.ErrGone
	}
	if claimedOffset != meta.UploadOffset {
		return 0, &uperr.OffsetMismatchError{CurrentOffset: meta.UploadOffset}
	}

	written, err := s.appendData(id, meta.UploadOffset, meta.UploadLength-meta.UploadOffset, r)
	if err != nil {
		return 0, err
	}
	if written == 0 {
		return meta.UploadOffset, nil
	}

	meta.UploadOffset += written
	if err := s.writeMeta(id, meta); err != nil {
		return 0, err
	}
	return meta.UploadOffset, nil
}

// appendData streams up to limit bytes from r onto the data file at offset
// and syncs them to disk. On any failure the file is truncated back to
// offset so uncommitted bytes are never observable.
func (s *Store) appendData(id string, offset, limit int64, r io.Reader) (int64, error) {
	path := filepath.Join(s.dir(id), dataFile)
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("opening session data file: %w", err)
	}
	defer f.Close()

	// Discard any tail beyond the committed offset left by a previous
	// aborted append.
	if err := f.Truncate(offset); err != nil {
		return 0, fmt.Errorf("truncating session data file: %w", err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seeking session data file: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(r, limit))
	if err != nil {
		f.Truncate(offset)
		return 0, fmt.Errorf("writing chunk data: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Truncate(offset)
		return 0, fmt.Errorf("syncing chunk data: %w", err)
	}
	return written, nil
}
