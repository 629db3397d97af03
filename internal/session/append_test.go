package session

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	uperr "github.com/sealbox/sealbox/internal/errors"
	"github.com/sealbox/sealbox/internal/uid"
)

func TestAppendChunkSequential(t *testing.T) {
	store := newTestStore(t)

	id := uid.New()
	if _, err := store.Create(id, 6, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	offset, err := store.AppendChunk(id, 0, strings.NewReader("abc"))
	if err != nil {
		t.Fatalf("first AppendChunk: %v", err)
	}
	if offset != 3 {
		t.Fatalf("offset after first chunk = %d, want 3", offset)
	}

	offset, err = store.AppendChunk(id, 3, strings.NewReader("def"))
	if err != nil {
		t.Fatalf("second AppendChunk: %v", err)
	}
	if offset != 6 {
		t.Fatalf("offset after second chunk = %d, want 6", offset)
	}

	if !store.IsComplete(id) {
		t.Error("session not complete after all bytes arrived")
	}
	data, err := os.ReadFile(filepath.Join(store.dir(id), dataFile))
	if err != nil {
		t.Fatalf("reading data file: %v", err)
	}
	if !bytes.Equal(data, []byte("abcdef")) {
		t.Errorf("data = %q, want %q", data, "abcdef")
	}
}

func TestAppendChunkOffsetMismatch(t *testing.T) {
	store := newTestStore(t)

	id := uid.New()
	if _, err := store.Create(id, 10, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.AppendChunk(id, 0, strings.NewReader("ab")); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}

	_, err := store.AppendChunk(id, 5, strings.NewReader("zzz"))
	var mismatch *uperr.OffsetMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("stale append: err = %v, want OffsetMismatchError", err)
	}
	if mismatch.CurrentOffset != 2 {
		t.Errorf("mismatch carries offset %d, want 2", mismatch.CurrentOffset)
	}

	// The failed append must leave the session untouched.
	offset, err := store.UploadOffset(id)
	if err != nil {
		t.Fatalf("UploadOffset: %v", err)
	}
	if offset != 2 {
		t.Errorf("offset after rejected append = %d, want 2", offset)
	}
}

func TestAppendChunkMissingSession(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.AppendChunk(uid.New(), 0, strings.NewReader("x")); !errors.Is(err, uperr.ErrNotFound) {
		t.Errorf("append to missing session: err = %v, want ErrNotFound", err)
	}
	if _, err := store.AppendChunk("../etc", 0, strings.NewReader("x")); !errors.Is(err, uperr.ErrInvalidID) {
		t.Errorf("append with traversal id: err = %v, want ErrInvalidID", err)
	}
}

func TestAppendChunkCompleteSessionIsGone(t *testing.T) {
	store := newTestStore(t)

	id := uid.New()
	if _, err := store.Create(id, 3, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.AppendChunk(id, 0, strings.NewReader("abc")); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}

	if _, err := store.AppendChunk(id, 3, strings.NewReader("x")); !errors.Is(err, uperr.ErrGone) {
		t.Errorf("append to complete session: err = %v, want ErrGone", err)
	}
	// Even a matching-looking offset of 0 is Gone, not a mismatch.
	if _, err := store.AppendChunk(id, 0, strings.NewReader("x")); !errors.Is(err, uperr.ErrGone) {
		t.Errorf("append at 0 to complete session: err = %v, want ErrGone", err)
	}
}

func TestAppendChunkEmptyIsNoOp(t *testing.T) {
	store := newTestStore(t)

	id := uid.New()
	if _, err := store.Create(id, 5, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.AppendChunk(id, 0, strings.NewReader("ab")); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}

	offset, err := store.AppendChunk(id, 2, strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty AppendChunk: %v", err)
	}
	if offset != 2 {
		t.Errorf("offset after empty chunk = %d, want 2", offset)
	}
}

func TestAppendChunkTruncatesOverrun(t *testing.T) {
	store := newTestStore(t)

	id := uid.New()
	if _, err := store.Create(id, 4, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// 6 bytes against a 4-byte declared length: the excess is discarded.
	offset, err := store.AppendChunk(id, 0, strings.NewReader("abcdef"))
	if err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	if offset != 4 {
		t.Errorf("offset after overlong chunk = %d, want 4", offset)
	}

	data, err := os.ReadFile(filepath.Join(store.dir(id), dataFile))
	if err != nil {
		t.Fatalf("reading data file: %v", err)
	}
	if !bytes.Equal(data, []byte("abcd")) {
		t.Errorf("data = %q, want %q", data, "abcd")
	}
}

// failingReader yields some bytes and then an error, simulating a client
// that disconnects mid-chunk.
type failingReader struct {
	data []byte
	pos  int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, errors.New("connection reset")
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func TestAppendChunkFailedStreamRollsBack(t *testing.T) {
	store := newTestStore(t)

	id := uid.New()
	if _, err := store.Create(id, 10, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.AppendChunk(id, 0, strings.NewReader("ab")); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}

	if _, err := store.AppendChunk(id, 2, &failingReader{data: []byte("cde")}); err == nil {
		t.Fatal("append with failing stream succeeded")
	}

	offset, err := store.UploadOffset(id)
	if err != nil {
		t.Fatalf("UploadOffset: %v", err)
	}
	if offset != 2 {
		t.Errorf("offset after failed stream = %d, want 2", offset)
	}
	fi, err := os.Stat(filepath.Join(store.dir(id), dataFile))
	if err != nil {
		t.Fatalf("stat data file: %v", err)
	}
	if fi.Size() != 2 {
		t.Errorf("data file size after failed stream = %d, want 2", fi.Size())
	}

	// Retry at the authoritative offset succeeds.
	if _, err := store.AppendChunk(id, 2, strings.NewReader("cd")); err != nil {
		t.Fatalf("retry AppendChunk: %v", err)
	}
}

func TestAppendChunkConcurrentSameOffset(t *testing.T) {
	store := newTestStore(t)

	id := uid.New()
	if _, err := store.Create(id, 8, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	payloads := []string{"AAAA", "BBBB"}
	results := make([]struct {
		offset int64
		err    error
	}, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i].offset, results[i].err = store.AppendChunk(id, 0, strings.NewReader(payloads[i]))
		}(i)
	}
	wg.Wait()

	var winners, losers int
	for i := 0; i < 2; i++ {
		if results[i].err == nil {
			winners++
			if results[i].offset != 4 {
				t.Errorf("winner offset = %d, want 4", results[i].offset)
			}
			continue
		}
		var mismatch *uperr.OffsetMismatchError
		if !errors.As(results[i].err, &mismatch) {
			t.Fatalf("loser err = %v, want OffsetMismatchError", results[i].err)
		}
		if mismatch.CurrentOffset != 4 {
			t.Errorf("loser sees offset %d, want 4", mismatch.CurrentOffset)
		}
		losers++
	}
	if winners != 1 || losers != 1 {
		t.Fatalf("winners = %d, losers = %d, want exactly one of each", winners, losers)
	}

	data, err := os.ReadFile(filepath.Join(store.dir(id), dataFile))
	if err != nil {
		t.Fatalf("reading data file: %v", err)
	}
	if string(data) != "AAAA" && string(data) != "BBBB" {
		t.Errorf("data = %q, want exactly one intact payload", data)
	}
}
