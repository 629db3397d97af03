package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sealbox/sealbox/internal/uid"
)

// ageSession rewrites the session's created_at so it falls before the TTL
// cutoff.
func ageSession(t *testing.T, store *Store, id string, age time.Duration) {
	t.Helper()
	meta, err := store.readMeta(id)
	if err != nil {
		t.Fatalf("readMeta: %v", err)
	}
	meta.CreatedAt = time.Now().UTC().Add(-age)
	if err := store.writeMeta(id, meta); err != nil {
		t.Fatalf("writeMeta: %v", err)
	}
}

func TestSweepReapsOnlyStaleSessions(t *testing.T) {
	store := newTestStore(t)

	stale := uid.New()
	fresh := uid.New()
	if _, err := store.Create(stale, 10, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(fresh, 10, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ageSession(t, store, stale, 2*time.Hour)

	reaper := NewReaper(store, time.Hour, time.Minute, true)
	if got := reaper.Sweep(); got != 1 {
		t.Fatalf("Sweep reaped %d sessions, want 1", got)
	}

	if store.Exists(stale) {
		t.Error("stale session survived the sweep")
	}
	if !store.Exists(fresh) {
		t.Error("fresh session was reaped")
	}
}

func TestSweepSkipsUnreadableMetadata(t *testing.T) {
	store := newTestStore(t)

	id := uid.New()
	if _, err := store.Create(id, 10, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ageSession(t, store, id, 2*time.Hour)
	if err := os.WriteFile(filepath.Join(store.dir(id), metaFile), []byte("{corrupt"), 0o644); err != nil {
		t.Fatalf("corrupting metadata: %v", err)
	}

	reaper := NewReaper(store, time.Hour, time.Minute, true)
	if got := reaper.Sweep(); got != 0 {
		t.Fatalf("Sweep reaped %d sessions, want 0", got)
	}
	if _, err := os.Stat(store.dir(id)); err != nil {
		t.Error("session with unreadable metadata was removed")
	}
}

func TestSweepDisabled(t *testing.T) {
	store := newTestStore(t)

	id := uid.New()
	if _, err := store.Create(id, 10, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ageSession(t, store, id, 48*time.Hour)

	reaper := NewReaper(store, time.Hour, time.Minute, false)
	if got := reaper.Sweep(); got != 0 {
		t.Fatalf("disabled Sweep reaped %d sessions, want 0", got)
	}
	if !store.Exists(id) {
		t.Error("disabled reaper removed a session")
	}
}

func TestSweepMissingRoot(t *testing.T) {
	store := newTestStore(t)
	os.RemoveAll(store.root)

	reaper := NewReaper(store, time.Hour, time.Minute, true)
	if got := reaper.Sweep(); got != 0 {
		t.Fatalf("Sweep on missing root reaped %d, want 0", got)
	}
}
