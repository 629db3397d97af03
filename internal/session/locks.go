package session

import "sync"

// sessionLock is a refcounted mutex for one session id.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// lockTable hands out per-session exclusive locks. Locks for different ids
// never contend; entries are dropped once the last holder releases, so the
// table stays bounded by the number of in-flight requests.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sessionLock)}
}

// acquire blocks until the exclusive lock for id is held and returns it.
func (t *lockTable) acquire(id string) *sessionLock {
	t.mu.Lock()
	l := t.locks[id]
	if l == nil {
		l = &sessionLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return l
}

// release unlocks l and removes the table entry if no other holder is waiting.
func (t *lockTable) release(id string, l *sessionLock) {
	l.mu.Unlock()

	t.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, id)
	}
	t.mu.Unlock()
}
