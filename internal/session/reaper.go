package session

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/sealbox/sealbox/internal/metrics"
)

// Reaper periodically deletes upload sessions that were abandoned before
// completion. A session is abandoned once now - created_at exceeds the TTL.
type Reaper struct {
	store    *Store
	ttl      time.Duration
	interval time.Duration
	enabled  bool
}

// NewReaper creates a Reaper over the given store. When enabled is false
// every sweep is a no-op.
func NewReaper(store *Store, ttl, interval time.Duration, enabled bool) *Reaper {
	return &Reaper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		enabled:  enabled,
	}
}

// Sweep enumerates all session directories and deletes those older than the
// TTL. Sessions with corrupt or unreadable metadata are skipped rather than
// destroyed; deleting on ambiguous state would be destructive. A missing
// root directory is not an error. Returns the number of sessions reaped.
func (r *Reaper) Sweep() int {
	if !r.enabled {
		return 0
	}

	entries, err := os.ReadDir(r.store.root)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("reaper: reading upload root", "error", err)
		}
		return 0
	}

	cutoff := time.Now().UTC().Add(-r.ttl)
	reaped := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()

		meta, err := r.store.readMeta(id)
		if err != nil {
			// Unreadable metadata: log and leave the session in place.
			slog.Warn("reaper: skipping session with unreadable metadata", "session", id, "error", err)
			continue
		}
		if !meta.CreatedAt.Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(r.store.dir(id)); err != nil {
			slog.Error("reaper: removing stale session", "session", id, "error", err)
			continue
		}
		slog.Info("reaped stale upload session", "session", id, "age", time.Since(meta.CreatedAt).Round(time.Second))
		metrics.SessionsReapedTotal.Inc()
		reaped++
	}
	return reaped
}

// Run sweeps on a fixed interval until ctx is cancelled. An initial sweep
// runs immediately, which makes every startup a recovery pass.
func (r *Reaper) Run(ctx context.Context) {
	if !r.enabled {
		return
	}

	r.Sweep()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
