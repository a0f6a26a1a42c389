// ABOUTME: Time-bounded cache of the relay thread list with stale fallback
// ABOUTME: Coalesces concurrent refreshes and reconciles optimistic local entries

package threadcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/velox-home/funis-gateway/internal/relay"
)

// ErrUpstreamUnavailable is returned when the relay cannot be reached and
// no previous snapshot exists to fall back on.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// confirmationAttempts is how many refresh cycles an optimistic entry
// survives without showing up in the relay's list before it is dropped.
const confirmationAttempts = 2

// ThreadLister defines what the cache needs from the relay
type ThreadLister interface {
	ListThreads(ctx context.Context) ([]relay.Thread, error)
}

// Snapshot is an immutable view of the thread list handed to callers.
// Stale marks a snapshot served past its TTL because the relay was
// unreachable at refresh time.
type Snapshot struct {
	Threads   []relay.Thread
	FetchedAt time.Time
	Stale     bool
}

// optimisticEntry tracks a locally created thread not yet confirmed by
// the relay. It is merged into served snapshots until either the relay
// reports it or the attempt budget runs out.
type optimisticEntry struct {
	thread            relay.Thread
	attemptsRemaining int
}

// Cache holds a TTL-bounded snapshot of the relay thread list.
// Readers never observe a half-replaced snapshot: the whole value is
// swapped under the write lock.
type Cache struct {
	mu         sync.RWMutex
	snapshot   *Snapshot
	confirmed  []relay.Thread
	optimistic map[string]*optimisticEntry

	// refreshMu serializes relay refreshes so concurrent cache misses
	// trigger a single upstream call.
	refreshMu sync.Mutex

	lister ThreadLister
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// New creates a thread cache with the given TTL.
func New(lister ThreadLister, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		optimistic: make(map[string]*optimisticEntry),
		lister:     lister,
		ttl:        ttl,
		logger:     logger.With("component", "threadcache"),
		now:        time.Now,
	}
}

// ListThreads returns the thread list, serving from the cached snapshot
// when it is fresh and forceRefresh is false. On relay failure a previous
// snapshot (even expired) is served with Stale set; with no snapshot at
// all the failure surfaces as ErrUpstreamUnavailable.
func (c *Cache) ListThreads(ctx context.Context, forceRefresh bool) (Snapshot, error) {
	if !forceRefresh {
		if snap, ok := c.freshSnapshot(); ok {
			return snap, nil
		}
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have completed the refresh while this one
	// waited on the latch.
	if !forceRefresh {
		if snap, ok := c.freshSnapshot(); ok {
			return snap, nil
		}
	}

	threads, err := c.lister.ListThreads(ctx)
	if err != nil {
		c.mu.RLock()
		prev := c.snapshot
		c.mu.RUnlock()

		if prev != nil {
			c.logger.Warn("relay list failed, serving stale snapshot",
				"error", err,
				"age", c.now().Sub(prev.FetchedAt))
			stale := *prev
			stale.Stale = true
			return stale, nil
		}
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	snap := c.installSnapshot(threads)
	return snap, nil
}

// NoteCreated records a locally created thread that the relay has not yet
// confirmed. It appears in served snapshots until confirmed or until
// the confirmation attempt budget is exhausted.
func (c *Cache) NoteCreated(t relay.Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.optimistic[t.ID] = &optimisticEntry{
		thread:            t,
		attemptsRemaining: confirmationAttempts,
	}
	// The snapshot predates the new thread; rebuild the merged view so
	// readers see it immediately.
	if c.snapshot != nil {
		merged := *c.snapshot
		merged.Threads = c.mergeLocked(c.confirmed)
		c.snapshot = &merged
	}
}

// Invalidate expires the current snapshot so the next read refetches.
// Called after local writes such as pin/archive actions.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot != nil {
		invalidated := *c.snapshot
		invalidated.FetchedAt = time.Time{}
		c.snapshot = &invalidated
	}
}

// freshSnapshot returns the current snapshot if it is within TTL.
func (c *Cache) freshSnapshot() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.snapshot == nil {
		return Snapshot{}, false
	}
	if c.now().Sub(c.snapshot.FetchedAt) >= c.ttl {
		return Snapshot{}, false
	}
	return *c.snapshot, true
}

// installSnapshot reconciles optimistic entries against the fetched list
// and atomically replaces the snapshot.
func (c *Cache) installSnapshot(threads []relay.Thread) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{}, len(threads))
	for _, t := range threads {
		seen[t.ID] = struct{}{}
	}

	for id, entry := range c.optimistic {
		if _, ok := seen[id]; ok {
			// Relay confirmed the thread; the fetched row wins.
			delete(c.optimistic, id)
			continue
		}
		entry.attemptsRemaining--
		if entry.attemptsRemaining <= 0 {
			c.logger.Debug("dropping unconfirmed optimistic thread", "thread_id", id)
			delete(c.optimistic, id)
		}
	}

	snap := Snapshot{
		Threads:   c.mergeLocked(threads),
		FetchedAt: c.now(),
	}
	c.confirmed = threads
	c.snapshot = &snap
	return snap
}

// mergeLocked appends surviving optimistic threads to the confirmed list.
// Must be called with mu held.
func (c *Cache) mergeLocked(confirmed []relay.Thread) []relay.Thread {
	merged := make([]relay.Thread, len(confirmed), len(confirmed)+len(c.optimistic))
	copy(merged, confirmed)
	for _, entry := range c.optimistic {
		merged = append(merged, entry.thread)
	}
	return merged
}
