// ABOUTME: Maps external conversation identifiers onto relay thread identifiers
// ABOUTME: Per-key locking makes first-resolution races create exactly one thread

package convmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/velox-home/funis-gateway/internal/store"
)

// ThreadCreator defines what the mapper needs from the relay
type ThreadCreator interface {
	CreateThread(ctx context.Context) (string, error)
}

// Mapper resolves external conversation ids to relay thread ids, creating
// a thread on first contact. Mappings persist across restarts so the chat
// UI and the voice agent resume the same thread.
type Mapper struct {
	store   store.MappingStore
	creator ThreadCreator
	logger  *slog.Logger

	// keyLocks serializes first resolutions per external id. Unrelated
	// conversations never contend on a shared lock.
	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// New creates a Mapper backed by the given store and relay client.
func New(mappingStore store.MappingStore, creator ThreadCreator, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{
		store:    mappingStore,
		creator:  creator,
		logger:   logger.With("component", "convmap"),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

// Resolve returns the thread id mapped to the external conversation id,
// creating a relay thread and persisting a new mapping on first contact.
// Concurrent first resolutions of the same id serialize on a per-key
// lock; at most one thread is created and both callers observe it.
// The created flag is true only for the caller whose resolution actually
// created the thread, so it can seed caches with the new entry.
func (m *Mapper) Resolve(ctx context.Context, externalID string) (string, bool, error) {
	if externalID == "" {
		return "", false, fmt.Errorf("external id is required")
	}

	// Fast path: existing mapping needs no lock.
	mapping, err := m.store.GetMapping(ctx, externalID)
	if err == nil {
		return mapping.ThreadID, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", false, fmt.Errorf("mapping lookup failed: %w", err)
	}

	lock := m.lockFor(externalID)
	lock.Lock()
	defer lock.Unlock()

	// Re-check under the lock: the race loser finds the winner's mapping
	// here and never creates a second thread.
	mapping, err = m.store.GetMapping(ctx, externalID)
	if err == nil {
		return mapping.ThreadID, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", false, fmt.Errorf("mapping lookup failed: %w", err)
	}

	threadID, err := m.creator.CreateThread(ctx)
	if err != nil {
		return "", false, fmt.Errorf("creating relay thread: %w", err)
	}

	if err := m.store.CreateMapping(ctx, &store.ConversationMapping{
		ExternalID: externalID,
		ThreadID:   threadID,
		CreatedAt:  time.Now(),
	}); err != nil {
		// A duplicate means another process won the race after our
		// re-check (the per-key lock only covers this process). Adopt the
		// winner's mapping; our freshly created thread stays orphaned on
		// the relay side.
		if errors.Is(err, store.ErrDuplicateMapping) {
			existing, lookupErr := m.store.GetMapping(ctx, externalID)
			if lookupErr == nil {
				m.logger.Debug("found existing mapping after race",
					"external_id", externalID,
					"thread_id", existing.ThreadID,
					"abandoned_thread_id", threadID)
				return existing.ThreadID, false, nil
			}
			m.logger.Error("retry lookup failed after duplicate error",
				"external_id", externalID,
				"lookup_error", lookupErr)
		}
		return "", false, fmt.Errorf("persisting mapping: %w", err)
	}

	m.logger.Info("conversation mapped",
		"external_id", externalID,
		"thread_id", threadID)
	return threadID, true, nil
}

// Lookup returns the mapped thread id without creating anything.
// Returns store.ErrNotFound when no mapping exists.
func (m *Mapper) Lookup(ctx context.Context, externalID string) (string, error) {
	mapping, err := m.store.GetMapping(ctx, externalID)
	if err != nil {
		return "", err
	}
	return mapping.ThreadID, nil
}

// LookupByThread returns the external id bound to a thread, the reverse
// of Lookup. Returns store.ErrNotFound when the thread is unmapped.
func (m *Mapper) LookupByThread(ctx context.Context, threadID string) (string, error) {
	mapping, err := m.store.GetMappingByThread(ctx, threadID)
	if err != nil {
		return "", err
	}
	return mapping.ExternalID, nil
}

// List returns known mappings, newest first.
func (m *Mapper) List(ctx context.Context, limit int) ([]*store.ConversationMapping, error) {
	return m.store.ListMappings(ctx, limit)
}

// Reset removes the mapping for an external id. The next Resolve for the
// id starts a fresh relay thread. Administrative use only.
func (m *Mapper) Reset(ctx context.Context, externalID string) error {
	return m.store.DeleteMapping(ctx, externalID)
}

// lockFor returns the mutex guarding first resolution of a key,
// creating it on demand. Locks are never evicted; the key space is
// bounded by the number of distinct conversations.
func (m *Mapper) lockFor(externalID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.keyLocks[externalID]
	if !ok {
		lock = &sync.Mutex{}
		m.keyLocks[externalID] = lock
	}
	return lock
}
