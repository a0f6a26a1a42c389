// ABOUTME: Tests for the SQLite mapping store
// ABOUTME: Covers CRUD, duplicate detection, and not-found translation

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetMapping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Now().UTC().Truncate(time.Second)
	err := s.CreateMapping(ctx, &ConversationMapping{
		ExternalID: "voice-abc",
		ThreadID:   "thread-1",
		CreatedAt:  created,
	})
	require.NoError(t, err)

	m, err := s.GetMapping(ctx, "voice-abc")
	require.NoError(t, err)
	assert.Equal(t, "voice-abc", m.ExternalID)
	assert.Equal(t, "thread-1", m.ThreadID)
	assert.WithinDuration(t, created, m.CreatedAt, time.Second)
}

func TestGetMapping_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetMapping(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateMapping_DuplicateExternalID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &ConversationMapping{ExternalID: "voice-abc", ThreadID: "thread-1", CreatedAt: time.Now()}
	require.NoError(t, s.CreateMapping(ctx, m))

	err := s.CreateMapping(ctx, &ConversationMapping{
		ExternalID: "voice-abc",
		ThreadID:   "thread-2",
		CreatedAt:  time.Now(),
	})
	assert.ErrorIs(t, err, ErrDuplicateMapping)
}

func TestCreateMapping_DuplicateThreadID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &ConversationMapping{ExternalID: "voice-abc", ThreadID: "thread-1", CreatedAt: time.Now()}
	require.NoError(t, s.CreateMapping(ctx, m))

	err := s.CreateMapping(ctx, &ConversationMapping{
		ExternalID: "voice-xyz",
		ThreadID:   "thread-1",
		CreatedAt:  time.Now(),
	})
	assert.ErrorIs(t, err, ErrDuplicateMapping)
}

func TestGetMappingByThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &ConversationMapping{ExternalID: "voice-abc", ThreadID: "thread-1", CreatedAt: time.Now()}
	require.NoError(t, s.CreateMapping(ctx, m))

	got, err := s.GetMappingByThread(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "voice-abc", got.ExternalID)

	_, err = s.GetMappingByThread(ctx, "thread-404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMappings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, ext := range []string{"first", "second", "third"} {
		require.NoError(t, s.CreateMapping(ctx, &ConversationMapping{
			ExternalID: ext,
			ThreadID:   "thread-" + ext,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	mappings, err := s.ListMappings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, mappings, 3)
	assert.Equal(t, "third", mappings[0].ExternalID)
	assert.Equal(t, "first", mappings[2].ExternalID)

	limited, err := s.ListMappings(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDeleteMapping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &ConversationMapping{ExternalID: "voice-abc", ThreadID: "thread-1", CreatedAt: time.Now()}
	require.NoError(t, s.CreateMapping(ctx, m))

	require.NoError(t, s.DeleteMapping(ctx, "voice-abc"))

	_, err := s.GetMapping(ctx, "voice-abc")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.DeleteMapping(ctx, "voice-abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMapping_FreesThreadForReuse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateMapping(ctx, &ConversationMapping{
		ExternalID: "voice-abc", ThreadID: "thread-1", CreatedAt: time.Now(),
	}))
	require.NoError(t, s.DeleteMapping(ctx, "voice-abc"))

	// After a reset the same external id can bind to a fresh thread.
	require.NoError(t, s.CreateMapping(ctx, &ConversationMapping{
		ExternalID: "voice-abc", ThreadID: "thread-2", CreatedAt: time.Now(),
	}))

	m, err := s.GetMapping(ctx, "voice-abc")
	require.NoError(t, err)
	assert.Equal(t, "thread-2", m.ThreadID)
}
