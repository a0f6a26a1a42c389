// ABOUTME: Store interface and data types for funis-gateway persistence
// ABOUTME: Defines the ConversationMapping struct and the MappingStore interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateMapping is returned when a mapping for the external id
// (or one claiming the same thread) already exists
var ErrDuplicateMapping = errors.New("mapping already exists")

// ConversationMapping links an externally supplied conversation id to a
// relay thread id. At most one mapping exists per external id, and a
// thread is owned by at most one external conversation at a time.
type ConversationMapping struct {
	ExternalID string
	ThreadID   string
	CreatedAt  time.Time
}

// MappingStore defines the interface for conversation mapping persistence.
// This is the only engine state that must survive process restarts.
type MappingStore interface {
	CreateMapping(ctx context.Context, m *ConversationMapping) error
	GetMapping(ctx context.Context, externalID string) (*ConversationMapping, error)
	GetMappingByThread(ctx context.Context, threadID string) (*ConversationMapping, error)
	ListMappings(ctx context.Context, limit int) ([]*ConversationMapping, error)
	DeleteMapping(ctx context.Context, externalID string) error

	// Close releases any resources held by the store
	Close() error
}
