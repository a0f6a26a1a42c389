// Package store provides persistent storage for funis-gateway using SQLite.
//
// The only engine state requiring durability beyond process lifetime is the
// conversation mapping table: external conversation id to relay thread id.
// Thread and message records are shadow copies of relay-owned truth and are
// never persisted here.
//
// # Data Model
//
//   - ConversationMapping: external_id (primary key) -> thread_id (unique)
//
// Both columns carry uniqueness: one external conversation owns one thread,
// and a thread is owned by at most one external conversation. Insert races
// surface as ErrDuplicateMapping and are resolved by the caller
// (see internal/convmap).
package store
