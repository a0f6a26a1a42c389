// ABOUTME: SQLite implementation of the MappingStore interface using modernc.org/sqlite
// ABOUTME: Provides conversation mapping persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the MappingStore interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversation_mappings (
			external_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_mappings_thread_id
			ON conversation_mappings(thread_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// CreateMapping persists a new conversation mapping. Returns
// ErrDuplicateMapping when the external id or thread id is already claimed.
func (s *SQLiteStore) CreateMapping(ctx context.Context, m *ConversationMapping) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_mappings (external_id, thread_id, created_at) VALUES (?, ?, ?)`,
		m.ExternalID, m.ThreadID, m.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateMapping
		}
		return fmt.Errorf("inserting mapping: %w", err)
	}

	s.logger.Debug("mapping created",
		"external_id", m.ExternalID,
		"thread_id", m.ThreadID)
	return nil
}

// GetMapping returns the mapping for an external conversation id.
func (s *SQLiteStore) GetMapping(ctx context.Context, externalID string) (*ConversationMapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT external_id, thread_id, created_at FROM conversation_mappings WHERE external_id = ?`,
		externalID,
	)
	return scanMapping(row)
}

// GetMappingByThread returns the mapping that owns the given thread id.
func (s *SQLiteStore) GetMappingByThread(ctx context.Context, threadID string) (*ConversationMapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT external_id, thread_id, created_at FROM conversation_mappings WHERE thread_id = ?`,
		threadID,
	)
	return scanMapping(row)
}

// ListMappings returns mappings ordered by creation time, newest first.
func (s *SQLiteStore) ListMappings(ctx context.Context, limit int) ([]*ConversationMapping, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id, thread_id, created_at FROM conversation_mappings ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*ConversationMapping
	for rows.Next() {
		var m ConversationMapping
		var createdAt time.Time
		if err := rows.Scan(&m.ExternalID, &m.ThreadID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning mapping: %w", err)
		}
		m.CreatedAt = createdAt
		mappings = append(mappings, &m)
	}
	return mappings, rows.Err()
}

// DeleteMapping removes a mapping by external id. This is the
// administrative reset path; it does not touch the relay-side thread.
func (s *SQLiteStore) DeleteMapping(ctx context.Context, externalID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_mappings WHERE external_id = ?`,
		externalID,
	)
	if err != nil {
		return fmt.Errorf("deleting mapping: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the underlying database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanMapping scans a single mapping row, translating sql.ErrNoRows
func scanMapping(row *sql.Row) (*ConversationMapping, error) {
	var m ConversationMapping
	var createdAt time.Time
	if err := row.Scan(&m.ExternalID, &m.ThreadID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning mapping: %w", err)
	}
	m.CreatedAt = createdAt
	return &m, nil
}

// isUniqueViolation reports whether the error is a SQLite unique
// constraint failure. modernc.org/sqlite does not export a typed error
// for this, so the message is matched.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
