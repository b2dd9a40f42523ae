// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides thread/message/note persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store and NoteStore interfaces using SQLite
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

	// Enable foreign keys
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

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_threads_updated
			ON threads(updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			tool_call_id TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (thread_id) REFERENCES threads(id),

			CHECK (role IN ('user', 'assistant', 'system', 'tool'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_thread_id
			ON messages(thread_id);

		CREATE INDEX IF NOT EXISTS idx_messages_thread_created
			ON messages(thread_id, created_at);

		CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,

			UNIQUE(thread_id, key)
		);

		CREATE INDEX IF NOT EXISTS idx_notes_thread ON notes(thread_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		column string // Column name for logging
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('messages') WHERE name = 'tool_calls'`,
			apply:  `ALTER TABLE messages ADD COLUMN tool_calls TEXT`,
			column: "tool_calls",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('messages') WHERE name = 'tool_call_id'`,
			apply:  `ALTER TABLE messages ADD COLUMN tool_call_id TEXT`,
			column: "tool_call_id",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('threads') WHERE name = 'title'`,
			apply:  `ALTER TABLE threads ADD COLUMN title TEXT NOT NULL DEFAULT ''`,
			column: "title",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateThread creates a new thread in the database.
// Returns ErrDuplicateThread if a thread with the same ID already exists.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *Thread) error {
	query := `
		INSERT INTO threads (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		thread.ID,
		thread.Title,
		thread.CreatedAt.UTC().Format(time.RFC3339),
		thread.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateThread
		}
		return fmt.Errorf("inserting thread: %w", err)
	}

	s.logger.Debug("created thread", "id", thread.ID, "title", thread.Title)
	return nil
}

// GetThread retrieves a thread by ID.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	query := `
		SELECT id, title, created_at, updated_at
		FROM threads
		WHERE id = ?
	`

	var thread Thread
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&thread.ID,
		&thread.Title,
		&createdAtStr,
		&updatedAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}

	thread.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	thread.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &thread, nil
}

// ListThreads retrieves threads ordered by most recent activity.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListThreads(ctx context.Context, limit int) ([]*Thread, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, title, created_at, updated_at
		FROM threads
		ORDER BY updated_at DESC, id
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		var thread Thread
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(&thread.ID, &thread.Title, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning thread row: %w", err)
		}

		thread.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		thread.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}

		threads = append(threads, &thread)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating thread rows: %w", err)
	}

	return threads, nil
}

// RenameThread updates a thread's title.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) RenameThread(ctx context.Context, id, title string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE threads SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("renaming thread: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("renamed thread", "id", id, "title", title)
	return nil
}

// DeleteThread removes a thread, its messages, and its notes in one transaction.
// Returns ErrNotFound if the thread doesn't exist; no orphan rows survive.
func (s *SQLiteStore) DeleteThread(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, id); err != nil {
		return fmt.Errorf("deleting thread messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE thread_id = ?`, id); err != nil {
		return fmt.Errorf("deleting thread notes: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting thread: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing thread delete: %w", err)
	}

	s.logger.Debug("deleted thread", "id", id)
	return nil
}

// AppendMessage persists one message and bumps the owning thread's updated_at
// in the same transaction. The bump never moves updated_at backwards, so it
// stays monotonic per thread. Returns ErrDuplicateMessage on ID collision and
// ErrNotFound if the owning thread doesn't exist.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	var toolCallsJSON any
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encoding tool calls: %w", err)
		}
		toolCallsJSON = string(data)
	}

	createdAt := msg.CreatedAt.UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// The thread must exist before the insert so a missing thread surfaces
	// as ErrNotFound rather than a foreign key failure
	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE id = ?`, msg.ThreadID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking thread: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, role, content, tool_calls, tool_call_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ThreadID,
		msg.Role,
		msg.Content,
		toolCallsJSON,
		nullString(msg.ToolCallID),
		createdAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	// RFC3339 UTC strings compare lexicographically in timestamp order
	_, err = tx.ExecContext(ctx, `
		UPDATE threads
		SET updated_at = CASE WHEN updated_at < ? THEN ? ELSE updated_at END
		WHERE id = ?
	`, createdAt, createdAt, msg.ThreadID)
	if err != nil {
		return fmt.Errorf("bumping thread updated_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message append: %w", err)
	}

	s.logger.Debug("appended message", "id", msg.ID, "thread_id", msg.ThreadID, "role", msg.Role)
	return nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ThreadMessages retrieves all messages for a thread in chronological order.
// Ties on created_at are broken by insertion order (rowid).
func (s *SQLiteStore) ThreadMessages(ctx context.Context, threadID string) ([]*Message, error) {
	query := `
		SELECT id, thread_id, role, content, tool_calls, tool_call_id, created_at
		FROM messages
		WHERE thread_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string
		var toolCalls, toolCallID *string

		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Role, &msg.Content, &toolCalls, &toolCallID, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		if toolCalls != nil && *toolCalls != "" {
			if err := json.Unmarshal([]byte(*toolCalls), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decoding tool calls for message %s: %w", msg.ID, err)
			}
		}
		if toolCallID != nil {
			msg.ToolCallID = *toolCallID
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)

// Ensure SQLiteStore implements NoteStore interface
var _ NoteStore = (*SQLiteStore)(nil)
