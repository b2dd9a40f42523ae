// ABOUTME: Note persistence methods for the builtin notes tool provider
// ABOUTME: Notes are thread-scoped key-value pairs with upsert semantics

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SetNote creates or updates a note keyed by (thread_id, key).
// The note's ID and timestamps are filled in on insert.
func (s *SQLiteStore) SetNote(ctx context.Context, note *Note) error {
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, thread_id, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`,
		note.ID,
		note.ThreadID,
		note.Key,
		note.Value,
		note.CreatedAt.Format(time.RFC3339),
		note.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("setting note: %w", err)
	}

	s.logger.Debug("set note", "thread_id", note.ThreadID, "key", note.Key)
	return nil
}

// GetNote retrieves a note by thread and key.
// Returns ErrNotFound if the note doesn't exist.
func (s *SQLiteStore) GetNote(ctx context.Context, threadID, key string) (*Note, error) {
	query := `
		SELECT id, thread_id, key, value, created_at, updated_at
		FROM notes
		WHERE thread_id = ? AND key = ?
	`

	var note Note
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, threadID, key).Scan(
		&note.ID,
		&note.ThreadID,
		&note.Key,
		&note.Value,
		&createdAtStr,
		&updatedAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying note: %w", err)
	}

	note.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	note.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &note, nil
}

// ListNotes returns all notes for a thread ordered by key.
func (s *SQLiteStore) ListNotes(ctx context.Context, threadID string) ([]*Note, error) {
	query := `
		SELECT id, thread_id, key, value, created_at, updated_at
		FROM notes
		WHERE thread_id = ?
		ORDER BY key
	`

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		var note Note
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(&note.ID, &note.ThreadID, &note.Key, &note.Value, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning note row: %w", err)
		}

		note.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		note.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}

		notes = append(notes, &note)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating note rows: %w", err)
	}
	return notes, nil
}

// DeleteNote removes a note by thread and key.
// Returns ErrNotFound if the note doesn't exist.
func (s *SQLiteStore) DeleteNote(ctx context.Context, threadID, key string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notes WHERE thread_id = ? AND key = ?`, threadID, key)
	if err != nil {
		return fmt.Errorf("deleting note: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted note", "thread_id", threadID, "key", key)
	return nil
}
