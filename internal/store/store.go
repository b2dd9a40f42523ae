// ABOUTME: Store interface and data types for loom conversation persistence
// ABOUTME: Defines Thread, Message, ToolCall structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateThread is returned when trying to create a thread that already exists
var ErrDuplicateThread = errors.New("thread already exists")

// ErrDuplicateMessage is returned when appending a message whose ID already exists
var ErrDuplicateMessage = errors.New("message already exists")

// Role constants for message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Thread represents a persisted conversation lineage
type Thread struct {
	ID        string
	Title     string // empty means untitled
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ToolCall is one model-requested tool invocation carried by an assistant message
type ToolCall struct {
	CallID        string `json:"call_id"`
	Name          string `json:"name"`
	ArgumentsJSON string `json:"arguments_json"`
}

// Message represents a single turn entry within a thread.
// ToolCalls is set only on assistant messages that request tool invocations;
// ToolCallID is set only on tool-role messages and references the triggering call.
type Message struct {
	ID         string
	ThreadID   string
	Role       string
	Content    string // may be empty for assistant messages that only carry tool calls
	ToolCalls  []ToolCall
	ToolCallID string
	CreatedAt  time.Time
}

// Note is a thread-scoped key-value note, backing the builtin notes tools
type Note struct {
	ID        string
	ThreadID  string
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store defines the interface for thread and message persistence
type Store interface {
	// Threads
	CreateThread(ctx context.Context, thread *Thread) error
	GetThread(ctx context.Context, id string) (*Thread, error)
	ListThreads(ctx context.Context, limit int) ([]*Thread, error)
	RenameThread(ctx context.Context, id, title string) error
	// DeleteThread removes the thread and all its messages in one transaction.
	DeleteThread(ctx context.Context, id string) error

	// Messages
	AppendMessage(ctx context.Context, msg *Message) error
	ThreadMessages(ctx context.Context, threadID string) ([]*Message, error)

	// Close releases any resources held by the store
	Close() error
}

// NoteStore defines methods for builtin notes tool data
type NoteStore interface {
	SetNote(ctx context.Context, note *Note) error
	GetNote(ctx context.Context, threadID, key string) (*Note, error)
	ListNotes(ctx context.Context, threadID string) ([]*Note, error)
	DeleteNote(ctx context.Context, threadID, key string) error
}
