// ABOUTME: Builtin notes provider: thread-scoped key-value notes as tools
// ABOUTME: Executes in-process against the store, always connects successfully

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/loomworks/loom/internal/store"
)

// NotesProvider exposes note_set, note_get, note_list, and note_delete.
// Notes are scoped to the active thread, resolved through the scope func at
// call time so the provider follows thread switches.
type NotesProvider struct {
	store store.NoteStore
	scope func() string
}

// NewNotesProvider creates the builtin notes provider. scope returns the
// active thread ID at invocation time.
func NewNotesProvider(ns store.NoteStore, scope func() string) *NotesProvider {
	return &NotesProvider{store: ns, scope: scope}
}

// ID returns the provider identity.
func (p *NotesProvider) ID() string { return "builtin:notes" }

// Connect is a no-op: builtin providers execute in-process.
func (p *NotesProvider) Connect(ctx context.Context) error { return nil }

// Tools returns the note tool descriptors.
func (p *NotesProvider) Tools() []Descriptor {
	return []Descriptor{
		{
			Name:            "note_set",
			Description:     "Store a note under a key for this conversation",
			ParameterSchema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"},"value":{"type":"string"}},"required":["key","value"]}`),
		},
		{
			Name:            "note_get",
			Description:     "Retrieve a note by key",
			ParameterSchema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`),
		},
		{
			Name:            "note_list",
			Description:     "List all notes for this conversation",
			ParameterSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:            "note_delete",
			Description:     "Delete a note by key",
			ParameterSchema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`),
		},
	}
}

// Call dispatches one note tool invocation.
func (p *NotesProvider) Call(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	threadID := p.scope()
	if threadID == "" {
		return nil, fmt.Errorf("no active conversation")
	}

	switch name {
	case "note_set":
		return p.noteSet(ctx, threadID, args)
	case "note_get":
		return p.noteGet(ctx, threadID, args)
	case "note_list":
		return p.noteList(ctx, threadID)
	case "note_delete":
		return p.noteDelete(ctx, threadID, args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

type noteSetInput struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (p *NotesProvider) noteSet(ctx context.Context, threadID string, args json.RawMessage) (json.RawMessage, error) {
	var in noteSetInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Key == "" {
		return nil, fmt.Errorf("key is required")
	}

	note := &store.Note{
		ThreadID: threadID,
		Key:      in.Key,
		Value:    in.Value,
	}
	if err := p.store.SetNote(ctx, note); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]string{"key": in.Key, "status": "saved"})
}

type noteKeyInput struct {
	Key string `json:"key"`
}

func (p *NotesProvider) noteGet(ctx context.Context, threadID string, args json.RawMessage) (json.RawMessage, error) {
	var in noteKeyInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	note, err := p.store.GetNote(ctx, threadID, in.Key)
	if errors.Is(err, store.ErrNotFound) {
		return json.Marshal(map[string]any{"key": in.Key, "found": false})
	}
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{"key": note.Key, "value": note.Value, "found": true})
}

func (p *NotesProvider) noteList(ctx context.Context, threadID string) (json.RawMessage, error) {
	notes, err := p.store.ListNotes(ctx, threadID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]string, 0, len(notes))
	for _, n := range notes {
		items = append(items, map[string]string{"key": n.Key, "value": n.Value})
	}
	return json.Marshal(map[string]any{"notes": items, "count": len(items)})
}

func (p *NotesProvider) noteDelete(ctx context.Context, threadID string, args json.RawMessage) (json.RawMessage, error) {
	var in noteKeyInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if err := p.store.DeleteNote(ctx, threadID, in.Key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("note not found: %s", in.Key)
		}
		return nil, err
	}

	return json.Marshal(map[string]string{"key": in.Key, "status": "deleted"})
}

// Ensure NotesProvider implements Provider
var _ Provider = (*NotesProvider)(nil)
