// ABOUTME: In-memory conversation state for one orchestrator instance
// ABOUTME: Mirrors the persisted message log for the active thread

package session

import (
	"github.com/loomworks/loom/internal/store"
)

// State holds the conversation state of a single orchestrator instance: the
// active thread, the fixed persona prompt, and a time-ordered mirror of the
// persisted messages. Fine-grained mutators replace the whole-object swap
// pattern so composed mutations cannot lose updates.
//
// State is not safe for concurrent use. The orchestrator is the sole writer
// and callers serialize turns per conversation.
type State struct {
	systemPrompt   string
	activeThreadID string
	history        []*store.Message
}

// New creates an empty state with the given persona prompt.
// The prompt is fixed for the lifetime of the state.
func New(systemPrompt string) *State {
	return &State{systemPrompt: systemPrompt}
}

// SystemPrompt returns the fixed persona prompt.
func (s *State) SystemPrompt() string {
	return s.systemPrompt
}

// ActiveThread returns the active thread ID, or empty when none is active.
func (s *State) ActiveThread() string {
	return s.activeThreadID
}

// HasActiveThread reports whether a thread is active.
func (s *State) HasActiveThread() bool {
	return s.activeThreadID != ""
}

// Replace overwrites the state wholesale with a newly loaded thread.
// Any unsaved in-memory history is discarded, not merged.
func (s *State) Replace(threadID string, history []*store.Message) {
	s.activeThreadID = threadID
	s.history = make([]*store.Message, len(history))
	copy(s.history, history)
}

// AppendMessage adds one message to the history mirror. Callers append here
// only after the message has been durably persisted.
func (s *State) AppendMessage(msg *store.Message) {
	s.history = append(s.history, msg)
}

// History returns a copy of the history mirror in stored order.
func (s *State) History() []*store.Message {
	out := make([]*store.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Len returns the number of mirrored messages.
func (s *State) Len() int {
	return len(s.history)
}

// Clear deactivates the thread and empties the mirror.
func (s *State) Clear() {
	s.activeThreadID = ""
	s.history = nil
}
