// ABOUTME: Pure projection of stored history into the completion payload
// ABOUTME: Preserves order and tool-call pairing; fails fast on malformed rows

package orchestrator

import (
	"fmt"

	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/store"
)

// DataIntegrityError indicates a stored message that cannot be projected,
// such as a tool message without its triggering call ID. It is fatal to the
// turn; the offending message is never silently dropped.
type DataIntegrityError struct {
	MessageID string
	Reason    string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity violation in message %s: %s", e.MessageID, e.Reason)
}

// ProjectHistory maps stored messages to the ordered completion payload.
// The fixed persona prompt is not part of the projection; the orchestrator
// passes it separately and the client places it first, independent of any
// stored system-role entries. No reordering, filtering, or deduplication.
//
// The same function serves both completion rounds of a turn, so the two call
// sites cannot drift apart.
func ProjectHistory(msgs []*store.Message) ([]llm.Message, error) {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case store.RoleUser, store.RoleSystem:
			out = append(out, llm.Message{Role: m.Role, Content: m.Content})

		case store.RoleAssistant:
			entry := llm.Message{Role: m.Role, Content: m.Content}
			for _, tc := range m.ToolCalls {
				entry.ToolCalls = append(entry.ToolCalls, llm.ToolCall{
					ID:            tc.CallID,
					Name:          tc.Name,
					ArgumentsJSON: tc.ArgumentsJSON,
				})
			}
			out = append(out, entry)

		case store.RoleTool:
			if m.ToolCallID == "" {
				return nil, &DataIntegrityError{
					MessageID: m.ID,
					Reason:    "tool message without tool_call_id",
				}
			}
			out = append(out, llm.Message{
				Role:       m.Role,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})

		default:
			return nil, &DataIntegrityError{
				MessageID: m.ID,
				Reason:    fmt.Sprintf("unknown role %q", m.Role),
			}
		}
	}
	return out, nil
}
