// ABOUTME: Completion client boundary between the orchestrator and LLM vendors
// ABOUTME: Defines the request/response types and the Client interface

package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUpstream indicates the completion service call failed.
// The orchestrator propagates it to the caller as a turn failure.
var ErrUpstream = errors.New("upstream completion failed")

// ErrEmptyCompletion indicates the completion service returned neither text
// nor tool calls
var ErrEmptyCompletion = errors.New("completion carried no text and no tool calls")

// Message is one role-tagged entry in a completion request payload
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // assistant entries that requested tool invocations
	ToolCallID string     // tool entries, references the triggering call
}

// ToolCall is one model-requested tool invocation
type ToolCall struct {
	ID            string
	Name          string
	ArgumentsJSON string
}

// Tool describes one callable tool offered to the model
type Tool struct {
	Name            string
	Description     string
	ParameterSchema json.RawMessage
}

// CompletionRequest is the full payload for one completion round.
// An empty Tools slice means no tool-calling is offered.
type CompletionRequest struct {
	System   string
	Messages []Message
	Tools    []Tool
}

// Completion is the model's reply: either plain text or a non-empty ordered
// list of tool calls (text may accompany the calls).
type Completion struct {
	Text      string
	ToolCalls []ToolCall
}

// Client requests exactly one complete (non-streamed) response per call
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
}
