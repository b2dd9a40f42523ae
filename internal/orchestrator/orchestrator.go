// ABOUTME: Conversation orchestrator: thread lifecycle and the chat turn state machine
// ABOUTME: Record first, then act - every message is persisted before the next step runs

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/session"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/internal/tools"
)

// ErrEmptyMessage is returned by Chat when the user message is empty.
var ErrEmptyMessage = errors.New("message is empty")

// Store defines what the orchestrator needs from storage
type Store interface {
	CreateThread(ctx context.Context, thread *store.Thread) error
	GetThread(ctx context.Context, id string) (*store.Thread, error)
	ListThreads(ctx context.Context, limit int) ([]*store.Thread, error)
	RenameThread(ctx context.Context, id, title string) error
	DeleteThread(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, msg *store.Message) error
	ThreadMessages(ctx context.Context, threadID string) ([]*store.Message, error)
}

// ToolSource defines what the orchestrator needs from the tool catalog
type ToolSource interface {
	Available(ctx context.Context) []tools.Descriptor
	Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// Orchestrator drives chat turns for one conversation at a time. It is the
// sole writer of its session state; callers serialize Chat invocations per
// conversation.
type Orchestrator struct {
	store   Store
	catalog ToolSource
	client  llm.Client
	session *session.State
	logger  *slog.Logger
}

// New creates an orchestrator with an empty session.
func New(s Store, catalog ToolSource, client llm.Client, systemPrompt string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:   s,
		catalog: catalog,
		client:  client,
		session: session.New(systemPrompt),
		logger:  logger.With("component", "orchestrator"),
	}
}

// Session exposes the conversation state, e.g. for history display and
// thread-scoped tool providers.
func (o *Orchestrator) Session() *session.State {
	return o.session
}

// CreateThread persists a fresh thread and makes it the active conversation,
// discarding any previous session state.
func (o *Orchestrator) CreateThread(ctx context.Context, title string) (string, error) {
	now := time.Now()
	thread := &store.Thread{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateThread(ctx, thread); err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}

	o.session.Replace(thread.ID, nil)
	o.logger.Debug("thread created", "thread_id", thread.ID)
	return thread.ID, nil
}

// LoadThread makes an existing thread the active conversation, reloading its
// full history. Returns false and leaves the session untouched when the
// thread doesn't exist.
func (o *Orchestrator) LoadThread(ctx context.Context, threadID string) (bool, error) {
	_, err := o.store.GetThread(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up thread: %w", err)
	}

	msgs, err := o.store.ThreadMessages(ctx, threadID)
	if err != nil {
		return false, fmt.Errorf("loading thread messages: %w", err)
	}

	// Full overwrite, not a merge - unsaved state is discarded
	o.session.Replace(threadID, msgs)
	o.logger.Debug("thread loaded", "thread_id", threadID, "messages", len(msgs))
	return true, nil
}

// ListThreads returns all threads, most recently active first.
// Read-only; the session is not touched.
func (o *Orchestrator) ListThreads(ctx context.Context) ([]*store.Thread, error) {
	return o.store.ListThreads(ctx, 0)
}

// RenameThread updates a thread's title.
func (o *Orchestrator) RenameThread(ctx context.Context, threadID, title string) error {
	return o.store.RenameThread(ctx, threadID, title)
}

// DeleteThread removes a thread and all its messages. If it was the active
// conversation, the session is cleared.
func (o *Orchestrator) DeleteThread(ctx context.Context, threadID string) error {
	if err := o.store.DeleteThread(ctx, threadID); err != nil {
		return err
	}
	if o.session.ActiveThread() == threadID {
		o.session.Clear()
	}
	o.logger.Debug("thread deleted", "thread_id", threadID)
	return nil
}

// ChatResult is the outcome of one chat turn.
type ChatResult struct {
	Response string
	ThreadID string
}

// Chat runs one turn: append the user message, request a completion with the
// available tools, run at most one round of tool calls, and return the final
// assistant text. Tool failures are reported back to the model, never thrown;
// an LLM failure propagates with the user message already durable.
func (o *Orchestrator) Chat(ctx context.Context, message, threadID string) (*ChatResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	if err := o.resolveThread(ctx, threadID); err != nil {
		return nil, err
	}
	activeID := o.session.ActiveThread()

	// 1. Record the user message first, so it survives any downstream failure
	if err := o.appendMessage(ctx, &store.Message{
		ID:        uuid.New().String(),
		ThreadID:  activeID,
		Role:      store.RoleUser,
		Content:   message,
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("recording user message: %w", err)
	}

	// 2. First completion, with whatever tools are currently available
	available := o.catalog.Available(ctx)
	completion, err := o.complete(ctx, available)
	if err != nil {
		return nil, err
	}

	// 3. No tool calls: the text is the final response
	if len(completion.ToolCalls) == 0 {
		if err := o.appendMessage(ctx, &store.Message{
			ID:        uuid.New().String(),
			ThreadID:  activeID,
			Role:      store.RoleAssistant,
			Content:   completion.Text,
			CreatedAt: time.Now(),
		}); err != nil {
			return nil, fmt.Errorf("recording assistant message: %w", err)
		}
		return &ChatResult{Response: completion.Text, ThreadID: activeID}, nil
	}

	// 4. Tool round: persist the assistant request before executing anything,
	// so a trace exists even if a tool fails
	assistantMsg := &store.Message{
		ID:        uuid.New().String(),
		ThreadID:  activeID,
		Role:      store.RoleAssistant,
		Content:   completion.Text,
		CreatedAt: time.Now(),
	}
	for _, tc := range completion.ToolCalls {
		assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, store.ToolCall{
			CallID:        tc.ID,
			Name:          tc.Name,
			ArgumentsJSON: tc.ArgumentsJSON,
		})
	}
	if err := o.appendMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("recording assistant tool request: %w", err)
	}

	// Sequential dispatch in the order the model issued the calls. Ordering
	// is the tie-break for persisted tool results and bounds resource use.
	for _, tc := range completion.ToolCalls {
		content := o.invokeTool(ctx, tc)
		if err := o.appendMessage(ctx, &store.Message{
			ID:         uuid.New().String(),
			ThreadID:   activeID,
			Role:       store.RoleTool,
			Content:    content,
			ToolCallID: tc.ID,
			CreatedAt:  time.Now(),
		}); err != nil {
			return nil, fmt.Errorf("recording tool result: %w", err)
		}
	}

	// 5. Second completion with tools omitted: no deeper tool-chaining is
	// offered within the same user turn
	final, err := o.complete(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(final.ToolCalls) > 0 {
		o.logger.Warn("model requested tools on the closing completion, ignoring",
			"thread_id", activeID,
			"calls", len(final.ToolCalls))
	}

	if err := o.appendMessage(ctx, &store.Message{
		ID:        uuid.New().String(),
		ThreadID:  activeID,
		Role:      store.RoleAssistant,
		Content:   final.Text,
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("recording final assistant message: %w", err)
	}

	return &ChatResult{Response: final.Text, ThreadID: activeID}, nil
}

// resolveThread ensures a thread is active: loads the requested one, keeps
// the current one, or creates a fresh one when none is given.
func (o *Orchestrator) resolveThread(ctx context.Context, threadID string) error {
	if threadID != "" {
		if threadID == o.session.ActiveThread() {
			return nil
		}
		found, err := o.LoadThread(ctx, threadID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("thread %s: %w", threadID, store.ErrNotFound)
		}
		return nil
	}

	if o.session.HasActiveThread() {
		return nil
	}

	_, err := o.CreateThread(ctx, "")
	return err
}

// appendMessage persists a message and mirrors it into the session, in that
// order. The mirror only ever reflects durable messages.
func (o *Orchestrator) appendMessage(ctx context.Context, msg *store.Message) error {
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		return err
	}
	o.session.AppendMessage(msg)
	return nil
}

// complete projects the session history and requests one completion.
// A nil descriptors slice offers no tool-calling.
func (o *Orchestrator) complete(ctx context.Context, available []tools.Descriptor) (*llm.Completion, error) {
	entries, err := ProjectHistory(o.session.History())
	if err != nil {
		return nil, err
	}

	req := &llm.CompletionRequest{
		System:   o.session.SystemPrompt(),
		Messages: entries,
	}
	for _, d := range available {
		req.Tools = append(req.Tools, llm.Tool{
			Name:            d.Name,
			Description:     d.Description,
			ParameterSchema: d.ParameterSchema,
		})
	}

	completion, err := o.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}
	return completion, nil
}

// invokeTool runs one tool call and serializes its outcome as the tool
// message content. Failures become an error payload for the model; they do
// not abort the turn.
func (o *Orchestrator) invokeTool(ctx context.Context, tc llm.ToolCall) string {
	result, err := o.catalog.Invoke(ctx, tc.Name, json.RawMessage(tc.ArgumentsJSON))
	if err != nil {
		o.logger.Warn("tool call failed",
			"tool", tc.Name,
			"call_id", tc.ID,
			"error", err)
		payload, merr := json.Marshal(map[string]string{"error": err.Error()})
		if merr != nil {
			return `{"error":"tool execution failed"}`
		}
		return string(payload)
	}

	o.logger.Debug("tool call succeeded", "tool", tc.Name, "call_id", tc.ID)
	return string(result)
}
