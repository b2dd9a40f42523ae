// ABOUTME: Tests for the chat turn state machine and thread lifecycle
// ABOUTME: Uses a scripted LLM mock and a real SQLite store in a temp dir

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/internal/tools"
)

// mockLLM replays a scripted sequence of completions and records every
// request it receives.
type mockLLM struct {
	responses []*llm.Completion
	err       error
	requests  []*llm.CompletionRequest
}

func (m *mockLLM) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &llm.Completion{Text: "ok"}, nil
	}
	next := m.responses[0]
	m.responses = m.responses[1:]
	return next, nil
}

// mockToolSource exposes a fixed descriptor set and dispatches Invoke to a
// test-supplied function.
type mockToolSource struct {
	descriptors []tools.Descriptor
	invoke      func(name string, args json.RawMessage) (json.RawMessage, error)
	invoked     []string
}

func (m *mockToolSource) Available(_ context.Context) []tools.Descriptor {
	return m.descriptors
}

func (m *mockToolSource) Invoke(_ context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	m.invoked = append(m.invoked, name)
	if m.invoke == nil {
		return json.RawMessage(`{}`), nil
	}
	return m.invoke(name, args)
}

func createTestStore(t *testing.T) *store.SQLiteStore {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func echoDescriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:            "echo",
		Description:     "Echoes its arguments",
		ParameterSchema: json.RawMessage(`{"type":"object"}`),
	}
}

func TestChat_PlainTurn(t *testing.T) {
	st := createTestStore(t)
	client := &mockLLM{responses: []*llm.Completion{{Text: "hello there"}}}
	orch := New(st, &mockToolSource{}, client, "be helpful", nil)

	result, err := orch.Chat(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "hello there", result.Response)
	require.NotEmpty(t, result.ThreadID)

	msgs, err := st.ThreadMessages(context.Background(), result.ThreadID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hello there", msgs[1].Content)

	// Session mirror matches the durable log
	assert.Equal(t, result.ThreadID, orch.Session().ActiveThread())
	assert.Equal(t, 2, orch.Session().Len())
}

func TestChat_EmptyMessage(t *testing.T) {
	st := createTestStore(t)
	orch := New(st, &mockToolSource{}, &mockLLM{}, "", nil)

	_, err := orch.Chat(context.Background(), "   ", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestChat_ToolRound(t *testing.T) {
	st := createTestStore(t)
	client := &mockLLM{responses: []*llm.Completion{
		{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "echo", ArgumentsJSON: `{"text":"ping"}`}}},
		{Text: "the tool said ping"},
	}}
	catalog := &mockToolSource{
		descriptors: []tools.Descriptor{echoDescriptor()},
		invoke: func(name string, args json.RawMessage) (json.RawMessage, error) {
			return args, nil
		},
	}
	orch := New(st, catalog, client, "", nil)

	result, err := orch.Chat(context.Background(), "run echo", "")
	require.NoError(t, err)
	assert.Equal(t, "the tool said ping", result.Response)

	msgs, err := st.ThreadMessages(context.Background(), result.ThreadID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	assert.Equal(t, store.RoleUser, msgs[0].Role)

	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "call-1", msgs[1].ToolCalls[0].CallID)
	assert.Equal(t, "echo", msgs[1].ToolCalls[0].Name)

	assert.Equal(t, store.RoleTool, msgs[2].Role)
	assert.Equal(t, "call-1", msgs[2].ToolCallID)
	assert.Equal(t, `{"text":"ping"}`, msgs[2].Content)

	assert.Equal(t, store.RoleAssistant, msgs[3].Role)
	assert.Equal(t, "the tool said ping", msgs[3].Content)
}

func TestChat_SecondCompletionOffersNoTools(t *testing.T) {
	st := createTestStore(t)
	client := &mockLLM{responses: []*llm.Completion{
		{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "echo", ArgumentsJSON: `{}`}}},
		{Text: "done"},
	}}
	catalog := &mockToolSource{descriptors: []tools.Descriptor{echoDescriptor()}}
	orch := New(st, catalog, client, "", nil)

	_, err := orch.Chat(context.Background(), "go", "")
	require.NoError(t, err)

	require.Len(t, client.requests, 2)
	assert.Len(t, client.requests[0].Tools, 1)
	assert.Empty(t, client.requests[1].Tools)
}

func TestChat_MultipleCallsDispatchedInOrder(t *testing.T) {
	st := createTestStore(t)
	client := &mockLLM{responses: []*llm.Completion{
		{ToolCalls: []llm.ToolCall{
			{ID: "call-a", Name: "first", ArgumentsJSON: `{}`},
			{ID: "call-b", Name: "second", ArgumentsJSON: `{}`},
		}},
		{Text: "done"},
	}}
	catalog := &mockToolSource{}
	orch := New(st, catalog, client, "", nil)

	result, err := orch.Chat(context.Background(), "go", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, catalog.invoked)

	msgs, err := st.ThreadMessages(context.Background(), result.ThreadID)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, "call-a", msgs[2].ToolCallID)
	assert.Equal(t, "call-b", msgs[3].ToolCallID)
}

func TestChat_ToolFailureContained(t *testing.T) {
	st := createTestStore(t)
	client := &mockLLM{responses: []*llm.Completion{
		{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "echo", ArgumentsJSON: `{}`}}},
		{Text: "it failed, sorry"},
	}}
	catalog := &mockToolSource{
		invoke: func(string, json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("backend unreachable")
		},
	}
	orch := New(st, catalog, client, "", nil)

	result, err := orch.Chat(context.Background(), "go", "")
	require.NoError(t, err)
	assert.Equal(t, "it failed, sorry", result.Response)

	msgs, err := st.ThreadMessages(context.Background(), result.ThreadID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(msgs[2].Content), &payload))
	assert.Contains(t, payload["error"], "backend unreachable")
}

func TestChat_LLMFailureLeavesUserMessageDurable(t *testing.T) {
	st := createTestStore(t)
	upstream := errors.New("upstream exploded")
	orch := New(st, &mockToolSource{}, &mockLLM{err: upstream}, "", nil)

	_, err := orch.Chat(context.Background(), "hi", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream)

	threadID := orch.Session().ActiveThread()
	require.NotEmpty(t, threadID)
	msgs, err := st.ThreadMessages(context.Background(), threadID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
}

func TestChat_UnknownThreadID(t *testing.T) {
	st := createTestStore(t)
	orch := New(st, &mockToolSource{}, &mockLLM{}, "", nil)

	_, err := orch.Chat(context.Background(), "hi", "no-such-thread")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestChat_ContinuesActiveThread(t *testing.T) {
	st := createTestStore(t)
	client := &mockLLM{responses: []*llm.Completion{{Text: "one"}, {Text: "two"}}}
	orch := New(st, &mockToolSource{}, client, "", nil)

	first, err := orch.Chat(context.Background(), "a", "")
	require.NoError(t, err)
	second, err := orch.Chat(context.Background(), "b", "")
	require.NoError(t, err)

	assert.Equal(t, first.ThreadID, second.ThreadID)
	msgs, err := st.ThreadMessages(context.Background(), first.ThreadID)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
	assert.Equal(t, 4, orch.Session().Len())
}

func TestChat_SystemPromptPassedSeparately(t *testing.T) {
	st := createTestStore(t)
	client := &mockLLM{responses: []*llm.Completion{{Text: "ok"}}}
	orch := New(st, &mockToolSource{}, client, "you are a pirate", nil)

	_, err := orch.Chat(context.Background(), "hi", "")
	require.NoError(t, err)

	require.Len(t, client.requests, 1)
	assert.Equal(t, "you are a pirate", client.requests[0].System)
	// The persona prompt is not injected into the projected history
	require.Len(t, client.requests[0].Messages, 1)
	assert.Equal(t, store.RoleUser, client.requests[0].Messages[0].Role)
}

func TestLoadThread_UnknownLeavesSessionUntouched(t *testing.T) {
	st := createTestStore(t)
	client := &mockLLM{responses: []*llm.Completion{{Text: "ok"}}}
	orch := New(st, &mockToolSource{}, client, "", nil)

	result, err := orch.Chat(context.Background(), "hi", "")
	require.NoError(t, err)

	found, err := orch.LoadThread(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, result.ThreadID, orch.Session().ActiveThread())
	assert.Equal(t, 2, orch.Session().Len())
}

func TestLoadThread_RoundTrip(t *testing.T) {
	st := createTestStore(t)
	client := &mockLLM{responses: []*llm.Completion{
		{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "echo", ArgumentsJSON: `{"n":1}`}}},
		{Text: "done"},
	}}
	orch := New(st, &mockToolSource{}, client, "", nil)

	result, err := orch.Chat(context.Background(), "go", "")
	require.NoError(t, err)

	// A fresh orchestrator resuming the thread sees the identical history
	resumed := New(st, &mockToolSource{}, &mockLLM{}, "", nil)
	found, err := resumed.LoadThread(context.Background(), result.ThreadID)
	require.NoError(t, err)
	require.True(t, found)

	history := resumed.Session().History()
	require.Len(t, history, 4)
	assert.Equal(t, store.RoleUser, history[0].Role)
	require.Len(t, history[1].ToolCalls, 1)
	assert.Equal(t, "call-1", history[1].ToolCalls[0].CallID)
	assert.Equal(t, "call-1", history[2].ToolCallID)
	assert.Equal(t, "done", history[3].Content)
}

func TestCreateThread_ReplacesSession(t *testing.T) {
	st := createTestStore(t)
	client := &mockLLM{responses: []*llm.Completion{{Text: "ok"}}}
	orch := New(st, &mockToolSource{}, client, "", nil)

	first, err := orch.Chat(context.Background(), "hi", "")
	require.NoError(t, err)

	id, err := orch.CreateThread(context.Background(), "fresh")
	require.NoError(t, err)
	assert.NotEqual(t, first.ThreadID, id)
	assert.Equal(t, id, orch.Session().ActiveThread())
	assert.Equal(t, 0, orch.Session().Len())
}

func TestDeleteThread_ClearsActiveSession(t *testing.T) {
	st := createTestStore(t)
	client := &mockLLM{responses: []*llm.Completion{{Text: "ok"}}}
	orch := New(st, &mockToolSource{}, client, "", nil)

	result, err := orch.Chat(context.Background(), "hi", "")
	require.NoError(t, err)

	require.NoError(t, orch.DeleteThread(context.Background(), result.ThreadID))
	assert.False(t, orch.Session().HasActiveThread())
	assert.Equal(t, 0, orch.Session().Len())
}

func TestDeleteThread_OtherThreadKeepsSession(t *testing.T) {
	st := createTestStore(t)
	client := &mockLLM{responses: []*llm.Completion{{Text: "ok"}}}
	orch := New(st, &mockToolSource{}, client, "", nil)

	result, err := orch.Chat(context.Background(), "hi", "")
	require.NoError(t, err)

	other, err := New(st, &mockToolSource{}, &mockLLM{}, "", nil).CreateThread(context.Background(), "other")
	require.NoError(t, err)

	require.NoError(t, orch.DeleteThread(context.Background(), other))
	assert.Equal(t, result.ThreadID, orch.Session().ActiveThread())
	assert.Equal(t, 2, orch.Session().Len())
}
