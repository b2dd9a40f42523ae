// ABOUTME: Tests for the OpenAI-compatible completion client
// ABOUTME: Uses an httptest server standing in for the chat-completions endpoint

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEndpoint captures the decoded request body and serves a canned reply.
type fakeEndpoint struct {
	status   int
	response string
	lastBody map[string]any
}

func (f *fakeEndpoint) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastBody = body

		w.Header().Set("Content-Type", "application/json")
		if f.status != 0 {
			w.WriteHeader(f.status)
		}
		_, _ = w.Write([]byte(f.response))
	}
}

func newTestClient(t *testing.T, f *fakeEndpoint) *OpenAIClient {
	server := httptest.NewServer(f.handler())
	t.Cleanup(server.Close)
	return NewOpenAIClient(server.URL+"/v1", "test-key", "test-model")
}

func textResponse(content string) string {
	return `{"id":"resp-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"` + content + `"},"finish_reason":"stop"}]}`
}

func (f *fakeEndpoint) messages() []any {
	msgs, _ := f.lastBody["messages"].([]any)
	return msgs
}

func TestComplete_TextResponse(t *testing.T) {
	f := &fakeEndpoint{response: textResponse("hello from the model")}
	client := newTestClient(t, f)

	completion, err := client.Complete(context.Background(), &CompletionRequest{
		System:   "be nice",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello from the model", completion.Text)
	assert.Empty(t, completion.ToolCalls)

	assert.Equal(t, "test-model", f.lastBody["model"])
	msgs := f.messages()
	require.Len(t, msgs, 2)

	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "be nice", first["content"])
	second := msgs[1].(map[string]any)
	assert.Equal(t, "user", second["role"])
}

func TestComplete_NoSystemPromptOmitsSystemMessage(t *testing.T) {
	f := &fakeEndpoint{response: textResponse("ok")}
	client := newTestClient(t, f)

	_, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	msgs := f.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
}

func TestComplete_ToolCallResponse(t *testing.T) {
	f := &fakeEndpoint{response: `{"id":"resp-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"","tool_calls":[{"id":"call-1","type":"function","function":{"name":"note_set","arguments":"{\"key\":\"k\",\"value\":\"v\"}"}}]},"finish_reason":"tool_calls"}]}`}
	client := newTestClient(t, f)

	completion, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: "user", Content: "save this"}},
	})
	require.NoError(t, err)
	assert.Empty(t, completion.Text)
	require.Len(t, completion.ToolCalls, 1)
	assert.Equal(t, "call-1", completion.ToolCalls[0].ID)
	assert.Equal(t, "note_set", completion.ToolCalls[0].Name)
	assert.JSONEq(t, `{"key":"k","value":"v"}`, completion.ToolCalls[0].ArgumentsJSON)
}

func TestComplete_SerializesTools(t *testing.T) {
	f := &fakeEndpoint{response: textResponse("ok")}
	client := newTestClient(t, f)

	_, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Tools: []Tool{{
			Name:            "note_get",
			Description:     "Retrieve a note",
			ParameterSchema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"}}}`),
		}},
	})
	require.NoError(t, err)

	rawTools, ok := f.lastBody["tools"].([]any)
	require.True(t, ok)
	require.Len(t, rawTools, 1)

	tool := rawTools[0].(map[string]any)
	assert.Equal(t, "function", tool["type"])
	fn := tool["function"].(map[string]any)
	assert.Equal(t, "note_get", fn["name"])
	assert.Equal(t, "Retrieve a note", fn["description"])
}

func TestComplete_RoundTripsToolHistory(t *testing.T) {
	f := &fakeEndpoint{response: textResponse("ok")}
	client := newTestClient(t, f)

	_, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{
			{Role: "user", Content: "go"},
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "call-1", Name: "echo", ArgumentsJSON: `{}`}}},
			{Role: "tool", Content: `{"ok":true}`, ToolCallID: "call-1"},
		},
	})
	require.NoError(t, err)

	msgs := f.messages()
	require.Len(t, msgs, 3)

	assistant := msgs[1].(map[string]any)
	calls := assistant["tool_calls"].([]any)
	require.Len(t, calls, 1)
	assert.Equal(t, "call-1", calls[0].(map[string]any)["id"])

	toolMsg := msgs[2].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "call-1", toolMsg["tool_call_id"])
}

func TestComplete_UpstreamError(t *testing.T) {
	f := &fakeEndpoint{status: http.StatusInternalServerError, response: `{"error":{"message":"boom"}}`}
	client := newTestClient(t, f)

	_, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestComplete_NoChoices(t *testing.T) {
	f := &fakeEndpoint{response: `{"id":"resp-1","object":"chat.completion","choices":[]}`}
	client := newTestClient(t, f)

	_, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestComplete_EmptyCompletion(t *testing.T) {
	f := &fakeEndpoint{response: textResponse("")}
	client := newTestClient(t, f)

	_, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}
