// ABOUTME: OpenAI-compatible implementation of the completion Client
// ABOUTME: Maps loom messages/tools to chat-completions requests via go-openai

package llm

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Client against any OpenAI-compatible
// chat-completions endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIClient creates a client for the given endpoint and model.
// baseURL may be empty to use the default OpenAI API endpoint.
func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: slog.Default().With("component", "llm"),
	}
}

// Complete requests one chat completion with the projected history and the
// offered tools. The system prompt is always placed first.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, toOpenAIMessage(m))
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	}
	for _, t := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.ParameterSchema,
			},
		})
	}

	c.logger.Debug("requesting completion",
		"model", c.model,
		"messages", len(messages),
		"tools", len(chatReq.Tools))

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: response carried no choices", ErrUpstream)
	}

	choice := resp.Choices[0].Message
	completion := &Completion{Text: choice.Content}
	for _, tc := range choice.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, ToolCall{
			ID:            tc.ID,
			Name:          tc.Function.Name,
			ArgumentsJSON: tc.Function.Arguments,
		})
	}

	if completion.Text == "" && len(completion.ToolCalls) == 0 {
		return nil, ErrEmptyCompletion
	}

	return completion, nil
}

// toOpenAIMessage maps one projected entry to the wire format, preserving
// the tool-call/tool-result pairing.
func toOpenAIMessage(m Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.ArgumentsJSON,
			},
		})
	}
	return out
}

// Ensure OpenAIClient implements Client
var _ Client = (*OpenAIClient)(nil)
