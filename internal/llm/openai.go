package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/piggy-diary/piggy/internal/httpkit"
)

// DefaultOpenAIBaseURL points at DeepSeek's OpenAI-compatible API.
const DefaultOpenAIBaseURL = "https://api.deepseek.com/v1"

// OpenAIClient talks to any OpenAI-compatible chat completions API.
// DeepSeek is the default target.
type OpenAIClient struct {
	client  *openai.Client
	baseURL string
	logger  *slog.Logger
}

// NewOpenAIClient creates a client for the given key and base URL. An
// empty baseURL selects [DefaultOpenAIBaseURL].
func NewOpenAIClient(apiKey, baseURL string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	// Per-call deadlines come from the caller's context.
	cfg.HTTPClient = httpkit.NewClient(
		httpkit.WithTimeout(0),
		httpkit.WithRetry(2, 500*time.Millisecond),
		httpkit.WithLogger(logger),
	)

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(cfg),
		baseURL: baseURL,
		logger:  logger,
	}
}

// Chat sends a chat completion request with the tool catalog attached.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(messages),
		Tools:    toOpenAITools(tools),
	}

	c.logger.Log(ctx, LevelTrace, "openai request",
		"base_url", c.baseURL, "model", model, "messages", len(messages), "tools", len(req.Tools))

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("chat completion: API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: response has no choices")
	}

	msg := fromOpenAIMessage(resp.Choices[0].Message)
	c.logger.Log(ctx, LevelTrace, "openai response",
		"model", resp.Model,
		"finish_reason", resp.Choices[0].FinishReason,
		"tool_calls", len(msg.ToolCalls),
		"content_len", len(msg.Content),
	)

	return &ChatResponse{
		Model:        resp.Model,
		Message:      msg,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Duration:     time.Since(start),
	}, nil
}

// Ping lists models to check the endpoint and key.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if m.Role == RoleTool {
			om.Name = m.Name
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(tools []map[string]any) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		name, desc, params, ok := toolSpec(t)
		if !ok {
			continue
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        name,
				Description: desc,
				Parameters:  params,
			},
		})
	}
	return out
}

func fromOpenAIMessage(m openai.ChatCompletionMessage) Message {
	msg := Message{
		Role:    RoleAssistant,
		Content: m.Content,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID: tc.ID,
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return msg
}
