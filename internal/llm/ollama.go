package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/piggy-diary/piggy/internal/httpkit"
)

// OllamaClient is a client for a local Ollama server. It lets the diary
// run fully offline against a tool-capable local model.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(5*time.Minute),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// ollamaMessage is the Ollama wire shape. Unlike the OpenAI format,
// tool call arguments are a JSON object and calls carry no id.
type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaChatRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	TotalDuration   int64         `json:"total_duration,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

// Chat sends a non-streaming chat request to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	req := ollamaChatRequest{
		Model:    model,
		Messages: toOllamaMessages(messages),
		Stream:   false,
		Tools:    tools,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "ollama request", "model", model, "body", string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var wire ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	msg := fromOllamaMessage(wire.Message)
	if len(msg.ToolCalls) == 0 && msg.Content != "" {
		if parsed := parseTextToolCalls(msg.Content, extractToolNames(tools)); len(parsed) > 0 {
			c.logger.Debug("recovered text-encoded tool calls", "count", len(parsed))
			msg.ToolCalls = parsed
			msg.Content = ""
		}
	}

	return &ChatResponse{
		Model:        wire.Model,
		Message:      msg,
		InputTokens:  wire.PromptEvalCount,
		OutputTokens: wire.EvalCount,
		Duration:     time.Duration(wire.TotalDuration),
	}, nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama API error %d", resp.StatusCode)
	}
	return nil
}

func toOllamaMessages(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		if m.Role == RoleTool {
			om.ToolName = m.Name
		}
		for _, tc := range m.ToolCalls {
			var call ollamaToolCall
			call.Function.Name = tc.Function.Name
			call.Function.Arguments = map[string]any{}
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &call.Function.Arguments)
			om.ToolCalls = append(om.ToolCalls, call)
		}
		out = append(out, om)
	}
	return out
}

func fromOllamaMessage(m ollamaMessage) Message {
	msg := Message{Role: RoleAssistant, Content: m.Content}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, newToolCall(tc.Function.Name, tc.Function.Arguments))
	}
	return msg
}

// newToolCall builds a provider-neutral call with a synthetic id and
// the arguments re-encoded as raw JSON.
func newToolCall(name string, args map[string]any) ToolCall {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte("{}")
	}
	return ToolCall{
		ID:       "call_" + uuid.NewString(),
		Function: FunctionCall{Name: name, Arguments: string(raw)},
	}
}

// parseTextToolCalls recovers tool calls that a local model wrote into
// its content instead of the native tool_calls field. It understands a
// bare object, an array of objects, and <tool_call> tags. When
// validTools is non-empty, calls to other names are dropped.
func parseTextToolCalls(content string, validTools []string) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if start := strings.Index(content, "<tool_call>"); start != -1 {
		rest := content[start+len("<tool_call>"):]
		if end := strings.Index(rest, "</tool_call>"); end != -1 {
			rest = rest[:end]
		}
		content = strings.TrimSpace(rest)
	}

	type textCall struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}

	var calls []textCall
	if err := json.Unmarshal([]byte(content), &calls); err != nil {
		var single textCall
		if err := json.Unmarshal([]byte(content), &single); err != nil {
			return nil
		}
		calls = []textCall{single}
	}

	var result []ToolCall
	for _, c := range calls {
		if c.Name == "" {
			continue
		}
		if len(validTools) > 0 && !slices.Contains(validTools, c.Name) {
			continue
		}
		result = append(result, newToolCall(c.Name, c.Arguments))
	}
	return result
}
