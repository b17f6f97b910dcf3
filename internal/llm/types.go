// Package llm provides the model clients used by the conversation loop.
//
// Every provider speaks the same provider-neutral types. Wire format
// conversion happens at the provider boundary (openai.go, ollama.go) so
// the loop never sees a vendor struct.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a conversation sent to or received from a model.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are set on tool result messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ToolCall is a tool invocation requested by the model. Arguments holds
// the raw JSON text exactly as the model produced it; it may be
// malformed and is only parsed by the tool executor.
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its raw arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatResponse is the unified response from any provider.
type ChatResponse struct {
	Model   string
	Message Message

	InputTokens  int
	OutputTokens int

	Duration time.Duration
}

// HasToolCalls reports whether the model asked for tools rather than
// producing a final reply.
func (r *ChatResponse) HasToolCalls() bool {
	return r != nil && len(r.Message.ToolCalls) > 0
}
