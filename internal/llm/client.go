package llm

import "context"

// Client is the interface that all model providers implement.
type Client interface {
	// Chat sends the conversation and the tool catalog (OpenAI function
	// format) and returns either text or tool calls.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// toolSpec unpacks one OpenAI-format tool entry.
func toolSpec(t map[string]any) (name, description string, parameters any, ok bool) {
	fn, ok := t["function"].(map[string]any)
	if !ok {
		return "", "", nil, false
	}
	name, _ = fn["name"].(string)
	description, _ = fn["description"].(string)
	return name, description, fn["parameters"], name != ""
}

// extractToolNames returns the names of every well-formed tool entry.
func extractToolNames(tools []map[string]any) []string {
	if len(tools) == 0 {
		return nil
	}
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		if name, _, _, ok := toolSpec(t); ok {
			names = append(names, name)
		}
	}
	return names
}
