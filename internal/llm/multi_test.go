package llm

import (
	"context"
	"errors"
	"testing"
)

type stubClient struct {
	name    string
	pingErr error
	models  []string
}

func (s *stubClient) Chat(_ context.Context, model string, _ []Message, _ []map[string]any) (*ChatResponse, error) {
	s.models = append(s.models, model)
	return &ChatResponse{Model: model, Message: Message{Role: RoleAssistant, Content: s.name}}, nil
}

func (s *stubClient) Ping(context.Context) error { return s.pingErr }

func TestMultiClient_Routing(t *testing.T) {
	deepseek := &stubClient{name: "deepseek"}
	ollama := &stubClient{name: "ollama"}

	m := NewMultiClient(deepseek)
	m.AddProvider("openai", deepseek)
	m.AddProvider("ollama", ollama)
	m.AddModel("qwen3:4b", "ollama")

	tests := []struct {
		model string
		want  string
	}{
		{"qwen3:4b", "ollama"},
		{"deepseek-chat", "deepseek"},
		{"unknown", "deepseek"},
	}
	for _, tt := range tests {
		resp, err := m.Chat(t.Context(), tt.model, nil, nil)
		if err != nil {
			t.Fatalf("Chat(%s): %v", tt.model, err)
		}
		if resp.Message.Content != tt.want {
			t.Errorf("Chat(%s) routed to %s, want %s", tt.model, resp.Message.Content, tt.want)
		}
	}
}

func TestMultiClient_NoFallback(t *testing.T) {
	m := NewMultiClient(nil)
	if _, err := m.Chat(t.Context(), "x", nil, nil); err == nil {
		t.Fatal("expected error without fallback")
	}
	if err := m.Ping(t.Context()); err == nil {
		t.Fatal("expected ping error without providers")
	}
}

func TestMultiClient_Ping(t *testing.T) {
	ok := &stubClient{}
	down := &stubClient{pingErr: errors.New("down")}

	m := NewMultiClient(ok)
	m.AddProvider("openai", ok)
	if err := m.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	m.AddProvider("ollama", down)
	if err := m.Ping(t.Context()); err == nil {
		t.Fatal("expected error from unreachable provider")
	}
}
