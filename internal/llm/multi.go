package llm

import (
	"context"
	"fmt"
)

// MultiClient routes requests to a provider based on model name, so the
// chat model and the classifier model can live on different backends.
type MultiClient struct {
	clients  map[string]Client // provider name → client
	models   map[string]string // model name → provider name
	fallback Client
}

// NewMultiClient creates a router whose unknown models go to fallback.
func NewMultiClient(fallback Client) *MultiClient {
	return &MultiClient{
		clients:  make(map[string]Client),
		models:   make(map[string]string),
		fallback: fallback,
	}
}

// AddProvider registers a client for a provider name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.clients[name] = client
}

// AddModel maps a model name to a provider.
func (m *MultiClient) AddModel(modelName, providerName string) {
	m.models[modelName] = providerName
}

func (m *MultiClient) clientFor(model string) Client {
	if provider, ok := m.models[model]; ok {
		if client, ok := m.clients[provider]; ok {
			return client
		}
	}
	return m.fallback
}

// Chat sends a request to the provider that serves model.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	client := m.clientFor(model)
	if client == nil {
		return nil, fmt.Errorf("no provider configured for model %q", model)
	}
	return client.Chat(ctx, model, messages, tools)
}

// Ping checks every registered provider and the fallback.
func (m *MultiClient) Ping(ctx context.Context) error {
	if m.fallback == nil && len(m.clients) == 0 {
		return fmt.Errorf("no providers configured")
	}
	if m.fallback != nil {
		if err := m.fallback.Ping(ctx); err != nil {
			return err
		}
	}
	for name, c := range m.clients {
		if c == m.fallback {
			continue
		}
		if err := c.Ping(ctx); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
	}
	return nil
}
