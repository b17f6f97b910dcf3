package embeddings

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/piggy-diary/piggy/internal/httpkit"
)

// OpenAIConfig configures an [OpenAIEmbedder].
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty means api.openai.com
	Model   string // default text-embedding-3-small
}

// OpenAIEmbedder generates embeddings with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAI creates an OpenAI embedder.
func NewOpenAI(cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = httpkit.NewClient(httpkit.WithTimeout(30 * time.Second))
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(oc),
		model:  openai.EmbeddingModel(cfg.Model),
	}
}

// Embed sends all texts in one request and returns vectors in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("create embeddings: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("create embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
