// Package embeddings turns memory text into vectors for semantic recall.
package embeddings

import (
	"context"
	"math"
	"sort"
)

// Embedder converts texts to vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched lengths and zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Scored pairs a vector index with its similarity to a query.
type Scored struct {
	Index int
	Score float32
}

// TopK returns up to k vectors most similar to query, best first. Ties
// keep input order.
func TopK(query []float32, vectors [][]float32, k int) []Scored {
	if k <= 0 || len(vectors) == 0 {
		return nil
	}
	scores := make([]Scored, len(vectors))
	for i, v := range vectors {
		scores[i] = Scored{Index: i, Score: CosineSimilarity(query, v)}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
	if k < len(scores) {
		scores = scores[:k]
	}
	return scores
}
