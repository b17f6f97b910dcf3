package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/piggy-diary/piggy/internal/classify"
	"github.com/piggy-diary/piggy/internal/memory"
	"github.com/piggy-diary/piggy/internal/prompts"
	"github.com/piggy-diary/piggy/internal/trail"
)

// Retrieval sizes per query label.
const (
	MemoryK = 6
	MixedK  = 4
)

// MemorySearcher finds memories related to a query.
type MemorySearcher interface {
	Search(ctx context.Context, query string, k int) ([]memory.Retrieved, error)
}

// ContextBuilder primes the first model call with the current time and,
// for queries about the past, recalled memories. It never fails: a
// classifier or search error degrades to the time block alone.
type ContextBuilder struct {
	classifier classify.Classifier
	memory     MemorySearcher
	loc        *time.Location
	now        func() time.Time
	logger     *slog.Logger
}

// NewContextBuilder creates a builder. A nil classifier means keyword
// classification; a nil searcher disables memory recall.
func NewContextBuilder(classifier classify.Classifier, mem MemorySearcher, loc *time.Location, logger *slog.Logger) *ContextBuilder {
	if classifier == nil {
		classifier = classify.KeywordClassifier{}
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextBuilder{classifier: classifier, memory: mem, loc: loc, now: time.Now, logger: logger}
}

// Build returns the context for query, or "" for a blank query.
// Diagnostic lines go to the trail carried by ctx.
func (b *ContextBuilder) Build(ctx context.Context, query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}
	tr := trail.FromContext(ctx)

	now := b.now().In(b.loc)
	base := prompts.TimeBlock(now)
	tr.Add("当前时间: " + now.Format("2006-01-02 15:04:05"))

	label, err := b.classifier.Classify(ctx, query)
	if err != nil {
		b.logger.Warn("query classification failed, using time context only", "error", err)
		tr.Add("意图分类失败，仅使用时间信息")
		return base
	}
	tr.Add("意图分类: " + string(label))

	var k int
	switch label {
	case classify.Realtime:
		return base
	case classify.Memory:
		k = MemoryK
	default:
		k = MixedK
	}
	if b.memory == nil {
		return base
	}

	hits, err := b.memory.Search(ctx, query, k)
	if err != nil {
		if errors.Is(err, memory.ErrNoEmbedder) {
			b.logger.Debug("memory search unavailable", "error", err)
		} else {
			b.logger.Warn("memory search failed, using time context only", "error", err)
		}
		tr.Add("记忆检索失败，仅使用时间信息")
		return base
	}
	if len(hits) == 0 {
		return base
	}

	tr.Add(fmt.Sprintf("检索到的记忆摘要: %d 条", len(hits)))
	entries := make([]string, len(hits))
	for i, h := range hits {
		entries[i] = prompts.MemoryEntry(h.Metadata.Datetime.In(b.loc), h.Metadata.Type, h.Metadata.Author, h.Text)
		tr.Add(fmt.Sprintf("  [%d] %s (%s): %s", i+1, h.Metadata.Type,
			h.Metadata.Datetime.In(b.loc).Format("2006-01-02"), preview(h.Text, 100)))
	}
	return prompts.MemoryContext(base, entries)
}

// preview flattens text to one line and truncates it to n runes.
func preview(text string, n int) string {
	text = strings.ReplaceAll(text, "\n", " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
