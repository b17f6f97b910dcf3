// Package classify decides what kind of context a chat message needs.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/piggy-diary/piggy/internal/llm"
	"github.com/piggy-diary/piggy/internal/prompts"
)

// Label is the routing decision for a query.
type Label string

// Labels.
const (
	// Realtime queries need only the current time block.
	Realtime Label = "realtime"
	// Memory queries refer to the past and get the most recall.
	Memory Label = "memory"
	// Mixed queries get the time block and a smaller recall.
	Mixed Label = "mixed"
)

// ParseLabel accepts a label with surrounding whitespace, case and
// punctuation noise.
func ParseLabel(s string) (Label, error) {
	s = strings.ToLower(strings.Trim(strings.TrimSpace(s), " .。\"'`*"))
	switch Label(s) {
	case Realtime, Memory, Mixed:
		return Label(s), nil
	}
	// Models sometimes wrap the word in a sentence.
	for _, l := range []Label{Mixed, Realtime, Memory} {
		if strings.Contains(s, string(l)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("unrecognized label %q", s)
}

// Classifier labels a query.
type Classifier interface {
	Classify(ctx context.Context, query string) (Label, error)
}

var (
	realtimeCues = []string{
		"天气", "下雨", "气温", "温度", "现在", "今天", "今晚", "明天", "几点", "时间", "日期", "星期", "周几", "礼拜",
		"weather", "today", "tonight", "tomorrow", "now", "time", "date",
	}
	memoryCues = []string{
		"记得", "之前", "以前", "上次", "那次", "那天", "上周", "上个月", "去年", "说过", "回忆", "记忆", "喜欢", "讨厌", "生日", "纪念日", "计划",
		"remember", "last time", "before", "used to", "birthday", "anniversary", "favorite",
	}
)

// KeywordClassifier labels queries by cue words. It never fails.
type KeywordClassifier struct{}

// Classify implements Classifier.
func (KeywordClassifier) Classify(_ context.Context, query string) (Label, error) {
	return keywordLabel(query), nil
}

func keywordLabel(query string) Label {
	q := strings.ToLower(query)
	rt := containsAny(q, realtimeCues)
	mem := containsAny(q, memoryCues)
	switch {
	case rt && !mem:
		return Realtime
	case mem && !rt:
		return Memory
	default:
		return Mixed
	}
}

func containsAny(s string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}

// LLMClassifier asks a model for the label and falls back to keyword
// matching when the model fails or answers something unparseable.
type LLMClassifier struct {
	client   llm.Client
	model    string
	fallback Classifier
	logger   *slog.Logger
}

// NewLLMClassifier creates a model-backed classifier.
func NewLLMClassifier(client llm.Client, model string, logger *slog.Logger) *LLMClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMClassifier{client: client, model: model, fallback: KeywordClassifier{}, logger: logger}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, query string) (Label, error) {
	resp, err := c.client.Chat(ctx, c.model, []llm.Message{
		{Role: llm.RoleUser, Content: prompts.ClassifierPrompt(query)},
	}, nil)
	if err != nil {
		c.logger.Warn("classifier model failed, using keywords", "error", err)
		return c.fallback.Classify(ctx, query)
	}

	label, err := ParseLabel(resp.Message.Content)
	if err != nil {
		c.logger.Warn("classifier reply unparseable, using keywords", "reply", resp.Message.Content)
		return c.fallback.Classify(ctx, query)
	}
	c.logger.Debug("query classified", "label", label, "model", c.model)
	return label, nil
}
