// Package agent runs one chat request: it builds the first-call
// context, drives the model through tool-calling rounds, and returns a
// single reply.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/piggy-diary/piggy/internal/events"
	"github.com/piggy-diary/piggy/internal/llm"
	"github.com/piggy-diary/piggy/internal/metrics"
	"github.com/piggy-diary/piggy/internal/prompts"
	"github.com/piggy-diary/piggy/internal/tools"
	"github.com/piggy-diary/piggy/internal/trail"
)

// Loop defaults.
const (
	DefaultMaxRounds    = 5
	DefaultModelTimeout = 60 * time.Second
)

// ErrNoMessages is returned for a request without messages.
var ErrNoMessages = errors.New("messages is required")

// State is a step of the conversation state machine.
type State int

const (
	// StateAwaitingModel waits for the next model response.
	StateAwaitingModel State = iota
	// StateAwaitingToolResults runs the tool calls of the last response.
	StateAwaitingToolResults
	// StateFinished is terminal.
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "awaiting_model"
	case StateAwaitingToolResults:
		return "awaiting_tool_results"
	case StateFinished:
		return "finished"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome says how a conversation reached StateFinished.
type Outcome string

const (
	// OutcomeCompleted: the model produced a text reply.
	OutcomeCompleted Outcome = "completed"
	// OutcomeEmpty: the model answered with neither text nor tool calls.
	OutcomeEmpty Outcome = "empty"
	// OutcomeCapped: the round limit was reached while the model was
	// still calling tools. The reply is the last assistant text seen.
	OutcomeCapped Outcome = "capped"
)

// ToolRunner executes one tool call. It must not fail.
type ToolRunner interface {
	Execute(ctx context.Context, call llm.ToolCall) tools.Outcome
}

// ContextSource produces the first-call context for a query.
type ContextSource interface {
	Build(ctx context.Context, query string) string
}

// Config tunes a Loop.
type Config struct {
	Model        string
	SystemPrompt string
	MaxRounds    int
	ModelTimeout time.Duration
	// Tools is the catalog passed to every model call.
	Tools []map[string]any
}

// Request is one inbound chat turn.
type Request struct {
	Messages []llm.Message
	// RequestID correlates logs and events. Empty generates one.
	RequestID string
}

// Result is the finished conversation.
type Result struct {
	RequestID    string
	Reply        string
	NeedsRefresh bool
	Outcome      Outcome
	Rounds       int
	// History is the conversation after the final round, without the
	// system message.
	History []llm.Message
	// SystemPrompt is the base instruction sent on every call.
	SystemPrompt string
	Elapsed      time.Duration
}

// Loop is the conversation driver. It is safe for concurrent use; all
// per-request state lives in Run.
type Loop struct {
	llm          llm.Client
	tools        ToolRunner
	context      ContextSource
	bus          *events.Bus
	logger       *slog.Logger
	model        string
	systemPrompt string
	maxRounds    int
	modelTimeout time.Duration
	toolDefs     []map[string]any
}

// NewLoop creates a loop. builder may be nil for no context.
func NewLoop(client llm.Client, runner ToolRunner, builder ContextSource, cfg Config, bus *events.Bus, logger *slog.Logger) *Loop {
	l := &Loop{
		llm:          client,
		tools:        runner,
		context:      builder,
		bus:          bus,
		logger:       logger,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxRounds:    cfg.MaxRounds,
		modelTimeout: cfg.ModelTimeout,
		toolDefs:     cfg.Tools,
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.systemPrompt == "" {
		l.systemPrompt = prompts.SystemPrompt("Champ", "piggy")
	}
	if l.maxRounds <= 0 {
		l.maxRounds = DefaultMaxRounds
	}
	if l.modelTimeout <= 0 {
		l.modelTimeout = DefaultModelTimeout
	}
	return l
}

// conversation is the state owned by one Run.
type conversation struct {
	state        State
	history      []llm.Message
	pending      []llm.ToolCall
	rounds       int
	lastText     string
	reply        string
	needsRefresh bool
	outcome      Outcome
}

// Run drives the model until it replies with text, answers with
// nothing, or the round limit is reached. Only a failed model call
// returns an error; tool failures are reported to the model.
func (l *Loop) Run(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, ErrNoMessages
	}
	start := time.Now()
	requestID := req.RequestID
	if requestID == "" {
		requestID = NewRequestID()
	}
	ctx = tools.WithRequestID(ctx, requestID)
	tr := trail.FromContext(ctx)
	log := l.logger.With("request_id", requestID)

	query := lastUserContent(req.Messages)
	tr.Add("用户消息: \"" + query + "\"")

	firstSystem := l.systemPrompt
	if l.context != nil {
		if extra := l.context.Build(ctx, query); extra != "" {
			firstSystem = l.systemPrompt + "\n\n" + extra
		}
	}

	conv := &conversation{
		state:   StateAwaitingModel,
		history: append([]llm.Message(nil), req.Messages...),
	}

	for conv.state != StateFinished {
		switch conv.state {
		case StateAwaitingModel:
			if conv.rounds >= l.maxRounds {
				conv.outcome = OutcomeCapped
				conv.reply = conv.lastText
				conv.state = StateFinished
				break
			}
			system := l.systemPrompt
			if conv.rounds == 0 {
				system = firstSystem
			}
			if err := l.modelRound(ctx, log, tr, conv, system); err != nil {
				metrics.LoopOutcomesTotal.WithLabelValues("error").Inc()
				log.Error("model call failed", "round", conv.rounds, "error", err)
				tr.Add("模型调用失败")
				return nil, err
			}

		case StateAwaitingToolResults:
			l.toolRound(ctx, conv)
		}
	}

	res := &Result{
		RequestID:    requestID,
		Reply:        conv.reply,
		NeedsRefresh: conv.needsRefresh,
		Outcome:      conv.outcome,
		Rounds:       conv.rounds,
		History:      conv.history,
		SystemPrompt: l.systemPrompt,
		Elapsed:      time.Since(start),
	}
	l.finish(log, tr, res)
	return res, nil
}

// modelRound makes one model call and picks the next state.
func (l *Loop) modelRound(ctx context.Context, log *slog.Logger, tr *trail.Trail, conv *conversation, system string) error {
	conv.rounds++
	tr.Add(fmt.Sprintf("第 %d 轮：调用模型", conv.rounds))

	msgs := make([]llm.Message, 0, len(conv.history)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	msgs = append(msgs, conv.history...)

	callCtx, cancel := context.WithTimeout(ctx, l.modelTimeout)
	defer cancel()
	resp, err := l.llm.Chat(callCtx, l.model, msgs, l.toolDefs)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("model call round %d timed out after %s: %w", conv.rounds, l.modelTimeout, err)
		}
		return fmt.Errorf("model call round %d: %w", conv.rounds, err)
	}

	msg := resp.Message
	msg.Role = llm.RoleAssistant
	conv.history = append(conv.history, msg)

	if resp.HasToolCalls() {
		names := make([]string, len(msg.ToolCalls))
		for i, c := range msg.ToolCalls {
			names[i] = c.Function.Name
		}
		tr.Add("调用工具: " + strings.Join(names, ", "))
		log.Debug("model requested tools", "round", conv.rounds, "tools", names)
		if msg.Content != "" {
			conv.lastText = msg.Content
		}
		conv.pending = msg.ToolCalls
		conv.state = StateAwaitingToolResults
		return nil
	}

	conv.reply = msg.Content
	conv.outcome = OutcomeCompleted
	if strings.TrimSpace(msg.Content) == "" {
		conv.outcome = OutcomeEmpty
	}
	conv.state = StateFinished
	return nil
}

// toolRound runs the pending calls in order and appends one tool
// message per call. Tool side effects are not cancelled by a client
// disconnect; the executor's own timeout bounds them.
func (l *Loop) toolRound(ctx context.Context, conv *conversation) {
	toolCtx := context.WithoutCancel(ctx)
	for _, call := range conv.pending {
		out := l.tools.Execute(toolCtx, call)
		if out.NeedsRefresh {
			conv.needsRefresh = true
		}
		conv.history = append(conv.history, llm.Message{
			Role:       llm.RoleTool,
			Content:    out.Result.JSON(),
			ToolCallID: call.ID,
			Name:       call.Function.Name,
		})
	}
	conv.pending = nil
	conv.state = StateAwaitingModel
}

func (l *Loop) finish(log *slog.Logger, tr *trail.Trail, res *Result) {
	metrics.LoopOutcomesTotal.WithLabelValues(string(res.Outcome)).Inc()
	metrics.LoopRounds.Observe(float64(res.Rounds))

	attrs := []any{
		"outcome", res.Outcome,
		"rounds", res.Rounds,
		"needs_refresh", res.NeedsRefresh,
		"elapsed", res.Elapsed,
	}
	if res.Outcome == OutcomeCapped {
		log.Warn("chat loop hit round cap", attrs...)
		tr.Add(fmt.Sprintf("达到最大循环次数 (%d)，强制结束", l.maxRounds))
	} else {
		log.Info("chat loop finished", attrs...)
	}

	l.bus.Emit(events.SourceChat, events.KindRequestComplete, map[string]any{
		"request_id":    res.RequestID,
		"outcome":       string(res.Outcome),
		"rounds":        res.Rounds,
		"needs_refresh": res.NeedsRefresh,
		"elapsed_ms":    res.Elapsed.Milliseconds(),
	})
	if res.NeedsRefresh {
		l.bus.Emit(events.SourceChat, events.KindRefresh, map[string]any{"request_id": res.RequestID})
	}
}

func lastUserContent(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// NewRequestID returns a short id such as "r_1a2b3c4d".
func NewRequestID() string {
	return "r_" + uuid.New().String()[:8]
}
