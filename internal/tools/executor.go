package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/piggy-diary/piggy/internal/diary"
	"github.com/piggy-diary/piggy/internal/events"
	"github.com/piggy-diary/piggy/internal/llm"
	"github.com/piggy-diary/piggy/internal/memory"
	"github.com/piggy-diary/piggy/internal/metrics"
	"github.com/piggy-diary/piggy/internal/trail"
)

// DefaultTimeout bounds a single tool call when Deps.Timeout is zero.
const DefaultTimeout = 20 * time.Second

// DefaultAuthor is recorded as the author of memories the tools write.
const DefaultAuthor = "piggy"

// Result is what the model sees for one tool call.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Outcome is a Result plus whether the call changed state the client
// must reload.
type Outcome struct {
	Result
	NeedsRefresh bool
}

// JSON serializes the result for a tool-role message.
func (r Result) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"message":"Error: unserializable result"}`
	}
	return string(data)
}

// DiaryStore is the mood and period backend.
type DiaryStore interface {
	LogMood(ctx context.Context, in diary.MoodInput) (*diary.Mood, bool, error)
	ListMoods(ctx context.Context, limit int, date string) ([]diary.Mood, error)
	UpdateMood(ctx context.Context, id int64, patch diary.MoodPatch) (*diary.Mood, error)
	DeleteMood(ctx context.Context, id int64) error
	TrackPeriod(ctx context.Context, startDate string) (*diary.Period, bool, error)
	ListPeriods(ctx context.Context, limit int) ([]diary.Period, error)
	UpdatePeriod(ctx context.Context, id int64, startDate string) (*diary.Period, error)
	DeletePeriod(ctx context.Context, id int64) error
}

// MemoryStore is the long-term memory backend.
type MemoryStore interface {
	Add(ctx context.Context, records ...memory.Record) error
	List(ctx context.Context, query string, limit int) ([]memory.Record, error)
	Update(ctx context.Context, id, text string) (*memory.Record, error)
	Delete(ctx context.Context, id string) error
	DeleteBySource(ctx context.Context, sourceID string) (int64, error)
}

// WeatherService looks up current conditions. A blank city means the
// service default.
type WeatherService interface {
	Lookup(ctx context.Context, city string) (string, error)
	DefaultCity() string
}

// Spawner starts detached work whose failure must not reach the
// caller. Work sharing a key runs in start order, one task at a time.
// *background.Runner implements it.
type Spawner interface {
	GoOrdered(key, name string, fn func(ctx context.Context) error)
}

// Deps are the executor's collaborators. Any backend may be nil; its
// tools then fail with a descriptive message.
type Deps struct {
	Diary      DiaryStore
	Memory     MemoryStore
	Weather    WeatherService
	Background Spawner
	Bus        *events.Bus
	Logger     *slog.Logger

	// Timeout bounds each call. Zero means DefaultTimeout.
	Timeout time.Duration
	// Author is stored on memories the tools write. Empty means
	// DefaultAuthor.
	Author string
	// Now is the clock used for memory timestamps. Nil means time.Now.
	Now func() time.Time
}

type handler func(ctx context.Context, args []byte) (Outcome, error)

// Executor runs model tool calls. It holds no per-call state.
type Executor struct {
	diary      DiaryStore
	memory     MemoryStore
	weather    WeatherService
	background Spawner
	bus        *events.Bus
	logger     *slog.Logger
	timeout    time.Duration
	author     string
	now        func() time.Time

	handlers [kindCount]handler
}

// NewExecutor creates an executor and verifies that every catalog
// entry has exactly one handler and every handler is advertised.
func NewExecutor(deps Deps) (*Executor, error) {
	e := &Executor{
		diary:      deps.Diary,
		memory:     deps.Memory,
		weather:    deps.Weather,
		background: deps.Background,
		bus:        deps.Bus,
		logger:     deps.Logger,
		timeout:    deps.Timeout,
		author:     deps.Author,
		now:        deps.Now,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.author == "" {
		e.author = DefaultAuthor
	}
	if e.now == nil {
		e.now = time.Now
	}
	for k := range kindCount {
		e.handlers[k] = e.handlerFor(k)
	}
	if err := checkLockstep(catalog, e.handlers[:]); err != nil {
		return nil, err
	}
	return e, nil
}

// handlerFor maps each kind to its handler. New kinds must be added
// here and to the catalog; NewExecutor rejects either omission.
func (e *Executor) handlerFor(k Kind) handler {
	switch k {
	case KindLogMood:
		return e.logMood
	case KindListMoods:
		return e.listMoods
	case KindUpdateMood:
		return e.updateMood
	case KindDeleteMood:
		return e.deleteMood
	case KindTrackPeriod:
		return e.trackPeriod
	case KindListPeriods:
		return e.listPeriods
	case KindUpdatePeriod:
		return e.updatePeriod
	case KindDeletePeriod:
		return e.deletePeriod
	case KindSaveMemory:
		return e.saveMemory
	case KindListMemories:
		return e.listMemories
	case KindUpdateMemory:
		return e.updateMemory
	case KindDeleteMemory:
		return e.deleteMemory
	case KindShowSticker:
		return e.showSticker
	case KindGetWeather:
		return e.getWeather
	}
	return nil
}

func checkLockstep(descs []Descriptor, handlers []handler) error {
	var problems []string
	seenKind := make(map[Kind]bool, len(descs))
	seenName := make(map[string]bool, len(descs))

	for _, d := range descs {
		if d.Kind < 0 || int(d.Kind) >= len(handlers) {
			problems = append(problems, fmt.Sprintf("%q has unknown kind %d", d.Name, int(d.Kind)))
			continue
		}
		if d.Name != d.Kind.String() {
			problems = append(problems, fmt.Sprintf("%q is registered under kind %s", d.Name, d.Kind))
		}
		if seenKind[d.Kind] {
			problems = append(problems, fmt.Sprintf("%s is registered twice", d.Kind))
		}
		if seenName[d.Name] {
			problems = append(problems, fmt.Sprintf("name %q is registered twice", d.Name))
		}
		seenKind[d.Kind] = true
		seenName[d.Name] = true
	}
	for k, h := range handlers {
		kind := Kind(k)
		if h == nil {
			problems = append(problems, fmt.Sprintf("%s has no handler", kind))
		}
		if !seenKind[kind] {
			problems = append(problems, fmt.Sprintf("%s is missing from the catalog", kind))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrCatalogDrift, strings.Join(problems, "; "))
	}
	return nil
}

// Execute runs one tool call and always returns exactly one outcome.
// Argument parse failures fall back to empty arguments; handler
// errors, panics and timeouts become failed results.
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall) Outcome {
	start := time.Now()
	name := call.Function.Name
	tr := trail.FromContext(ctx)

	args, err := parseArgs(call.Function.Arguments)
	if err != nil {
		e.logger.Warn("tool arguments unparseable, using empty arguments",
			"tool", name, "call_id", call.ID, "error", err)
		tr.Add("参数解析失败 [" + name + "]，使用空参数")
	}
	tr.Add("工具参数 [" + name + "]: " + string(args))

	kind, ok := ParseKind(name)
	if !ok {
		err := &UnknownToolError{Name: name}
		e.logger.Warn("tool call rejected", "call_id", call.ID, "error", err)
		metrics.RecordTool("unknown", false, time.Since(start).Seconds())
		return Outcome{Result: Result{Success: false, Message: "Unknown tool."}}
	}

	ctx = WithToolCallID(ctx, call.ID)
	out := e.run(ctx, kind, args)
	elapsed := time.Since(start)

	metrics.RecordTool(kind.String(), out.Success, elapsed.Seconds())
	e.bus.Emit(events.SourceChat, events.KindToolDone, map[string]any{
		"request_id":  RequestIDFromContext(ctx),
		"tool":        kind.String(),
		"ok":          out.Success,
		"duration_ms": elapsed.Milliseconds(),
	})
	if out.Success {
		tr.Add("✓ 工具执行成功 [" + kind.String() + "]")
		e.logger.Info("tool executed", "tool", kind.String(), "call_id", call.ID, "elapsed", elapsed)
	} else {
		tr.Add("✗ 工具执行失败 [" + kind.String() + "]: " + out.Message)
		e.logger.Warn("tool failed", "tool", kind.String(), "call_id", call.ID,
			"message", out.Message, "elapsed", elapsed)
	}
	return out
}

type handlerReply struct {
	out Outcome
	err error
}

func (e *Executor) run(ctx context.Context, kind Kind, args []byte) Outcome {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan handlerReply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("tool handler panicked",
					"tool", kind.String(), "panic", r, "stack", string(debug.Stack()))
				done <- handlerReply{err: fmt.Errorf("internal error in %s", kind)}
			}
		}()
		out, err := e.handlers[kind](ctx, args)
		done <- handlerReply{out: out, err: err}
	}()

	// A handler that ignores ctx keeps running after the timeout; its
	// side effects may still land, so a timed-out diary write still asks
	// the client to reload.
	var reply handlerReply
	select {
	case reply = <-done:
	case <-ctx.Done():
		reply.err = ctx.Err()
	}
	if reply.err == nil {
		return reply.out
	}
	if errors.Is(reply.err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err := &timeoutError{tool: kind.String(), limit: e.timeout}
		return Outcome{
			Result:       Result{Success: false, Message: "Error: " + err.Error()},
			NeedsRefresh: kind.mutatesDiary(),
		}
	}
	return Outcome{Result: Result{Success: false, Message: "Error: " + reply.err.Error()}}
}

// parseArgs normalizes raw model arguments to a JSON object. Anything
// that is not an object yields "{}" and an error.
func parseArgs(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []byte("{}"), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return []byte("{}"), err
	}
	if obj == nil {
		return []byte("{}"), nil
	}
	return []byte(raw), nil
}

// decode unpacks handler arguments into a typed struct.
func decode[T any](args []byte) (T, error) {
	var v T
	if err := json.Unmarshal(args, &v); err != nil {
		return v, fmt.Errorf("invalid arguments: %w", err)
	}
	return v, nil
}

func ok(message string) Outcome {
	return Outcome{Result: Result{Success: true, Message: message}}
}

func refreshed(message string) Outcome {
	return Outcome{Result: Result{Success: true, Message: message}, NeedsRefresh: true}
}

func failed(message string) Outcome {
	return Outcome{Result: Result{Success: false, Message: message}}
}

// spawn hands fn to the background runner, queued behind earlier work
// for the same key. Without a runner the work is skipped.
func (e *Executor) spawn(key, name string, fn func(ctx context.Context) error) {
	if e.background == nil {
		e.logger.Debug("no background runner, skipping task", "task", name)
		return
	}
	e.background.GoOrdered(key, name, fn)
}
