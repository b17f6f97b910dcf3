package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "modernc.org/sqlite"

	"github.com/piggy-diary/piggy/internal/agent"
	"github.com/piggy-diary/piggy/internal/diary"
	"github.com/piggy-diary/piggy/internal/events"
	"github.com/piggy-diary/piggy/internal/llm"
	"github.com/piggy-diary/piggy/internal/tools"
	"github.com/piggy-diary/piggy/internal/trail"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChat records requests and replays a canned result.
type fakeChat struct {
	mu     sync.Mutex
	calls  []*agent.Request
	result *agent.Result
	err    error
	lines  []string
}

func (f *fakeChat) Run(ctx context.Context, req *agent.Request) (*agent.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	tr := trail.FromContext(ctx)
	for _, l := range f.lines {
		tr.Add(l)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestDiary(t *testing.T) *diary.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	loc, _ := time.LoadLocation("Asia/Shanghai")
	store, err := diary.NewStore(db, diary.DialectSQLite, loc, discardLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func newTestServer(t *testing.T, chat Chatter, store DiaryStore, bus *events.Bus) *httptest.Server {
	t.Helper()
	srv := NewServer(Options{Chat: chat, Diary: store, Bus: bus, Logger: discardLogger()})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postChat(t *testing.T, ts *httptest.Server, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(data)
}

func TestChat_RejectsMissingMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty object", `{}`, errMessagesRequired},
		{"empty list", `{"messages":[]}`, errMessagesRequired},
		{"null list", `{"messages":null}`, errMessagesRequired},
		{"malformed body", `{"messages":`, errMessagesRequired},
		{"tool role", `{"messages":[{"role":"tool","content":"x"}]}`, `messages[0]: unsupported role "tool"`},
		{"system role", `{"messages":[{"role":"user","content":"a"},{"role":"system","content":"b"}]}`, `messages[1]: unsupported role "system"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{}
			ts := newTestServer(t, chat, nil, nil)

			resp, body := postChat(t, ts, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			var got map[string]string
			if err := json.Unmarshal([]byte(body), &got); err != nil {
				t.Fatalf("decode %q: %v", body, err)
			}
			if got["error"] != tt.want {
				t.Errorf("error = %q, want %q", got["error"], tt.want)
			}
			if n := chat.callCount(); n != 0 {
				t.Errorf("chat called %d times, want 0", n)
			}
		})
	}
}

func TestChat_InternalFailureIsGeneric(t *testing.T) {
	chat := &fakeChat{err: errors.New("model call round 1: dial tcp 10.0.0.1:443: connection refused")}
	ts := newTestServer(t, chat, nil, nil)

	resp, body := postChat(t, ts, `{"messages":[{"role":"user","content":"你好"}]}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if strings.Contains(body, "10.0.0.1") {
		t.Errorf("body leaks internal detail: %s", body)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["error"] != "Failed to generate reply" {
		t.Errorf("error = %q", got["error"])
	}
}

func TestChat_JSONReply(t *testing.T) {
	chat := &fakeChat{result: &agent.Result{Reply: "你好呀", SystemPrompt: "sys"}}
	ts := newTestServer(t, chat, nil, nil)

	resp, body := postChat(t, ts, `{"messages":[{"role":"user","content":"你好"},{"role":"assistant","content":"嗨"},{"role":"User","content":"在吗"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if h := resp.Header.Get(RefreshHeader); h != "" {
		t.Errorf("%s = %q, want unset", RefreshHeader, h)
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["reply"] != "你好呀" || got["systemPrompt"] != "sys" {
		t.Errorf("body = %v", got)
	}
	if _, ok := got["needsRefresh"]; ok {
		t.Errorf("needsRefresh present without a refresh: %v", got)
	}

	req := chat.calls[0]
	if len(req.Messages) != 3 || req.Messages[2].Role != llm.RoleUser {
		t.Errorf("messages = %+v", req.Messages)
	}
	if !strings.HasPrefix(req.RequestID, "r_") {
		t.Errorf("RequestID = %q", req.RequestID)
	}
}

func TestChat_JSONReplyWithRefresh(t *testing.T) {
	chat := &fakeChat{result: &agent.Result{Reply: "记好啦", SystemPrompt: "sys", NeedsRefresh: true}}
	ts := newTestServer(t, chat, nil, nil)

	resp, body := postChat(t, ts, `{"messages":[{"role":"user","content":"我今天很开心"}]}`)
	if resp.Header.Get(RefreshHeader) != "true" {
		t.Errorf("%s = %q, want true", RefreshHeader, resp.Header.Get(RefreshHeader))
	}
	var got ChatReply
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.NeedsRefresh || got.Reply != "记好啦" {
		t.Errorf("reply = %+v", got)
	}
}

func TestChat_StreamFraming(t *testing.T) {
	tests := []struct {
		name        string
		refresh     bool
		wantLogs    []string
		wantSuffix  string
		wantHeader  string
		wantNoMatch string
	}{
		{
			name:        "without refresh",
			wantLogs:    []string{"第 1 轮：调用模型", "bad [END LOG] line"},
			wantNoMatch: "[REFRESH_PAGE]",
		},
		{
			name:       "with refresh",
			refresh:    true,
			wantLogs:   []string{"第 1 轮：调用模型", "bad [END LOG] line", refreshLogLine},
			wantSuffix: "你好呀\n\n[REFRESH_PAGE]",
			wantHeader: "true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{
				result: &agent.Result{Reply: "你好呀", NeedsRefresh: tt.refresh},
				lines:  []string{"第 1 轮：调用模型", "bad [END_LOG] line"},
			}
			ts := newTestServer(t, chat, nil, nil)

			resp, body := postChat(t, ts, `{"messages":[{"role":"user","content":"你好"}],"stream":true}`)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "text/plain; charset=utf-8" {
				t.Errorf("Content-Type = %q", ct)
			}
			if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
				t.Errorf("Cache-Control = %q", cc)
			}
			if h := resp.Header.Get(RefreshHeader); h != tt.wantHeader {
				t.Errorf("%s = %q, want %q", RefreshHeader, h, tt.wantHeader)
			}
			if !strings.HasPrefix(body, "[LOG]第 1 轮：调用模型[END_LOG]") {
				t.Errorf("body does not start with a framed line: %q", body)
			}
			if tt.wantSuffix != "" && !strings.HasSuffix(body, tt.wantSuffix) {
				t.Errorf("body = %q, want suffix %q", body, tt.wantSuffix)
			}
			if tt.wantNoMatch != "" && strings.Contains(body, tt.wantNoMatch) {
				t.Errorf("body = %q, unexpected %q", body, tt.wantNoMatch)
			}

			logs, reply, refresh := ParseStream(body)
			if reply != "你好呀" {
				t.Errorf("reply = %q", reply)
			}
			if refresh != tt.refresh {
				t.Errorf("refresh = %v, want %v", refresh, tt.refresh)
			}
			if strings.Join(logs, "|") != strings.Join(tt.wantLogs, "|") {
				t.Errorf("logs = %q, want %q", logs, tt.wantLogs)
			}
		})
	}
}

func TestParseStream(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantLogs    int
		wantReply   string
		wantRefresh bool
	}{
		{"plain reply", "hello", 0, "hello", false},
		{"empty", "", 0, "", false},
		{"logs then reply", "[LOG]a[END_LOG][LOG]b[END_LOG]hello", 2, "hello", false},
		{"refresh only", "[LOG]a[END_LOG]\n\n[REFRESH_PAGE]", 1, "", true},
		{"unterminated frame is reply", "[LOG]a never closed", 0, "[LOG]a never closed", false},
		{"marker mid-reply is text", "see [LOG]x[END_LOG]", 0, "see [LOG]x[END_LOG]", false},
		{"sentinel mid-reply is text", "a\n\n[REFRESH_PAGE] b", 0, "a\n\n[REFRESH_PAGE] b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs, reply, refresh := ParseStream(tt.body)
			if len(logs) != tt.wantLogs || reply != tt.wantReply || refresh != tt.wantRefresh {
				t.Errorf("ParseStream(%q) = %q, %q, %v", tt.body, logs, reply, refresh)
			}
		})
	}
}

// chatLLM replays canned model responses.
type chatLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	calls     int
}

func (c *chatLLM) Chat(_ context.Context, _ string, _ []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls >= len(c.responses) {
		return nil, errors.New("no more responses")
	}
	r := c.responses[c.calls]
	c.calls++
	return r, nil
}

func (c *chatLLM) Ping(context.Context) error { return nil }

func TestChat_EndToEndMoodLog(t *testing.T) {
	store := newTestDiary(t)
	bus := events.New()
	exec, err := tools.NewExecutor(tools.Deps{Diary: store, Bus: bus, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	model := &chatLLM{responses: []*llm.ChatResponse{
		{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{
			ID:       "call_1",
			Function: llm.FunctionCall{Name: "log_mood", Arguments: `{"mood":"happy","intensity":2}`},
		}}}},
		{Message: llm.Message{Role: llm.RoleAssistant, Content: "记下来啦，今天开心！"}},
	}}
	loop := agent.NewLoop(model, exec, nil, agent.Config{Model: "test", Tools: tools.Definitions()}, bus, discardLogger())
	ts := newTestServer(t, loop, store, bus)

	resp, body := postChat(t, ts, `{"messages":[{"role":"user","content":"记一下我今天很开心"}],"stream":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %q", resp.StatusCode, body)
	}
	logs, reply, refresh := ParseStream(body)
	if reply != "记下来啦，今天开心！" {
		t.Errorf("reply = %q", reply)
	}
	if !refresh {
		t.Error("expected refresh sentinel after a mood write")
	}
	if len(logs) == 0 || logs[len(logs)-1] != refreshLogLine {
		t.Errorf("logs = %q, want trailing refresh line", logs)
	}

	moods, err := store.ListMoods(t.Context(), 10, "")
	if err != nil {
		t.Fatalf("ListMoods: %v", err)
	}
	if len(moods) != 1 || moods[0].Mood != "happy" || moods[0].Intensity != 2 {
		t.Errorf("moods = %+v", moods)
	}
}

func TestDiaryEndpoints(t *testing.T) {
	store := newTestDiary(t)
	bus := events.New()
	sub := bus.Subscribe(4)
	defer bus.Unsubscribe(sub)
	ts := newTestServer(t, &fakeChat{}, store, bus)

	post := func(body string) *http.Response {
		t.Helper()
		resp, err := http.Post(ts.URL+"/api/moods", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		return resp
	}

	if resp := post(`{"mood":"tired","intensity":3,"date":"2025-03-01"}`); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first save status = %d, want 201", resp.StatusCode)
	}
	if resp := post(`{"mood":"happy","date":"2025-03-01"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("overwrite status = %d, want 200", resp.StatusCode)
	}
	if resp := post(`{"mood":"ecstatic"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid mood status = %d, want 400", resp.StatusCode)
	}

	for _, want := range []string{events.KindMoodLogged, events.KindMoodUpdated} {
		select {
		case e := <-sub:
			if e.Source != events.SourceDiary || e.Kind != want {
				t.Errorf("event = %s/%s, want diary/%s", e.Source, e.Kind, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s event", want)
		}
	}

	resp, err := http.Get(ts.URL + "/api/moods?date=2025-03-01")
	if err != nil {
		t.Fatalf("get moods: %v", err)
	}
	defer resp.Body.Close()
	var moods struct {
		Moods []diary.Mood `json:"moods"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&moods); err != nil {
		t.Fatalf("decode moods: %v", err)
	}
	if len(moods.Moods) != 1 || moods.Moods[0].Mood != "happy" || moods.Moods[0].Intensity != 1 {
		t.Errorf("moods = %+v", moods.Moods)
	}

	resp2, err := http.Get(ts.URL + "/api/periods")
	if err != nil {
		t.Fatalf("get periods: %v", err)
	}
	defer resp2.Body.Close()
	var periods map[string][]diary.Period
	if err := json.NewDecoder(resp2.Body).Decode(&periods); err != nil {
		t.Fatalf("decode periods: %v", err)
	}
	if p, ok := periods["periods"]; !ok || len(p) != 0 {
		t.Errorf("periods = %v, want empty list", periods)
	}
}

func TestDiaryEndpoints_NotConfigured(t *testing.T) {
	ts := newTestServer(t, &fakeChat{}, nil, nil)
	for _, path := range []string{"/api/moods", "/api/periods", "/api/events"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, resp.StatusCode)
		}
	}
}

func TestEventsWebsocket(t *testing.T) {
	bus := events.New()
	ts := newTestServer(t, &fakeChat{}, nil, bus)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered after the upgrade completes.
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Emit(events.SourceChat, events.KindRefresh, map[string]any{"request_id": "r_1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Kind != events.KindRefresh || got.Data["request_id"] != "r_1" {
		t.Errorf("event = %+v", got)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	deadline = time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler did not unsubscribe after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealthVersionRoot(t *testing.T) {
	ts := newTestServer(t, &fakeChat{}, nil, nil)

	tests := []struct {
		path    string
		wantKey string
		wantVal string
	}{
		{"/health", "status", "healthy"},
		{"/", "name", "Piggy"},
		{"/v1/version", "go_version", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			var got map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			v, ok := got[tt.wantKey]
			if !ok || (tt.wantVal != "" && v != tt.wantVal) {
				t.Errorf("%s = %q, want %q", tt.wantKey, v, tt.wantVal)
			}
		})
	}

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, &fakeChat{result: &agent.Result{Reply: "ok"}}, nil, nil)
	postChat(t, ts, `{"messages":[{"role":"user","content":"hi"}]}`)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), `piggy_chat_requests_total{status="ok"}`) {
		t.Errorf("metrics missing chat counter:\n%s", data)
	}
}
