package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

type scriptedLLM struct {
	mu     sync.Mutex
	calls  int
	script []func(req *LLMRequest, fn StreamFunc) *LLMResult
}

func (s *scriptedLLM) Call(ctx context.Context, req *LLMRequest) (*LLMResult, error) {
	return s.Stream(ctx, req, func(StreamEvent) {})
}

func (s *scriptedLLM) Stream(ctx context.Context, req *LLMRequest, fn StreamFunc) (*LLMResult, error) {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.mu.Unlock()
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	return s.script[idx](req, fn), nil
}

type memSessions struct {
	mu        sync.Mutex
	sessions  map[string]*entity.Session
	persisted int
	compacted int
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]*entity.Session)}
}

func (m *memSessions) Load(ctx context.Context, id string) (*entity.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	s := &entity.Session{ID: id, Messages: []entity.Message{entity.NewSystemMessage("sys")}}
	m.sessions[id] = s
	return s, nil
}

func (m *memSessions) Persist(ctx context.Context, s *entity.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persisted++
	m.sessions[s.ID] = s
	return nil
}

func (m *memSessions) Compact(ctx context.Context, s *entity.Session) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compacted++
	return true, nil
}

type fakeTools struct {
	mu       sync.Mutex
	out      string
	executed []string
}

func (f *fakeTools) Execute(ctx context.Context, call entity.ToolCall, sessionID string, tier int) string {
	f.mu.Lock()
	f.executed = append(f.executed, call.Name)
	f.mu.Unlock()
	return f.out
}

func (f *fakeTools) Definitions() []entity.ToolDefinition {
	return []entity.ToolDefinition{{Name: "echo", Description: "echo"}}
}

func (f *fakeTools) Has(name string) bool { return true }

func testLoop(llm LLMCaller, tools ToolExecutor, sessions SessionAccess, abort *AbortController) *AgentLoop {
	return NewAgentLoop(llm, tools, sessions, abort, DefaultAgentLoopConfig(), zap.NewNop())
}

func TestRunPlainReply(t *testing.T) {
	llm := &scriptedLLM{script: []func(*LLMRequest, StreamFunc) *LLMResult{
		func(req *LLMRequest, fn StreamFunc) *LLMResult {
			return &LLMResult{Content: "hello there", Model: "openai/gpt-4o"}
		},
	}}
	sessions := newMemSessions()
	loop := testLoop(llm, &fakeTools{}, sessions, NewAbortController())

	text, err := loop.Run(context.Background(), "s", "hi", RunOptions{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello there" {
		t.Errorf("text = %q", text)
	}
	sess := sessions.sessions["s"]
	if len(sess.Messages) != 3 { // system, user, assistant
		t.Fatalf("messages = %d", len(sess.Messages))
	}
	if sess.Messages[2].Role != entity.RoleAssistant || sess.Messages[2].Model != "openai/gpt-4o" {
		t.Errorf("final = %+v", sess.Messages[2])
	}
	if sessions.persisted != 1 {
		t.Errorf("persisted = %d", sessions.persisted)
	}
}

func TestRunToolIteration(t *testing.T) {
	llm := &scriptedLLM{script: []func(*LLMRequest, StreamFunc) *LLMResult{
		func(req *LLMRequest, fn StreamFunc) *LLMResult {
			return &LLMResult{ToolCalls: []entity.ToolCall{
				{ID: "c1", Name: "echo", Arguments: map[string]interface{}{"text": "x"}},
			}}
		},
		func(req *LLMRequest, fn StreamFunc) *LLMResult {
			// The tool result must be in the follow-up prompt.
			last := req.Messages[len(req.Messages)-1]
			if last.Role != entity.RoleTool || last.Content != "tool says hi" {
				return &LLMResult{Content: "missing tool result"}
			}
			return &LLMResult{Content: "done", Model: "m"}
		},
	}}
	tools := &fakeTools{out: "tool says hi"}
	sessions := newMemSessions()
	var events []entity.AgentEvent
	loop := testLoop(llm, tools, sessions, NewAbortController())

	text, err := loop.Run(context.Background(), "s", "run it", RunOptions{Tier: 2},
		func(ev entity.AgentEvent) { events = append(events, ev) })
	if err != nil {
		t.Fatal(err)
	}
	if text != "done" {
		t.Fatalf("text = %q", text)
	}
	if len(tools.executed) != 1 || tools.executed[0] != "echo" {
		t.Errorf("executed = %v", tools.executed)
	}

	// system, user, assistant+tool_calls, tool result, final assistant
	sess := sessions.sessions["s"]
	if len(sess.Messages) != 5 {
		t.Fatalf("messages = %d", len(sess.Messages))
	}
	if !sess.Messages[2].HasToolCalls() {
		t.Error("assistant turn lost its tool calls")
	}
	if sess.Messages[3].ToolCallID != "c1" {
		t.Errorf("tool result id = %q", sess.Messages[3].ToolCallID)
	}

	var sawTool, sawDone bool
	for _, ev := range events {
		switch ev.Type {
		case entity.EventToolCall:
			sawTool = ev.Tool != nil && ev.Tool.Success
		case entity.EventDone:
			sawDone = true
		}
	}
	if !sawTool || !sawDone {
		t.Errorf("events missing: tool=%v done=%v", sawTool, sawDone)
	}
}

func TestRunAbortFreezesPartial(t *testing.T) {
	abort := NewAbortController()
	llm := &scriptedLLM{script: []func(*LLMRequest, StreamFunc) *LLMResult{
		func(req *LLMRequest, fn StreamFunc) *LLMResult {
			fn(StreamEvent{Type: StreamTextDelta, Text: "working on it"})
			abort.SetAbort("s")
			return &LLMResult{ToolCalls: []entity.ToolCall{{ID: "c1", Name: "echo"}}}
		},
	}}
	sessions := newMemSessions()
	tools := &fakeTools{out: "never used"}
	loop := testLoop(llm, tools, sessions, abort)

	text, err := loop.Run(context.Background(), "s", "go", RunOptions{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if text != "working on it" {
		t.Errorf("text = %q", text)
	}
	// The turn ends at the abort; no tool may run.
	if len(tools.executed) != 0 {
		t.Errorf("tools ran after abort: %v", tools.executed)
	}
	sess := sessions.sessions["s"]
	last := sess.Messages[len(sess.Messages)-1]
	if last.Role != entity.RoleAssistant || last.Content != "working on it" {
		t.Errorf("final turn after abort = %+v", last)
	}
	if llm.calls != 1 {
		t.Errorf("llm called %d times after abort", llm.calls)
	}
}

func TestRunAbortMidStreamDropsRemainder(t *testing.T) {
	abort := NewAbortController()
	llm := &scriptedLLM{script: []func(*LLMRequest, StreamFunc) *LLMResult{
		func(req *LLMRequest, fn StreamFunc) *LLMResult {
			fn(StreamEvent{Type: StreamTextDelta, Text: "Hello "})
			fn(StreamEvent{Type: StreamTextDelta, Text: "world"})
			abort.SetAbort("s")
			fn(StreamEvent{Type: StreamTextDelta, Text: "!"})
			return &LLMResult{Content: "Hello world!", Model: "m"}
		},
	}}
	sessions := newMemSessions()
	loop := testLoop(llm, &fakeTools{}, sessions, abort)

	text, err := loop.Run(context.Background(), "s", "hi", RunOptions{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if text != "Hello world" {
		t.Errorf("text = %q, want only the pre-abort stream", text)
	}
	sess := sessions.sessions["s"]
	last := sess.Messages[len(sess.Messages)-1]
	if last.Role != entity.RoleAssistant || last.Content != "Hello world" {
		t.Errorf("persisted turn = %+v", last)
	}
	if sessions.persisted != 1 {
		t.Errorf("persisted = %d", sessions.persisted)
	}
}

func TestRunCompactsOnOverflow(t *testing.T) {
	llm := &scriptedLLM{script: []func(*LLMRequest, StreamFunc) *LLMResult{
		func(req *LLMRequest, fn StreamFunc) *LLMResult {
			return &LLMResult{Error: ResultErrTokenOverflow, Content: "too long"}
		},
		func(req *LLMRequest, fn StreamFunc) *LLMResult {
			return &LLMResult{Content: "recovered", Model: "m"}
		},
	}}
	sessions := newMemSessions()
	loop := testLoop(llm, &fakeTools{}, sessions, NewAbortController())

	text, err := loop.Run(context.Background(), "s", "long", RunOptions{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if text != "recovered" {
		t.Errorf("text = %q", text)
	}
	if sessions.compacted != 1 {
		t.Errorf("compacted = %d", sessions.compacted)
	}
}

func TestRunOverflowTwiceGivesUp(t *testing.T) {
	llm := &scriptedLLM{script: []func(*LLMRequest, StreamFunc) *LLMResult{
		func(req *LLMRequest, fn StreamFunc) *LLMResult {
			return &LLMResult{Error: ResultErrTokenOverflow, Content: "⚠️ prompt too large"}
		},
	}}
	sessions := newMemSessions()
	loop := testLoop(llm, &fakeTools{}, sessions, NewAbortController())

	text, err := loop.Run(context.Background(), "s", "long", RunOptions{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if text != "⚠️ prompt too large" {
		t.Errorf("text = %q", text)
	}
	if sessions.compacted != 1 {
		t.Errorf("compacted = %d, want 1", sessions.compacted)
	}
	if llm.calls != 2 {
		t.Errorf("llm calls = %d, want 2", llm.calls)
	}
}

func TestRunIterationLimit(t *testing.T) {
	llm := &scriptedLLM{script: []func(*LLMRequest, StreamFunc) *LLMResult{
		func(req *LLMRequest, fn StreamFunc) *LLMResult {
			return &LLMResult{ToolCalls: []entity.ToolCall{{ID: "c", Name: "echo"}}}
		},
	}}
	cfg := DefaultAgentLoopConfig()
	cfg.MaxIterations = 3
	sessions := newMemSessions()
	loop := NewAgentLoop(llm, &fakeTools{out: "more"}, sessions, NewAbortController(), cfg, zap.NewNop())

	text, err := loop.Run(context.Background(), "s", "loop forever", RunOptions{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "Stopped after 3") {
		t.Errorf("text = %q", text)
	}
	if llm.calls != 3 {
		t.Errorf("llm calls = %d", llm.calls)
	}
}

func TestRunSteerInjected(t *testing.T) {
	var sawSteer bool
	llm := &scriptedLLM{script: []func(*LLMRequest, StreamFunc) *LLMResult{
		func(req *LLMRequest, fn StreamFunc) *LLMResult {
			return &LLMResult{ToolCalls: []entity.ToolCall{{ID: "c", Name: "echo"}}}
		},
		func(req *LLMRequest, fn StreamFunc) *LLMResult {
			for _, m := range req.Messages {
				if m.Role == entity.RoleUser && m.Content == "actually, stop at step one" {
					sawSteer = true
				}
			}
			return &LLMResult{Content: "ok"}
		},
	}}
	sessions := newMemSessions()
	loop := testLoop(llm, &fakeTools{out: "x"}, sessions, NewAbortController())

	steers := []string{"actually, stop at step one"}
	loop.SetSteerSource(steerStub{&steers})

	if _, err := loop.Run(context.Background(), "s", "go", RunOptions{}, nil); err != nil {
		t.Fatal(err)
	}
	if !sawSteer {
		t.Error("steer message never reached the model")
	}
}

type steerStub struct{ pending *[]string }

func (s steerStub) TakeSteer(sessionID string) (string, bool) {
	if len(*s.pending) == 0 {
		return "", false
	}
	text := (*s.pending)[0]
	*s.pending = (*s.pending)[1:]
	return text, true
}

func TestTruncateToolOutput(t *testing.T) {
	long := strings.Repeat("a", 1000) + strings.Repeat("z", 1000)
	got := truncateToolOutput(long, 300)
	if len(got) > 400 {
		t.Errorf("len = %d", len(got))
	}
	if !strings.HasPrefix(got, "a") || !strings.HasSuffix(got, "z") {
		t.Error("head or tail lost")
	}
	if !strings.Contains(got, "truncated") {
		t.Error("marker missing")
	}
	if truncateToolOutput("short", 300) != "short" {
		t.Error("short string mangled")
	}
}
