package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/entity"
	apperrors "github.com/salmalm/salmalm/pkg/errors"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Notify(parentSessionID, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, parentSessionID+": "+text)
}

func (n *recordingNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.calls) == 0 {
		return ""
	}
	return n.calls[len(n.calls)-1]
}

func testManager(llm LLMCaller) (*SubAgentManager, *memSessions, *recordingNotifier) {
	sessions := newMemSessions()
	abort := NewAbortController()
	loop := testLoop(llm, &fakeTools{}, sessions, abort)
	queue := testQueue(QueueOptions{Mode: ModeFollowup})
	mgr := NewSubAgentManager(queue, loop, sessions, zap.NewNop())
	notifier := &recordingNotifier{}
	mgr.SetNotifier(notifier)
	return mgr, sessions, notifier
}

func TestSpawnRunsToCompletion(t *testing.T) {
	llm := &scriptedLLM{script: []func(*LLMRequest, StreamFunc) *LLMResult{
		func(req *LLMRequest, fn StreamFunc) *LLMResult {
			return &LLMResult{Content: "task done", Model: "m"}
		},
	}}
	mgr, sessions, notifier := testManager(llm)

	id, err := mgr.Spawn("tg:42", "summarize the logs", "")
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		j, err := mgr.Get(id)
		return err == nil && j.Terminal()
	})

	j, _ := mgr.Get(id)
	if j.Status != entity.JobCompleted {
		t.Fatalf("status = %s (%s)", j.Status, j.Error)
	}
	if j.Result != "task done" {
		t.Errorf("result = %q", j.Result)
	}
	if j.SessionID != "agent:"+id {
		t.Errorf("session = %q", j.SessionID)
	}
	if !strings.Contains(notifier.last(), "task done") {
		t.Errorf("notification = %q", notifier.last())
	}
	if _, ok := sessions.sessions["agent:"+id]; !ok {
		t.Error("sub-agent session never created")
	}
}

func TestSpawnRejectsEmptyTask(t *testing.T) {
	mgr, _, _ := testManager(&scriptedLLM{script: []func(*LLMRequest, StreamFunc) *LLMResult{
		func(*LLMRequest, StreamFunc) *LLMResult { return &LLMResult{} },
	}})
	if _, err := mgr.Spawn("p", "   ", ""); !apperrors.IsInvalidInput(err) {
		t.Errorf("err = %v", err)
	}
}

type blockingLLM struct {
	startedOnce sync.Once
	started     chan struct{}
}

func (b *blockingLLM) Call(ctx context.Context, req *LLMRequest) (*LLMResult, error) {
	return b.Stream(ctx, req, func(StreamEvent) {})
}

func (b *blockingLLM) Stream(ctx context.Context, req *LLMRequest, fn StreamFunc) (*LLMResult, error) {
	b.startedOnce.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStopCancelsRunningAgent(t *testing.T) {
	llm := &blockingLLM{started: make(chan struct{})}
	mgr, _, _ := testManager(llm)

	id, err := mgr.Spawn("p", "never finishes", "")
	if err != nil {
		t.Fatal(err)
	}
	<-llm.started

	if err := mgr.Stop(id); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		j, _ := mgr.Get(id)
		return j.Status == entity.JobCancelled
	})
	// Stopping again is refused.
	if err := mgr.Stop(id); !apperrors.IsInvalidInput(err) {
		t.Errorf("second stop: %v", err)
	}
}

func TestSteerReachesRunningAgent(t *testing.T) {
	release := make(chan struct{})
	var gotSteer string
	llm := &scriptedLLM{script: []func(*LLMRequest, StreamFunc) *LLMResult{
		func(req *LLMRequest, fn StreamFunc) *LLMResult {
			<-release
			return &LLMResult{ToolCalls: []entity.ToolCall{{ID: "c", Name: "echo"}}}
		},
		func(req *LLMRequest, fn StreamFunc) *LLMResult {
			for _, m := range req.Messages {
				if m.Role == entity.RoleUser && strings.Contains(m.Content, "new direction") {
					gotSteer = m.Content
				}
			}
			return &LLMResult{Content: "adjusted"}
		},
	}}
	sessions := newMemSessions()
	loop := testLoop(llm, &fakeTools{out: "x"}, sessions, NewAbortController())
	queue := testQueue(QueueOptions{Mode: ModeFollowup})
	loop.SetSteerSource(queue)
	mgr := NewSubAgentManager(queue, loop, sessions, zap.NewNop())

	id, err := mgr.Spawn("p", "long task", "")
	if err != nil {
		t.Fatal(err)
	}
	// Steer lands once the lane reports a running task.
	waitFor(t, func() bool { return mgr.Steer(id, "new direction") == nil })
	close(release)

	waitFor(t, func() bool {
		j, _ := mgr.Get(id)
		return j.Terminal()
	})
	if gotSteer == "" {
		t.Error("steer message never reached the model")
	}

	if err := mgr.Steer(id, "too late"); !apperrors.IsInvalidInput(err) {
		t.Errorf("steer after completion: %v", err)
	}
}

func TestLogReturnsRecentTurns(t *testing.T) {
	llm := &scriptedLLM{script: []func(*LLMRequest, StreamFunc) *LLMResult{
		func(req *LLMRequest, fn StreamFunc) *LLMResult {
			return &LLMResult{Content: "finished"}
		},
	}}
	mgr, _, _ := testManager(llm)
	id, _ := mgr.Spawn("p", "do a thing", "")
	waitFor(t, func() bool {
		j, _ := mgr.Get(id)
		return j.Terminal()
	})

	lines, err := mgr.Log(context.Background(), id, 10)
	if err != nil {
		t.Fatal(err)
	}
	var sawTask, sawReply bool
	for _, line := range lines {
		if strings.Contains(line, "do a thing") {
			sawTask = true
		}
		if strings.Contains(line, "finished") {
			sawReply = true
		}
	}
	if !sawTask || !sawReply {
		t.Errorf("log lines = %v", lines)
	}

	if _, err := mgr.Log(context.Background(), "nope", 5); !apperrors.IsNotFound(err) {
		t.Errorf("unknown id: %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	llm := &scriptedLLM{script: []func(*LLMRequest, StreamFunc) *LLMResult{
		func(*LLMRequest, StreamFunc) *LLMResult { return &LLMResult{Content: "ok"} },
	}}
	mgr, _, _ := testManager(llm)
	first, _ := mgr.Spawn("p", "first", "")
	time.Sleep(5 * time.Millisecond)
	second, _ := mgr.Spawn("p", "second", "")

	jobs := mgr.List()
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d", len(jobs))
	}
	if jobs[0].ID != second || jobs[1].ID != first {
		t.Errorf("order = %s, %s", jobs[0].ID, jobs[1].ID)
	}
}
