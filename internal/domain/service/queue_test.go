package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testQueue(defaults QueueOptions) *MessageQueue {
	return NewMessageQueue(defaults, 4, 8, NewAbortController(), zap.NewNop())
}

func TestCollectMergesBurst(t *testing.T) {
	q := testQueue(QueueOptions{Mode: ModeCollect, Debounce: 50 * time.Millisecond})
	var calls int32
	var gotMerged atomic.Value
	processor := func(ctx context.Context, sessionID, text string) (string, error) {
		atomic.AddInt32(&calls, 1)
		gotMerged.Store(text)
		return "reply:" + text, nil
	}

	var wg sync.WaitGroup
	results := make([]string, 3)
	for i, msg := range []string{"one", "two", "three"} {
		wg.Add(1)
		go func(i int, msg string) {
			defer wg.Done()
			r, err := q.Process(context.Background(), "s", msg, processor)
			if err != nil {
				t.Error(err)
			}
			results[i] = r
		}(i, msg)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("processor ran %d times, want 1", n)
	}
	merged, _ := gotMerged.Load().(string)
	for _, msg := range []string{"one", "two", "three"} {
		if !strings.Contains(merged, msg) {
			t.Errorf("merged %q missing %q", merged, msg)
		}
	}
	// Every batched caller shares the one result.
	for _, r := range results {
		if r != "reply:"+merged {
			t.Errorf("result = %q", r)
		}
	}
}

func TestFollowupProcessesEachTurn(t *testing.T) {
	q := testQueue(QueueOptions{Mode: ModeFollowup})
	var calls int32
	processor := func(ctx context.Context, sessionID, text string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "r:" + text, nil
	}

	if r, _ := q.Process(context.Background(), "s", "first", processor); r != "r:first" {
		t.Errorf("first = %q", r)
	}
	if r, _ := q.Process(context.Background(), "s", "second", processor); r != "r:second" {
		t.Errorf("second = %q", r)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("calls = %d", n)
	}
}

func TestSteerDuringRun(t *testing.T) {
	q := testQueue(QueueOptions{Mode: ModeSteer, Debounce: 10 * time.Millisecond})
	started := make(chan struct{})
	release := make(chan struct{})
	processor := func(ctx context.Context, sessionID, text string) (string, error) {
		close(started)
		<-release
		return "done", nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Process(context.Background(), "s", "long task", processor)
	}()
	<-started

	r, err := q.Process(context.Background(), "s", "change course", processor)
	if err != nil {
		t.Fatal(err)
	}
	if r != "[steered]" {
		t.Fatalf("steer result = %q", r)
	}
	text, ok := q.TakeSteer("s")
	if !ok || text != "change course" {
		t.Errorf("TakeSteer = %q, %v", text, ok)
	}
	// Consumed.
	if _, ok := q.TakeSteer("s"); ok {
		t.Error("steer not consumed")
	}

	close(release)
	wg.Wait()
}

func TestSteerIdleFallsBackToCollect(t *testing.T) {
	q := testQueue(QueueOptions{Mode: ModeSteer, Debounce: 10 * time.Millisecond})
	processor := func(ctx context.Context, sessionID, text string) (string, error) {
		return "r:" + text, nil
	}
	if r, _ := q.Process(context.Background(), "s", "hello", processor); r != "r:hello" {
		t.Errorf("idle steer = %q", r)
	}
}

func TestInterruptCancelsRunningTask(t *testing.T) {
	q := testQueue(QueueOptions{Mode: ModeInterrupt})
	started := make(chan struct{})
	first := func(ctx context.Context, sessionID, text string) (string, error) {
		close(started)
		select {
		case <-ctx.Done():
			return "stopped", nil
		case <-time.After(5 * time.Second):
			return "never cancelled", nil
		}
	}
	second := func(ctx context.Context, sessionID, text string) (string, error) {
		return "handled:" + text, nil
	}

	var wg sync.WaitGroup
	var firstResult string
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstResult, _ = q.Process(context.Background(), "s", "slow", first)
	}()
	<-started

	r, err := q.Process(context.Background(), "s", "urgent", second)
	if err != nil {
		t.Fatal(err)
	}
	if r != "handled:urgent" {
		t.Errorf("interrupt result = %q", r)
	}
	wg.Wait()
	if firstResult != "stopped" {
		t.Errorf("first result = %q", firstResult)
	}
}

func TestOverflowRejectsNewest(t *testing.T) {
	q := testQueue(QueueOptions{Mode: ModeCollect, Debounce: time.Hour, Cap: 2, Drop: DropNew})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	processor := func(ctx context.Context, sessionID, text string) (string, error) {
		return "", nil
	}

	var wg sync.WaitGroup
	for _, msg := range []string{"a", "b"} {
		wg.Add(1)
		go func(msg string) {
			defer wg.Done()
			q.Process(ctx, "s", msg, processor)
		}(msg)
	}
	waitFor(t, func() bool { return q.Pending("s") == 2 })

	r, err := q.Process(context.Background(), "s", "c", processor)
	if err != nil {
		t.Fatal(err)
	}
	if r != "[queue full, message dropped]" {
		t.Errorf("overflow result = %q", r)
	}
	cancel()
	wg.Wait()
}

func TestOverflowSummarizesOldest(t *testing.T) {
	q := testQueue(QueueOptions{Mode: ModeCollect, Debounce: 60 * time.Millisecond, Cap: 2, Drop: DropSummarize})
	var gotMerged atomic.Value
	processor := func(ctx context.Context, sessionID, text string) (string, error) {
		gotMerged.Store(text)
		return "", nil
	}

	var wg sync.WaitGroup
	for _, msg := range []string{"oldest", "middle", "newest"} {
		wg.Add(1)
		go func(msg string) {
			defer wg.Done()
			q.Process(context.Background(), "s", msg, processor)
		}(msg)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	merged, _ := gotMerged.Load().(string)
	if !strings.Contains(merged, "messages summarized]") {
		t.Errorf("merged %q missing summary marker", merged)
	}
	if !strings.Contains(merged, "- oldest") {
		t.Errorf("merged %q missing dropped prefix", merged)
	}
	if !strings.Contains(merged, "newest") {
		t.Errorf("merged %q missing surviving message", merged)
	}
}

func TestRunExclusiveWaitsForRunningTurn(t *testing.T) {
	q := testQueue(QueueOptions{Mode: ModeFollowup})
	started := make(chan struct{})
	release := make(chan struct{})
	processor := func(ctx context.Context, sessionID, text string) (string, error) {
		close(started)
		<-release
		return "done", nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Process(context.Background(), "s", "turn", processor)
	}()
	<-started

	entered := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := q.RunExclusive(context.Background(), "s", func(ctx context.Context) error {
			close(entered)
			return nil
		}); err != nil {
			t.Error(err)
		}
	}()

	select {
	case <-entered:
		t.Fatal("exclusive work ran while a turn was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	wg.Wait()
	select {
	case <-entered:
	default:
		t.Fatal("exclusive work never ran")
	}
}

func TestOverflowPoliciesLandAtCap(t *testing.T) {
	q := testQueue(QueueOptions{})
	for _, drop := range []string{DropOld, DropSummarize} {
		ln := q.lane("cap-" + drop)
		opts := QueueOptions{Cap: 3, Drop: drop}
		ln.mu.Lock()
		for i := 0; i < 6; i++ {
			q.enqueueLocked(ln, fmt.Sprintf("m%d", i), opts)
		}
		n := len(ln.pending)
		ln.mu.Unlock()
		if n != 3 {
			t.Errorf("drop=%s pending = %d, want 3", drop, n)
		}
	}

	// Cap 1 has no room for a summary entry either.
	ln := q.lane("cap-one")
	opts := QueueOptions{Cap: 1, Drop: DropSummarize}
	ln.mu.Lock()
	for i := 0; i < 3; i++ {
		q.enqueueLocked(ln, fmt.Sprintf("m%d", i), opts)
	}
	n := len(ln.pending)
	ln.mu.Unlock()
	if n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
}

func TestQueueCommand(t *testing.T) {
	q := testQueue(QueueOptions{})

	if r := q.HandleCommand("s", "followup"); r != "queue: mode=followup" {
		t.Errorf("mode = %q", r)
	}
	if r := q.HandleCommand("s", "debounce:2s"); r != "queue: debounce=2s" {
		t.Errorf("debounce = %q", r)
	}
	if r := q.HandleCommand("s", "cap:5"); r != "queue: cap=5" {
		t.Errorf("cap = %q", r)
	}
	if r := q.HandleCommand("s", "drop:summarize"); r != "queue: drop=summarize" {
		t.Errorf("drop = %q", r)
	}
	status := q.HandleCommand("s", "")
	for _, want := range []string{"mode=followup", "debounce=2s", "cap=5", "drop=summarize"} {
		if !strings.Contains(status, want) {
			t.Errorf("status %q missing %q", status, want)
		}
	}
	if r := q.HandleCommand("s", "reset"); r != "queue: session overrides cleared" {
		t.Errorf("reset = %q", r)
	}
	if r := q.HandleCommand("s", "drop:everything"); !strings.HasPrefix(r, "❌") {
		t.Errorf("invalid policy = %q", r)
	}
	if r := q.HandleCommand("s", "bogus"); !strings.HasPrefix(r, "❌") {
		t.Errorf("unknown arg = %q", r)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}
