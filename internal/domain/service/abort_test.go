package service

import (
	"sync"
	"testing"
)

func TestAbortFreezesPartial(t *testing.T) {
	a := NewAbortController()
	a.StartStreaming("s1")
	a.AccumulateToken("s1", "Hello, ")
	a.AccumulateToken("s1", "world")
	a.SetAbort("s1")

	if !a.IsAborted("s1") {
		t.Fatal("flag not set")
	}
	// Tokens after abort must not grow the frozen partial.
	a.AccumulateToken("s1", " IGNORED")

	if got := a.GetPartial("s1"); got != "Hello, world" {
		t.Errorf("partial = %q", got)
	}
	// Consumed.
	if got := a.GetPartial("s1"); got != "" {
		t.Errorf("partial not consumed: %q", got)
	}
}

func TestStartStreamingResetsAccumulator(t *testing.T) {
	a := NewAbortController()
	a.AccumulateToken("s1", "stale")
	a.StartStreaming("s1")
	a.AccumulateToken("s1", "fresh")
	a.SetAbort("s1")
	if got := a.GetPartial("s1"); got != "fresh" {
		t.Errorf("partial = %q", got)
	}
}

func TestClearDropsFlagAndBuffer(t *testing.T) {
	a := NewAbortController()
	a.AccumulateToken("s1", "text")
	a.SetAbort("s1")
	a.Clear("s1")
	if a.IsAborted("s1") {
		t.Error("flag survived clear")
	}
	a.AccumulateToken("s1", "after")
	a.SetAbort("s1")
	if got := a.GetPartial("s1"); got != "after" {
		t.Errorf("partial = %q", got)
	}
}

func TestAbortSessionsIndependent(t *testing.T) {
	a := NewAbortController()
	a.SetAbort("s1")
	if a.IsAborted("s2") {
		t.Error("abort leaked across sessions")
	}
}

func TestAbortConcurrentAccess(t *testing.T) {
	a := NewAbortController()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.AccumulateToken("s1", "x")
				a.IsAborted("s1")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.SetAbort("s1")
	}()
	wg.Wait()
	a.GetPartial("s1")
}
