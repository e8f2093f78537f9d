package service

import (
	"strings"
	"sync"
)

// AbortController tracks per-session abort requests and the streamed text of
// the in-flight response. The agent loop checks the flag at its boundaries
// (before an LLM call, before tool dispatch, between iterations); on abort
// the accumulator freezes into a partial response so the turn can persist
// what the model already said.
type AbortController struct {
	mu      sync.Mutex
	flags   map[string]bool
	accum   map[string][]string
	partial map[string]string
}

func NewAbortController() *AbortController {
	return &AbortController{
		flags:   make(map[string]bool),
		accum:   make(map[string][]string),
		partial: make(map[string]string),
	}
}

// StartStreaming resets the accumulator for a fresh response.
func (a *AbortController) StartStreaming(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.accum, sessionID)
}

// AccumulateToken appends streamed text. No-op once the session is aborted;
// the frozen partial must not grow afterwards.
func (a *AbortController) AccumulateToken(sessionID, text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.flags[sessionID] {
		return
	}
	a.accum[sessionID] = append(a.accum[sessionID], text)
}

// SetAbort raises the flag and freezes the current accumulator into the
// partial response in the same critical section.
func (a *AbortController) SetAbort(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flags[sessionID] = true
	if parts := a.accum[sessionID]; len(parts) > 0 {
		a.partial[sessionID] = strings.Join(parts, "")
		delete(a.accum, sessionID)
	}
}

// IsAborted reports whether an abort is pending for the session.
func (a *AbortController) IsAborted(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flags[sessionID]
}

// GetPartial consumes the frozen partial response, if any.
func (a *AbortController) GetPartial(sessionID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	text := a.partial[sessionID]
	delete(a.partial, sessionID)
	return text
}

// Clear drops the abort flag and any buffered text, typically at the start
// of a new run.
func (a *AbortController) Clear(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.flags, sessionID)
	delete(a.accum, sessionID)
}
