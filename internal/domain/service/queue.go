package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

// Queue delivery modes.
const (
	ModeCollect      = "collect"
	ModeFollowup     = "followup"
	ModeSteer        = "steer"
	ModeSteerBacklog = "steer-backlog"
	ModeInterrupt    = "interrupt"
)

// Overflow drop policies.
const (
	DropOld       = "old"
	DropNew       = "new"
	DropSummarize = "summarize"
)

// Processor runs one (possibly merged) message for a session and returns
// the reply text.
type Processor func(ctx context.Context, sessionID, text string) (string, error)

// QueueOptions are the effective lane settings. Zero fields in a per-session
// override fall through to the defaults.
type QueueOptions struct {
	Mode     string
	Debounce time.Duration
	Cap      int
	Drop     string
}

type queueResult struct {
	text string
	err  error
}

// lane is the per-session delivery state. The session semaphore (1-permit
// channel) serializes turns; pending holds messages the mode has not
// released yet.
type lane struct {
	id  string
	sem chan struct{}

	mu        sync.Mutex
	pending   []entity.QueuedMessage
	waiters   []chan queueResult
	debounce  *time.Timer
	cancel    context.CancelFunc
	running   bool
	steerText string
	steerSet  bool
	overrides QueueOptions
}

// MessageQueue owns the global concurrency budget and the per-session lanes.
// Main sessions share one weighted semaphore, sub-agent sessions another, so
// background agents can never starve interactive traffic.
type MessageQueue struct {
	defaults QueueOptions
	mainSem  *semaphore.Weighted
	subSem   *semaphore.Weighted
	abort    *AbortController
	logger   *zap.Logger

	mu    sync.Mutex
	lanes map[string]*lane
}

// NewMessageQueue builds the queue. maxMain/maxSubagent bound concurrent
// turns across all sessions of each kind.
func NewMessageQueue(defaults QueueOptions, maxMain, maxSubagent int, abort *AbortController, logger *zap.Logger) *MessageQueue {
	if defaults.Mode == "" {
		defaults.Mode = ModeCollect
	}
	if defaults.Debounce <= 0 {
		defaults.Debounce = 500 * time.Millisecond
	}
	if defaults.Cap <= 0 {
		defaults.Cap = 20
	}
	if defaults.Drop == "" {
		defaults.Drop = DropOld
	}
	if maxMain <= 0 {
		maxMain = 4
	}
	if maxSubagent <= 0 {
		maxSubagent = 8
	}
	return &MessageQueue{
		defaults: defaults,
		mainSem:  semaphore.NewWeighted(int64(maxMain)),
		subSem:   semaphore.NewWeighted(int64(maxSubagent)),
		abort:    abort,
		logger:   logger.With(zap.String("component", "message-queue")),
		lanes:    make(map[string]*lane),
	}
}

// Process routes one inbound message through the session's delivery mode
// and blocks until a result is available for this caller.
func (q *MessageQueue) Process(ctx context.Context, sessionID, text string, processor Processor) (string, error) {
	ctx = WithTraceID(ctx, "")
	ln := q.lane(sessionID)
	opts := q.effectiveOptions(ln)

	switch opts.Mode {
	case ModeSteer, ModeSteerBacklog:
		ln.mu.Lock()
		if ln.running {
			if ln.steerSet {
				ln.steerText += "\n" + text
			} else {
				ln.steerText = text
				ln.steerSet = true
			}
			if opts.Mode == ModeSteerBacklog {
				q.enqueueLocked(ln, text, opts)
			}
			ln.mu.Unlock()
			return "[steered]", nil
		}
		ln.mu.Unlock()
		return q.collect(ctx, ln, text, processor, opts)

	case ModeFollowup:
		return q.followup(ctx, ln, text, processor, opts)

	case ModeInterrupt:
		return q.interrupt(ctx, ln, text, processor, opts)

	default:
		return q.collect(ctx, ln, text, processor, opts)
	}
}

// RunExclusive runs fn while holding the session lane and a global permit,
// so out-of-band work that rewrites the transcript, like regenerate, never
// overlaps a queued turn on the same session.
func (q *MessageQueue) RunExclusive(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	ln := q.lane(sessionID)
	select {
	case ln.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-ln.sem }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ln.mu.Lock()
	ln.cancel = cancel
	ln.running = true
	ln.mu.Unlock()
	defer func() {
		ln.mu.Lock()
		ln.cancel = nil
		ln.running = false
		ln.mu.Unlock()
	}()

	sem := q.globalSem(sessionID)
	if err := sem.Acquire(runCtx, 1); err != nil {
		return err
	}
	defer sem.Release(1)
	return fn(runCtx)
}

// Steer places text in the session's steer slot when a task is running.
// Returns false when the session is idle; callers then deliver normally.
func (q *MessageQueue) Steer(sessionID, text string) bool {
	ln := q.lane(sessionID)
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if !ln.running {
		return false
	}
	if ln.steerSet {
		ln.steerText += "\n" + text
	} else {
		ln.steerText = text
		ln.steerSet = true
	}
	return true
}

// TakeSteer consumes the pending steer message, if any. The agent loop
// calls this at iteration boundaries.
func (q *MessageQueue) TakeSteer(sessionID string) (string, bool) {
	ln := q.lane(sessionID)
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if !ln.steerSet {
		return "", false
	}
	text := ln.steerText
	ln.steerText = ""
	ln.steerSet = false
	return text, true
}

// Pending reports the backlog length for a session.
func (q *MessageQueue) Pending(sessionID string) int {
	ln := q.lane(sessionID)
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return len(ln.pending)
}

// SetOptions replaces the per-session overrides.
func (q *MessageQueue) SetOptions(sessionID string, opts QueueOptions) {
	ln := q.lane(sessionID)
	ln.mu.Lock()
	ln.overrides = opts
	ln.mu.Unlock()
}

// HandleCommand applies a "/queue …" runtime command and returns a status
// line. Accepted forms: a mode name, debounce:<dur>, cap:<n>, drop:<policy>,
// reset, or bare "/queue" for the current settings.
func (q *MessageQueue) HandleCommand(sessionID, args string) string {
	ln := q.lane(sessionID)
	args = strings.TrimSpace(args)

	if args == "" {
		opts := q.effectiveOptions(ln)
		return fmt.Sprintf("queue: mode=%s debounce=%s cap=%d drop=%s pending=%d",
			opts.Mode, opts.Debounce, opts.Cap, opts.Drop, q.Pending(sessionID))
	}

	ln.mu.Lock()
	defer ln.mu.Unlock()
	switch {
	case args == "reset":
		ln.overrides = QueueOptions{}
		return "queue: session overrides cleared"
	case args == ModeCollect || args == ModeFollowup || args == ModeSteer ||
		args == ModeSteerBacklog || args == ModeInterrupt:
		ln.overrides.Mode = args
		return "queue: mode=" + args
	case strings.HasPrefix(args, "debounce:"):
		d, err := time.ParseDuration(strings.TrimPrefix(args, "debounce:"))
		if err != nil || d < 0 {
			return "❌ invalid debounce: " + args
		}
		ln.overrides.Debounce = d
		return "queue: debounce=" + d.String()
	case strings.HasPrefix(args, "cap:"):
		var n int
		if _, err := fmt.Sscanf(args, "cap:%d", &n); err != nil || n <= 0 {
			return "❌ invalid cap: " + args
		}
		ln.overrides.Cap = n
		return fmt.Sprintf("queue: cap=%d", n)
	case strings.HasPrefix(args, "drop:"):
		p := strings.TrimPrefix(args, "drop:")
		if p != DropOld && p != DropNew && p != DropSummarize {
			return "❌ invalid drop policy: " + p
		}
		ln.overrides.Drop = p
		return "queue: drop=" + p
	default:
		return "❌ usage: /queue <mode>|debounce:<dur>|cap:<n>|drop:<policy>|reset"
	}
}

// --- modes ---

func (q *MessageQueue) collect(ctx context.Context, ln *lane, text string, processor Processor, opts QueueOptions) (string, error) {
	ln.mu.Lock()
	w, rejected := q.enqueueLocked(ln, text, opts)
	if rejected {
		ln.mu.Unlock()
		return "[queue full, message dropped]", nil
	}
	if ln.debounce != nil {
		ln.debounce.Stop()
	}
	ln.debounce = time.AfterFunc(opts.Debounce, func() {
		q.runBatch(ln, processor)
	})
	ln.mu.Unlock()

	select {
	case r := <-w:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *MessageQueue) followup(ctx context.Context, ln *lane, text string, processor Processor, opts QueueOptions) (string, error) {
	ln.mu.Lock()
	w, rejected := q.enqueueLocked(ln, text, opts)
	ln.mu.Unlock()
	if rejected {
		return "[queue full, message dropped]", nil
	}

	select {
	case ln.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-ln.sem }()

	// Another turn may have drained this message while we waited.
	select {
	case r := <-w:
		return r.text, r.err
	default:
	}
	r := q.processBatch(ln, processor)
	return r.text, r.err
}

func (q *MessageQueue) interrupt(ctx context.Context, ln *lane, text string, processor Processor, opts QueueOptions) (string, error) {
	ln.mu.Lock()
	if ln.cancel != nil {
		ln.cancel()
	}
	if ln.debounce != nil {
		ln.debounce.Stop()
		ln.debounce = nil
	}
	dropped := ln.waiters
	ln.pending = nil
	ln.waiters = nil
	ln.mu.Unlock()

	if q.abort != nil {
		q.abort.SetAbort(ln.id)
	}
	for _, w := range dropped {
		deliver(w, queueResult{text: "[interrupted]"})
	}

	ln.mu.Lock()
	w, _ := q.enqueueLocked(ln, text, opts)
	ln.mu.Unlock()

	select {
	case ln.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-ln.sem }()

	if q.abort != nil {
		q.abort.Clear(ln.id)
	}
	select {
	case r := <-w:
		return r.text, r.err
	default:
	}
	r := q.processBatch(ln, processor)
	return r.text, r.err
}

// runBatch is the debounce-fired path: session semaphore, then the batch.
func (q *MessageQueue) runBatch(ln *lane, processor Processor) {
	ln.sem <- struct{}{}
	defer func() { <-ln.sem }()
	q.processBatch(ln, processor)
}

// processBatch drains pending into one merged message, runs the processor
// under the global semaphore, and delivers the result to every batched
// caller. The session semaphore must already be held.
func (q *MessageQueue) processBatch(ln *lane, processor Processor) queueResult {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln.mu.Lock()
	texts := make([]string, 0, len(ln.pending))
	for _, m := range ln.pending {
		texts = append(texts, m.Text)
	}
	waiters := ln.waiters
	ln.pending = nil
	ln.waiters = nil
	if len(texts) == 0 {
		ln.mu.Unlock()
		return queueResult{}
	}
	ln.cancel = cancel
	ln.running = true
	ln.mu.Unlock()

	defer func() {
		ln.mu.Lock()
		ln.cancel = nil
		ln.running = false
		ln.mu.Unlock()
	}()

	merged := strings.Join(texts, "\n")

	sem := q.globalSem(ln.id)
	if err := sem.Acquire(runCtx, 1); err != nil {
		r := queueResult{err: err}
		for _, w := range waiters {
			deliver(w, r)
		}
		return r
	}
	defer sem.Release(1)

	text, err := processor(runCtx, ln.id, merged)
	r := queueResult{text: text, err: err}
	for _, w := range waiters {
		deliver(w, r)
	}
	return r
}

// --- internals ---

func (q *MessageQueue) lane(sessionID string) *lane {
	q.mu.Lock()
	defer q.mu.Unlock()
	ln, ok := q.lanes[sessionID]
	if !ok {
		ln = &lane{id: sessionID, sem: make(chan struct{}, 1)}
		q.lanes[sessionID] = ln
	}
	return ln
}

func (q *MessageQueue) globalSem(sessionID string) *semaphore.Weighted {
	if entity.IsSubAgentSession(sessionID) {
		return q.subSem
	}
	return q.mainSem
}

func (q *MessageQueue) effectiveOptions(ln *lane) QueueOptions {
	ln.mu.Lock()
	o := ln.overrides
	ln.mu.Unlock()

	opts := q.defaults
	if o.Mode != "" {
		opts.Mode = o.Mode
	}
	if o.Debounce > 0 {
		opts.Debounce = o.Debounce
	}
	if o.Cap > 0 {
		opts.Cap = o.Cap
	}
	if o.Drop != "" {
		opts.Drop = o.Drop
	}
	return opts
}

// enqueueLocked appends a message, applying the overflow policy. Returns the
// caller's waiter and whether the message was rejected (drop:new at cap).
// ln.mu must be held.
func (q *MessageQueue) enqueueLocked(ln *lane, text string, opts QueueOptions) (chan queueResult, bool) {
	w := make(chan queueResult, 1)

	if len(ln.pending) >= opts.Cap {
		switch opts.Drop {
		case DropNew:
			q.logger.Warn("Queue full, rejecting message", zap.String("session", ln.id))
			return nil, true
		case DropSummarize:
			// Room is reserved for the summary entry and the new message,
			// so this policy lands exactly at cap like the others.
			keep := opts.Cap - 2
			if keep < 0 {
				keep = 0
			}
			excess := len(ln.pending) - keep
			summary := summarizeDropped(ln.pending[:excess])
			ln.pending = append([]entity.QueuedMessage{summary}, ln.pending[excess:]...)
			if len(ln.pending) >= opts.Cap { // cap 1 has no room for the summary either
				ln.pending = ln.pending[len(ln.pending)-opts.Cap+1:]
			}
		default: // old
			excess := len(ln.pending) - opts.Cap + 1
			ln.pending = ln.pending[excess:]
			q.logger.Warn("Queue full, dropped oldest",
				zap.String("session", ln.id), zap.Int("dropped", excess))
		}
	}

	ln.pending = append(ln.pending, entity.QueuedMessage{Text: text, Timestamp: time.Now()})
	ln.waiters = append(ln.waiters, w)
	return w, false
}

// summarizeDropped collapses dropped messages into one synthetic entry that
// keeps their prefixes visible.
func summarizeDropped(dropped []entity.QueuedMessage) entity.QueuedMessage {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[earlier %d messages summarized]", len(dropped))
	for _, m := range dropped {
		prefix := m.Text
		if len(prefix) > 60 {
			prefix = prefix[:60]
		}
		sb.WriteString("\n- ")
		sb.WriteString(prefix)
	}
	return entity.QueuedMessage{Text: sb.String(), Timestamp: time.Now()}
}

func deliver(w chan queueResult, r queueResult) {
	select {
	case w <- r:
	default:
	}
}
