package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/entity"
	"github.com/salmalm/salmalm/pkg/errors"
	"github.com/salmalm/salmalm/pkg/safego"
)

// SubAgentManager spawns background agent runs on "agent:<id>" sessions.
// Each run goes through the message queue, so sub-agents draw from the
// subagent semaphore and never crowd out interactive sessions. Completion
// is announced through the injected Notifier; the manager knows nothing
// about Telegram or the web UI.
type SubAgentManager struct {
	queue    *MessageQueue
	loop     *AgentLoop
	sessions SessionAccess
	notifier Notifier
	logger   *zap.Logger

	mu      sync.Mutex
	jobs    map[string]*entity.Job
	cancels map[string]context.CancelFunc
}

func NewSubAgentManager(queue *MessageQueue, loop *AgentLoop, sessions SessionAccess, logger *zap.Logger) *SubAgentManager {
	return &SubAgentManager{
		queue:    queue,
		loop:     loop,
		sessions: sessions,
		logger:   logger.With(zap.String("component", "subagent")),
		jobs:     make(map[string]*entity.Job),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// SetNotifier wires the completion callback. Optional.
func (m *SubAgentManager) SetNotifier(n Notifier) { m.notifier = n }

// Spawn starts a background run of task and returns the agent id.
func (m *SubAgentManager) Spawn(parentSessionID, task, model string) (string, error) {
	if strings.TrimSpace(task) == "" {
		return "", errors.NewInvalidInputError("empty task")
	}
	id := uuid.NewString()[:8]
	job := &entity.Job{
		ID:              id,
		Task:            task,
		Model:           model,
		Status:          entity.JobPending,
		ParentSessionID: parentSessionID,
		SessionID:       "agent:" + id,
		StartedAt:       time.Now(),
	}
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.jobs[id] = job
	m.cancels[id] = cancel
	m.mu.Unlock()

	// Sub-agent lanes deliver immediately; nothing is batching keystrokes.
	m.queue.SetOptions(job.SessionID, QueueOptions{Mode: ModeFollowup})

	safego.Go(m.logger, "subagent-"+id, func() {
		defer cancel()
		m.setStatus(id, entity.JobRunning, "", "")
		m.logger.Info("Sub-agent started",
			zap.String("id", id), zap.String("parent", parentSessionID))

		result, err := m.queue.Process(ctx, job.SessionID, task,
			func(ctx context.Context, sessionID, text string) (string, error) {
				return m.loop.Run(ctx, sessionID, text, RunOptions{ModelOverride: model}, nil)
			})

		switch {
		case ctx.Err() != nil:
			m.setStatus(id, entity.JobCancelled, "", "stopped")
		case err != nil:
			m.setStatus(id, entity.JobFailed, "", err.Error())
			m.notify(parentSessionID, fmt.Sprintf("🤖 Agent %s failed: %v", id, err))
		default:
			m.setStatus(id, entity.JobCompleted, result, "")
			m.notify(parentSessionID, fmt.Sprintf("🤖 Agent %s finished:\n%s", id, result))
		}
	})
	return id, nil
}

// List returns all jobs, newest first.
func (m *SubAgentManager) List() []*entity.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entity.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Get returns one job by id.
func (m *SubAgentManager) Get(id string) (*entity.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, errors.NewNotFoundError("agent " + id)
	}
	cp := *j
	return &cp, nil
}

// Steer injects a message into a running sub-agent's loop.
func (m *SubAgentManager) Steer(id, message string) error {
	j, err := m.Get(id)
	if err != nil {
		return err
	}
	if j.Terminal() {
		return errors.NewInvalidInputError("agent " + id + " already finished")
	}
	if !m.queue.Steer(j.SessionID, message) {
		return errors.NewInvalidInputError("agent " + id + " is not executing")
	}
	return nil
}

// Stop cancels a running sub-agent.
func (m *SubAgentManager) Stop(id string) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	cancel := m.cancels[id]
	m.mu.Unlock()
	if !ok {
		return errors.NewNotFoundError("agent " + id)
	}
	if j.Terminal() {
		return errors.NewInvalidInputError("agent " + id + " already finished")
	}
	if cancel != nil {
		cancel()
	}
	m.setStatus(id, entity.JobCancelled, "", "stopped by user")
	m.logger.Info("Sub-agent stopped", zap.String("id", id))
	return nil
}

// Log returns the last limit turns of the sub-agent's session, one line per
// message.
func (m *SubAgentManager) Log(ctx context.Context, id string, limit int) ([]string, error) {
	j, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	sess, err := m.sessions.Load(ctx, j.SessionID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	msgs := sess.Messages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		text := msg.Text()
		if len(text) > 200 {
			text = text[:200] + "…"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", msg.Role, text))
	}
	return lines, nil
}

func (m *SubAgentManager) setStatus(id string, status entity.JobStatus, result, errText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return
	}
	// A cancelled job stays cancelled even if the run returns later.
	if j.Terminal() {
		return
	}
	j.Status = status
	j.Result = result
	j.Error = errText
	if j.Terminal() {
		now := time.Now()
		j.CompletedAt = &now
	}
}

func (m *SubAgentManager) notify(parentSessionID, text string) {
	if m.notifier != nil {
		m.notifier.Notify(parentSessionID, text)
	}
}
