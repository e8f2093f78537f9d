// Package cron runs persisted schedules. Each fire injects the job's message
// into its session through the queue, so scheduled work shares the same
// agent path as interactive chat.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/entity"
	"github.com/salmalm/salmalm/internal/infrastructure/persistence"
	apperrors "github.com/salmalm/salmalm/pkg/errors"
)

const fireTimeout = 5 * time.Minute

// Runner delivers a fired job's message into a session. Wired to the
// message queue with the agent loop as processor.
type Runner func(ctx context.Context, sessionID, text string) (string, error)

// Scheduler keeps the in-process cron table in sync with the persisted one.
type Scheduler struct {
	store  *persistence.CronStore
	runner Runner
	logger *zap.Logger
	cr     *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewScheduler(store *persistence.CronStore, runner Runner, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:   store,
		runner:  runner,
		logger:  logger,
		cr:      cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads persisted jobs and begins firing. Broken schedules are logged
// and left disabled in place.
func (s *Scheduler) Start() error {
	jobs, err := s.store.List()
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		if err := s.schedule(job); err != nil {
			s.logger.Warn("skipping unschedulable cron job",
				zap.String("id", job.ID), zap.String("schedule", job.Schedule), zap.Error(err))
		}
	}
	s.cr.Start()
	s.logger.Info("cron scheduler started", zap.Int("jobs", len(jobs)))
	return nil
}

// Stop halts firing and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	<-s.cr.Stop().Done()
}

// Add validates the schedule, persists the job, and arms it.
func (s *Scheduler) Add(schedule, message, sessionID string) (entity.CronJob, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return entity.CronJob{}, apperrors.NewInvalidInputError(
			fmt.Sprintf("invalid cron schedule %q: %v", schedule, err))
	}
	if message == "" {
		return entity.CronJob{}, apperrors.NewInvalidInputError("cron message is empty")
	}
	job, err := s.store.Add(schedule, message, sessionID)
	if err != nil {
		return entity.CronJob{}, err
	}
	if err := s.schedule(job); err != nil {
		return entity.CronJob{}, err
	}
	return job, nil
}

// Delete disarms and removes a job.
func (s *Scheduler) Delete(id string) error {
	if err := s.store.Delete(id); err != nil {
		return err
	}
	s.disarm(id)
	return nil
}

// Toggle flips a job's enabled flag, arming or disarming it.
func (s *Scheduler) Toggle(id string) (entity.CronJob, error) {
	job, err := s.store.Get(id)
	if err != nil {
		return entity.CronJob{}, err
	}
	job.Enabled = !job.Enabled
	if err := s.store.SetEnabled(id, job.Enabled); err != nil {
		return entity.CronJob{}, err
	}
	if job.Enabled {
		if err := s.schedule(job); err != nil {
			return entity.CronJob{}, err
		}
	} else {
		s.disarm(id)
	}
	return job, nil
}

// RunNow fires a job immediately, off-schedule.
func (s *Scheduler) RunNow(id string) error {
	job, err := s.store.Get(id)
	if err != nil {
		return err
	}
	go s.fire(job)
	return nil
}

// List returns all persisted jobs.
func (s *Scheduler) List() ([]entity.CronJob, error) {
	return s.store.List()
}

func (s *Scheduler) schedule(job entity.CronJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, armed := s.entries[job.ID]; armed {
		s.cr.Remove(old)
	}
	entryID, err := s.cr.AddFunc(job.Schedule, func() { s.fire(job) })
	if err != nil {
		return apperrors.NewInvalidInputError(
			fmt.Sprintf("invalid cron schedule %q: %v", job.Schedule, err))
	}
	s.entries[job.ID] = entryID
	return nil
}

func (s *Scheduler) disarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, armed := s.entries[id]; armed {
		s.cr.Remove(entryID)
		delete(s.entries, id)
	}
}

func (s *Scheduler) fire(job entity.CronJob) {
	sessionID := job.SessionID
	if sessionID == "" {
		sessionID = "cron:" + job.ID
	}
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	s.logger.Info("cron job firing", zap.String("id", job.ID), zap.String("session", sessionID))
	if _, err := s.runner(ctx, sessionID, job.Message); err != nil {
		s.logger.Error("cron job failed", zap.String("id", job.ID), zap.Error(err))
	}
	if err := s.store.MarkRun(job.ID, time.Now()); err != nil {
		s.logger.Warn("cron run stamp failed", zap.String("id", job.ID), zap.Error(err))
	}
}
