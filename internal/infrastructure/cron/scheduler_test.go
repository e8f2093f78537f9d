package cron

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/infrastructure/persistence"
	apperrors "github.com/salmalm/salmalm/pkg/errors"
)

type recorder struct {
	mu    sync.Mutex
	fired []string
}

func (r *recorder) run(_ context.Context, sessionID, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, sessionID+"|"+text)
	return "done", nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func testScheduler(t *testing.T) (*Scheduler, *recorder) {
	t.Helper()
	db, err := persistence.OpenLocalDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := persistence.NewCronStore(db)
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	return NewScheduler(store, rec.run, zap.NewNop()), rec
}

func TestAddValidatesSchedule(t *testing.T) {
	s, _ := testScheduler(t)
	if _, err := s.Add("not a schedule", "hi", ""); !apperrors.IsInvalidInput(err) {
		t.Errorf("bad schedule: %v", err)
	}
	if _, err := s.Add("* * * * *", "", ""); !apperrors.IsInvalidInput(err) {
		t.Errorf("empty message: %v", err)
	}
	job, err := s.Add("*/5 * * * *", "check the mail", "")
	if err != nil {
		t.Fatal(err)
	}
	if job.ID == "" || !job.Enabled {
		t.Errorf("job = %+v", job)
	}
}

func TestRunNowFiresOnCronSession(t *testing.T) {
	s, rec := testScheduler(t)
	job, err := s.Add("0 9 * * *", "morning briefing", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow(job.ID); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.fired) != 1 || rec.fired[0] != "cron:"+job.ID+"|morning briefing" {
		t.Errorf("fired = %v", rec.fired)
	}
}

func TestRunNowStampsLastRun(t *testing.T) {
	s, rec := testScheduler(t)
	job, _ := s.Add("0 9 * * *", "ping", "")
	s.RunNow(job.ID)

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// MarkRun happens right after the runner returns.
	var stamped bool
	for time.Now().Before(deadline) {
		jobs, _ := s.List()
		if len(jobs) == 1 && !jobs[0].LastRun.IsZero() {
			stamped = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !stamped {
		t.Error("last_run never stamped")
	}
}

func TestToggleAndDelete(t *testing.T) {
	s, _ := testScheduler(t)
	job, _ := s.Add("* * * * *", "tick", "chat")

	toggled, err := s.Toggle(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if toggled.Enabled {
		t.Error("toggle did not disable")
	}
	s.mu.Lock()
	_, armed := s.entries[job.ID]
	s.mu.Unlock()
	if armed {
		t.Error("disabled job still armed")
	}

	if err := s.Delete(job.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(job.ID); !apperrors.IsNotFound(err) {
		t.Errorf("double delete: %v", err)
	}
}

func TestStartArmsPersistedJobs(t *testing.T) {
	s, _ := testScheduler(t)
	job, _ := s.Add("* * * * *", "tick", "")
	s.disarm(job.ID)

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	s.mu.Lock()
	_, armed := s.entries[job.ID]
	s.mu.Unlock()
	if !armed {
		t.Error("persisted job not rearmed on start")
	}
}
