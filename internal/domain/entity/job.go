package entity

import "time"

// JobStatus is the lifecycle state of a spawned sub-agent.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job tracks one background agent run.
type Job struct {
	ID              string     `json:"id"`
	Task            string     `json:"task"`
	Model           string     `json:"model,omitempty"`
	Status          JobStatus  `json:"status"`
	Result          string     `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
	ParentSessionID string     `json:"parent_session_id,omitempty"`
	SessionID       string     `json:"session_id"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has finished in any way.
func (j *Job) Terminal() bool {
	switch j.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// CronJob is a persisted schedule that injects a message into a session.
type CronJob struct {
	ID        string    `json:"id"`
	Schedule  string    `json:"schedule"`
	Message   string    `json:"message"`
	SessionID string    `json:"session_id"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	LastRun   time.Time `json:"last_run,omitempty"`
}
