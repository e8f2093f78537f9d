package persistence

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/salmalm/salmalm/internal/domain/entity"
	apperrors "github.com/salmalm/salmalm/pkg/errors"
)

// CronStore persists scheduled jobs in the local sqlite file, alongside the
// audit log. The scheduler reloads from here on startup.
type CronStore struct {
	db *sql.DB
}

// NewCronStore migrates the cron table over an open local handle.
func NewCronStore(db *sql.DB) (*CronStore, error) {
	const schema = `CREATE TABLE IF NOT EXISTS cron_jobs (
		id TEXT PRIMARY KEY,
		schedule TEXT NOT NULL,
		message TEXT NOT NULL,
		session_id TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		last_run TIMESTAMP
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "migrate cron table", err)
	}
	return &CronStore{db: db}, nil
}

// Add stores a new job and returns its id.
func (s *CronStore) Add(schedule, message, sessionID string) (entity.CronJob, error) {
	job := entity.CronJob{
		ID:        uuid.NewString()[:8],
		Schedule:  schedule,
		Message:   message,
		SessionID: sessionID,
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	_, err := s.db.Exec(
		`INSERT INTO cron_jobs (id, schedule, message, session_id, enabled, created_at) VALUES (?, ?, ?, ?, 1, ?)`,
		job.ID, job.Schedule, job.Message, job.SessionID, job.CreatedAt,
	)
	if err != nil {
		return entity.CronJob{}, apperrors.Wrap(apperrors.CodeInternal, "insert cron job", err)
	}
	return job, nil
}

// List returns all jobs, oldest first.
func (s *CronStore) List() ([]entity.CronJob, error) {
	rows, err := s.db.Query(`SELECT id, schedule, message, session_id, enabled, created_at, last_run FROM cron_jobs ORDER BY created_at`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "query cron jobs", err)
	}
	defer rows.Close()

	var out []entity.CronJob
	for rows.Next() {
		var job entity.CronJob
		var enabled int
		var lastRun sql.NullTime
		if err := rows.Scan(&job.ID, &job.Schedule, &job.Message, &job.SessionID, &enabled, &job.CreatedAt, &lastRun); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "scan cron row", err)
		}
		job.Enabled = enabled != 0
		if lastRun.Valid {
			job.LastRun = lastRun.Time
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Get returns one job.
func (s *CronStore) Get(id string) (entity.CronJob, error) {
	var job entity.CronJob
	var enabled int
	var lastRun sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, schedule, message, session_id, enabled, created_at, last_run FROM cron_jobs WHERE id = ?`, id,
	).Scan(&job.ID, &job.Schedule, &job.Message, &job.SessionID, &enabled, &job.CreatedAt, &lastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.CronJob{}, apperrors.NewNotFoundError("cron job not found: " + id)
	}
	if err != nil {
		return entity.CronJob{}, apperrors.Wrap(apperrors.CodeInternal, "load cron job", err)
	}
	job.Enabled = enabled != 0
	if lastRun.Valid {
		job.LastRun = lastRun.Time
	}
	return job, nil
}

// Delete removes a job.
func (s *CronStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM cron_jobs WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "delete cron job", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("cron job not found: " + id)
	}
	return nil
}

// SetEnabled toggles a job.
func (s *CronStore) SetEnabled(id string, enabled bool) error {
	result, err := s.db.Exec(`UPDATE cron_jobs SET enabled = ? WHERE id = ?`, boolInt(enabled), id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "toggle cron job", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("cron job not found: " + id)
	}
	return nil
}

// MarkRun stamps the last execution time.
func (s *CronStore) MarkRun(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE cron_jobs SET last_run = ? WHERE id = ?`, at, id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "stamp cron run", err)
	}
	return nil
}
