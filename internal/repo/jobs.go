package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
)

const jobColumns = `id,kind,requirement_id,payload_json,status,attempts,next_attempt_at,locked_until,last_error,created_at,updated_at`

func scanJob(s rowScanner) (domain.Job, error) {
	var j domain.Job
	var kind, status string
	var locked, lastErr sql.NullString
	if err := s.Scan(&j.ID, &kind, &j.RequirementID, &j.Payload, &status, &j.Attempts, &j.NextAttemptAt, &locked, &lastErr, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return j, err
	}
	j.Kind = domain.JobKind(kind)
	j.Status = domain.JobStatus(status)
	j.LockedUntil = optionalString(locked)
	j.LastError = lastErr.String
	return j, nil
}

// EnqueueJob adds an outbox entry. At most one job per (kind, requirement)
// exists; a duplicate enqueue is a no-op and reports false.
func (r Repo) EnqueueJob(ctx context.Context, q Querier, j domain.Job) (bool, error) {
	if j.Payload == "" {
		j.Payload = "{}"
	}
	res, err := q.ExecContext(ctx, r.q(`INSERT INTO jobs(kind,requirement_id,payload_json,status,attempts,next_attempt_at,created_at,updated_at)
		VALUES (?,?,?,?,0,?,?,?) ON CONFLICT(kind,requirement_id) DO NOTHING`),
		string(j.Kind), j.RequirementID, j.Payload, string(domain.JobPending), j.NextAttemptAt, j.CreatedAt, j.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("enqueue job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) GetJob(ctx context.Context, id int64) (domain.Job, error) {
	j, err := scanJob(r.DB.QueryRowContext(ctx, r.q(`SELECT `+jobColumns+` FROM jobs WHERE id=?`), id))
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	return j, err
}

// ListJobs lists jobs, optionally filtered by status, oldest first.
func (r Repo) ListJobs(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)
	return r.queryJobs(ctx, query, args...)
}

func (r Repo) queryJobs(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// ClaimDueJobs leases up to limit pending jobs that are due at now. Each lease
// is a conditional update so that concurrent dispatchers never share a job.
// The attempt counter is incremented when the lease is taken.
func (r Repo) ClaimDueJobs(ctx context.Context, now, leaseUntil string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	candidates, err := r.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE status='pending' AND next_attempt_at<=? AND (locked_until IS NULL OR locked_until<=?)
		ORDER BY next_attempt_at, id LIMIT ?`, now, now, limit)
	if err != nil {
		return nil, err
	}
	var leased []domain.Job
	for _, j := range candidates {
		res, err := r.DB.ExecContext(ctx, r.q(`UPDATE jobs SET locked_until=?, attempts=attempts+1, updated_at=?
			WHERE id=? AND status='pending' AND (locked_until IS NULL OR locked_until<=?)`), leaseUntil, now, j.ID, now)
		if err != nil {
			return leased, fmt.Errorf("lease job %d: %w", j.ID, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			continue
		}
		j.Attempts++
		j.LockedUntil = &leaseUntil
		leased = append(leased, j)
	}
	return leased, nil
}

func (r Repo) CompleteJob(ctx context.Context, id int64, at string) error {
	_, err := r.DB.ExecContext(ctx, r.q(`UPDATE jobs SET status='done', locked_until=NULL, last_error=NULL, updated_at=? WHERE id=?`), at, id)
	return err
}

// RescheduleJob releases the lease and sets the next attempt time.
func (r Repo) RescheduleJob(ctx context.Context, id int64, nextAttemptAt, lastError, at string) error {
	_, err := r.DB.ExecContext(ctx, r.q(`UPDATE jobs SET locked_until=NULL, next_attempt_at=?, last_error=?, updated_at=? WHERE id=?`),
		nextAttemptAt, nullable(lastError), at, id)
	return err
}

func (r Repo) MarkJobDead(ctx context.Context, id int64, lastError, at string) error {
	_, err := r.DB.ExecContext(ctx, r.q(`UPDATE jobs SET status='dead', locked_until=NULL, last_error=?, updated_at=? WHERE id=?`),
		nullable(lastError), at, id)
	return err
}

// CancelPendingJob marks a requirement's pending job of the given kind dead so
// no dispatcher leases it again. A job already leased or done is untouched.
func (r Repo) CancelPendingJob(ctx context.Context, q Querier, kind domain.JobKind, requirementID, reason, at string) (bool, error) {
	res, err := q.ExecContext(ctx, r.q(`UPDATE jobs SET status='dead', last_error=?, updated_at=?
		WHERE kind=? AND requirement_id=? AND status='pending' AND (locked_until IS NULL OR locked_until<=?)`),
		nullable(reason), at, string(kind), requirementID, at)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
