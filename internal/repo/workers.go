package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
)

const workerColumns = `id,role_id,display_name,seniority,languages_json,expertises_json,availability,kind,created_at,updated_at`

func scanWorker(s rowScanner) (domain.Worker, error) {
	var w domain.Worker
	var name sql.NullString
	var seniority, langs, exps, availability, kind string
	if err := s.Scan(&w.ID, &w.RoleID, &name, &seniority, &langs, &exps, &availability, &kind, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return w, err
	}
	w.DisplayName = name.String
	w.Seniority = domain.Seniority(seniority)
	w.Availability = domain.Availability(availability)
	w.Kind = domain.WorkerKind(kind)
	var err error
	if w.Languages, err = decodeSet(langs); err != nil {
		return w, err
	}
	if w.Expertises, err = decodeSet(exps); err != nil {
		return w, err
	}
	return w, nil
}

func (r Repo) InsertWorker(ctx context.Context, q Querier, w domain.Worker) error {
	langs, err := encodeSet(w.Languages)
	if err != nil {
		return err
	}
	exps, err := encodeSet(w.Expertises)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, r.q(`INSERT INTO workers(`+workerColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`),
		w.ID, w.RoleID, nullable(w.DisplayName), string(w.Seniority), langs, exps, string(w.Availability), string(w.Kind), w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert worker: %w", err)
	}
	return nil
}

// UpdateWorker overwrites the mutable profile fields of a worker.
func (r Repo) UpdateWorker(ctx context.Context, q Querier, w domain.Worker) error {
	langs, err := encodeSet(w.Languages)
	if err != nil {
		return err
	}
	exps, err := encodeSet(w.Expertises)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, r.q(`UPDATE workers SET display_name=?, seniority=?, languages_json=?, expertises_json=?, availability=?, updated_at=? WHERE id=?`),
		nullable(w.DisplayName), string(w.Seniority), langs, exps, string(w.Availability), w.UpdatedAt, w.ID)
	if err != nil {
		return fmt.Errorf("update worker: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetWorker(ctx context.Context, id string) (domain.Worker, error) {
	return r.GetWorkerTx(ctx, r.DB, id)
}

func (r Repo) GetWorkerTx(ctx context.Context, q Querier, id string) (domain.Worker, error) {
	w, err := scanWorker(q.QueryRowContext(ctx, r.q(`SELECT `+workerColumns+` FROM workers WHERE id=?`), id))
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

// GetSyntheticWorker returns the canonical synthetic worker of a role.
func (r Repo) GetSyntheticWorker(ctx context.Context, q Querier, roleID string) (domain.Worker, error) {
	w, err := scanWorker(q.QueryRowContext(ctx, r.q(`SELECT `+workerColumns+` FROM workers WHERE role_id=? AND kind='synthetic'`), roleID))
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

// ListWorkers lists workers, optionally restricted to a role.
func (r Repo) ListWorkers(ctx context.Context, roleID string) ([]domain.Worker, error) {
	if roleID == "" {
		return r.queryWorkers(ctx, r.DB, `SELECT `+workerColumns+` FROM workers ORDER BY role_id, id`)
	}
	return r.CandidateWorkers(ctx, r.DB, roleID)
}

// CandidateWorkers returns every worker of a role. Eligibility is decided by
// the matcher, not by this query.
func (r Repo) CandidateWorkers(ctx context.Context, q Querier, roleID string) ([]domain.Worker, error) {
	return r.queryWorkers(ctx, q, `SELECT `+workerColumns+` FROM workers WHERE role_id=? ORDER BY id`, roleID)
}

func (r Repo) queryWorkers(ctx context.Context, q Querier, query string, args ...any) ([]domain.Worker, error) {
	rows, err := q.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// SetWorkerAvailability flips availability and reports whether the stored
// value changed.
func (r Repo) SetWorkerAvailability(ctx context.Context, q Querier, id string, availability domain.Availability, updatedAt string) (bool, error) {
	res, err := q.ExecContext(ctx, r.q(`UPDATE workers SET availability=?, updated_at=? WHERE id=? AND availability<>?`),
		string(availability), updatedAt, id, string(availability))
	if err != nil {
		return false, fmt.Errorf("set availability: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
