package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
)

const requirementColumns = `id,project_id,role_id,seniority,required_languages_json,required_expertises_json,booking_status,holder_id,is_synthetic,decline_reason,search_deadline,version,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequirement(s rowScanner) (domain.Requirement, error) {
	var req domain.Requirement
	var seniority, status, langs, exps string
	var holder, reason, deadline sql.NullString
	if err := s.Scan(&req.ID, &req.ProjectID, &req.RoleID, &seniority, &langs, &exps, &status, &holder,
		&req.IsSynthetic, &reason, &deadline, &req.Version, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return req, err
	}
	req.Seniority = domain.Seniority(seniority)
	req.BookingStatus = domain.BookingStatus(status)
	req.HolderID = optionalString(holder)
	req.DeclineReason = reason.String
	req.SearchDeadline = optionalString(deadline)
	var err error
	if req.RequiredLanguages, err = decodeSet(langs); err != nil {
		return req, err
	}
	if req.RequiredExpertises, err = decodeSet(exps); err != nil {
		return req, err
	}
	return req, nil
}

func (r Repo) InsertRequirement(ctx context.Context, q Querier, req domain.Requirement) error {
	langs, err := encodeSet(req.RequiredLanguages)
	if err != nil {
		return err
	}
	exps, err := encodeSet(req.RequiredExpertises)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, r.q(`INSERT INTO requirements(`+requirementColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		req.ID, req.ProjectID, req.RoleID, string(req.Seniority), langs, exps, string(req.BookingStatus),
		nullableStringPtr(req.HolderID), req.IsSynthetic, nullable(req.DeclineReason), nullableStringPtr(req.SearchDeadline),
		req.Version, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert requirement: %w", err)
	}
	return nil
}

func (r Repo) GetRequirement(ctx context.Context, id string) (domain.Requirement, error) {
	return r.GetRequirementTx(ctx, r.DB, id)
}

func (r Repo) GetRequirementTx(ctx context.Context, q Querier, id string) (domain.Requirement, error) {
	row := q.QueryRowContext(ctx, r.q(`SELECT `+requirementColumns+` FROM requirements WHERE id=?`), id)
	req, err := scanRequirement(row)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	return req, err
}

func (r Repo) queryRequirements(ctx context.Context, q Querier, query string, args ...any) ([]domain.Requirement, error) {
	rows, err := q.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Requirement
	for rows.Next() {
		req, err := scanRequirement(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

func (r Repo) ListRequirementsByProject(ctx context.Context, q Querier, projectID string) ([]domain.Requirement, error) {
	return r.queryRequirements(ctx, q, `SELECT `+requirementColumns+` FROM requirements WHERE project_id=? ORDER BY created_at, id`, projectID)
}

// ListDueForExpiry returns searching requirements whose search deadline is at
// or before now.
func (r Repo) ListDueForExpiry(ctx context.Context, now string, limit int) ([]domain.Requirement, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryRequirements(ctx, r.DB, `SELECT `+requirementColumns+` FROM requirements
		WHERE booking_status='searching' AND search_deadline IS NOT NULL AND search_deadline <= ?
		ORDER BY search_deadline, id LIMIT ?`, now, limit)
}

// ListMissionsForWorker returns searching requirements offered to the worker
// and requirements the worker currently holds.
func (r Repo) ListMissionsForWorker(ctx context.Context, workerID string) ([]domain.Requirement, error) {
	return r.queryRequirements(ctx, r.DB, `SELECT `+requirementColumns+` FROM requirements
		WHERE (booking_status='searching' AND EXISTS (
			SELECT 1 FROM requirement_offers o WHERE o.requirement_id=requirements.id AND o.worker_id=?))
		OR (booking_status='accepted' AND holder_id=?)
		ORDER BY created_at, id`, workerID, workerID)
}

// RequirementTransition is a compare-and-swap on a requirement row: it only
// applies while the row still has status From at Version.
type RequirementTransition struct {
	ID             string
	From           domain.BookingStatus
	Version        int64
	To             domain.BookingStatus
	HolderID       *string
	DeclineReason  string
	SearchDeadline *string
	UpdatedAt      string
}

// TransitionRequirement applies t and reports whether the row was updated.
// A false result means another writer changed the row first.
func (r Repo) TransitionRequirement(ctx context.Context, q Querier, t RequirementTransition) (bool, error) {
	res, err := q.ExecContext(ctx, r.q(`UPDATE requirements
		SET booking_status=?, holder_id=?, decline_reason=COALESCE(?, decline_reason),
			search_deadline=COALESCE(?, search_deadline), version=version+1, updated_at=?
		WHERE id=? AND booking_status=? AND version=?`),
		string(t.To), nullableStringPtr(t.HolderID), nullable(t.DeclineReason), nullableStringPtr(t.SearchDeadline),
		t.UpdatedAt, t.ID, string(t.From), t.Version)
	if err != nil {
		return false, fmt.Errorf("transition requirement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountRequirementsByStatus tallies a project's requirements per booking status.
func (r Repo) CountRequirementsByStatus(ctx context.Context, q Querier, projectID string) (map[domain.BookingStatus]int, error) {
	rows, err := q.QueryContext(ctx, r.q(`SELECT booking_status, COUNT(*) FROM requirements WHERE project_id=? GROUP BY booking_status`), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.BookingStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[domain.BookingStatus(status)] = n
	}
	return res, rows.Err()
}

// InsertOffers records the eligible set computed when the requirement opened.
func (r Repo) InsertOffers(ctx context.Context, q Querier, requirementID string, workerIDs []string, offeredAt string) error {
	for _, wid := range workerIDs {
		if _, err := q.ExecContext(ctx, r.q(`INSERT INTO requirement_offers(requirement_id,worker_id,offered_at) VALUES (?,?,?)
			ON CONFLICT(requirement_id,worker_id) DO NOTHING`), requirementID, wid, offeredAt); err != nil {
			return fmt.Errorf("insert offer: %w", err)
		}
	}
	return nil
}

func (r Repo) HasOffer(ctx context.Context, q Querier, requirementID, workerID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM requirement_offers WHERE requirement_id=? AND worker_id=?`),
		requirementID, workerID).Scan(&n)
	return n > 0, err
}

func (r Repo) ListOfferWorkers(ctx context.Context, q Querier, requirementID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, r.q(`SELECT worker_id FROM requirement_offers WHERE requirement_id=? ORDER BY worker_id`), requirementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

// InsertAssignment writes the single acceptance record for a requirement. The
// primary key on requirement_id rejects a second acceptance.
func (r Repo) InsertAssignment(ctx context.Context, q Querier, a domain.Assignment) error {
	_, err := q.ExecContext(ctx, r.q(`INSERT INTO assignments(requirement_id,project_id,worker_id,is_synthetic,accepted_at) VALUES (?,?,?,?,?)`),
		a.RequirementID, a.ProjectID, a.WorkerID, a.IsSynthetic, a.AcceptedAt)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

func (r Repo) ReleaseAssignment(ctx context.Context, q Querier, requirementID, releasedAt string) error {
	_, err := q.ExecContext(ctx, r.q(`UPDATE assignments SET released_at=? WHERE requirement_id=? AND released_at IS NULL`),
		releasedAt, requirementID)
	return err
}

func (r Repo) ListActiveAssignments(ctx context.Context, q Querier, projectID string) ([]domain.Assignment, error) {
	rows, err := q.QueryContext(ctx, r.q(`SELECT requirement_id,project_id,worker_id,is_synthetic,accepted_at,released_at
		FROM assignments WHERE project_id=? AND released_at IS NULL ORDER BY accepted_at, requirement_id`), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		var released sql.NullString
		if err := rows.Scan(&a.RequirementID, &a.ProjectID, &a.WorkerID, &a.IsSynthetic, &a.AcceptedAt, &released); err != nil {
			return nil, err
		}
		a.ReleasedAt = optionalString(released)
		res = append(res, a)
	}
	return res, rows.Err()
}

// CountActiveAssignments counts unreleased assignments held by a worker.
func (r Repo) CountActiveAssignments(ctx context.Context, q Querier, workerID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM assignments WHERE worker_id=? AND released_at IS NULL`), workerID).Scan(&n)
	return n, err
}
