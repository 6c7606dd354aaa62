package repo

import (
	"context"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
)

// InsertClaimAttempt appends to the claim audit trail.
func (r Repo) InsertClaimAttempt(ctx context.Context, q Querier, a domain.ClaimAttempt) error {
	_, err := q.ExecContext(ctx, r.q(`INSERT INTO claim_attempts(requirement_id,worker_id,outcome,ts) VALUES (?,?,?,?)`),
		a.RequirementID, a.WorkerID, a.Outcome, a.TS)
	return err
}

func (r Repo) ListClaimAttempts(ctx context.Context, requirementID string) ([]domain.ClaimAttempt, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,requirement_id,worker_id,outcome,ts FROM claim_attempts WHERE requirement_id=? ORDER BY id`), requirementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ClaimAttempt
	for rows.Next() {
		var a domain.ClaimAttempt
		if err := rows.Scan(&a.ID, &a.RequirementID, &a.WorkerID, &a.Outcome, &a.TS); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
