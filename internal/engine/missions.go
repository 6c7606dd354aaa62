package engine

import (
	"context"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/matching"
)

// Mission is a requirement as one worker may see it.
type Mission struct {
	Requirement domain.Requirement   `json:"requirement"`
	Status      domain.MissionStatus `json:"status" enum:"open,held,taken,closed"`
}

// MissionsForWorker lists the searching requirements offered to the worker
// that it still qualifies for, plus the requirements it holds.
func (e Engine) MissionsForWorker(ctx context.Context, workerID string) ([]Mission, error) {
	w, err := e.Repo.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	reqs, err := e.Repo.ListMissionsForWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	out := make([]Mission, 0, len(reqs))
	for _, req := range reqs {
		switch req.BookingStatus {
		case domain.BookingAccepted:
			out = append(out, Mission{Requirement: req, Status: domain.MissionHeld})
		case domain.BookingSearching:
			if matching.Eligible(req, w) {
				out = append(out, Mission{Requirement: req, Status: domain.MissionOpen})
			}
		}
	}
	return out, nil
}

// MissionStatus answers whether a requirement is still open for a worker.
// Another worker's hold is reported as taken without naming the holder.
func (e Engine) MissionStatus(ctx context.Context, requirementID, workerID string) (domain.MissionStatus, error) {
	req, err := e.Repo.GetRequirement(ctx, requirementID)
	if err != nil {
		return "", err
	}
	switch req.BookingStatus {
	case domain.BookingAccepted:
		if req.HolderID != nil && *req.HolderID == workerID {
			return domain.MissionHeld, nil
		}
		return domain.MissionTaken, nil
	case domain.BookingSearching:
		w, err := e.Repo.GetWorker(ctx, workerID)
		if err != nil {
			return "", err
		}
		offered, err := e.Repo.HasOffer(ctx, e.DB, requirementID, workerID)
		if err != nil {
			return "", err
		}
		if offered && matching.Eligible(req, w) {
			return domain.MissionOpen, nil
		}
	}
	return domain.MissionClosed, nil
}

// EligibleWorkers evaluates eligibility against the current directory.
func (e Engine) EligibleWorkers(ctx context.Context, requirementID string) ([]domain.Worker, error) {
	req, err := e.Repo.GetRequirement(ctx, requirementID)
	if err != nil {
		return nil, err
	}
	candidates, err := e.Repo.CandidateWorkers(ctx, e.DB, req.RoleID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Worker, 0, len(candidates))
	for _, w := range candidates {
		if matching.Eligible(req, w) {
			out = append(out, w)
		}
	}
	return out, nil
}
