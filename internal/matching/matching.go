// Package matching decides which workers may fill a requirement.
//
// Eligibility is a conjunction of six predicates: same role, exact seniority,
// language superset, expertise superset, available, and a worker kind that
// agrees with the requirement's synthetic flag. Nothing here ranks or scores.
package matching

import (
	"context"
	"fmt"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
)

// Reason names the first predicate a worker failed.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonRole         Reason = "role"
	ReasonSeniority    Reason = "seniority"
	ReasonLanguages    Reason = "languages"
	ReasonExpertises   Reason = "expertises"
	ReasonAvailability Reason = "availability"
	ReasonKind         Reason = "kind"
)

// Eligible reports whether w may fill req right now.
func Eligible(req domain.Requirement, w domain.Worker) bool {
	return Check(req, w) == ReasonNone
}

// Check returns the first failing predicate, or ReasonNone.
func Check(req domain.Requirement, w domain.Worker) Reason {
	switch {
	case w.RoleID != req.RoleID:
		return ReasonRole
	case w.Seniority != req.Seniority:
		return ReasonSeniority
	case !Contains(w.Languages, req.RequiredLanguages):
		return ReasonLanguages
	case !Contains(w.Expertises, req.RequiredExpertises):
		return ReasonExpertises
	case w.Availability != domain.Available:
		return ReasonAvailability
	case (w.Kind == domain.WorkerSynthetic) != req.IsSynthetic:
		return ReasonKind
	}
	return ReasonNone
}

// Contains reports whether have is a superset of want. The empty set is a
// subset of every set.
func Contains(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, x := range want {
		if _, ok := set[x]; !ok {
			return false
		}
	}
	return true
}

// Filter returns the ids of the eligible workers, in input order.
func Filter(req domain.Requirement, workers []domain.Worker) []string {
	ids := make([]string, 0, len(workers))
	for _, w := range workers {
		if Eligible(req, w) {
			ids = append(ids, w.ID)
		}
	}
	return ids
}

// WorkerSource yields the workers of a role as a snapshot.
type WorkerSource interface {
	CandidateWorkers(ctx context.Context, roleID string) ([]domain.Worker, error)
}

// SourceFunc adapts a function to WorkerSource.
type SourceFunc func(ctx context.Context, roleID string) ([]domain.Worker, error)

func (f SourceFunc) CandidateWorkers(ctx context.Context, roleID string) ([]domain.Worker, error) {
	return f(ctx, roleID)
}

// FindEligible scans the source for workers eligible for req. An empty result
// is not an error.
func FindEligible(ctx context.Context, src WorkerSource, req domain.Requirement) ([]string, error) {
	workers, err := src.CandidateWorkers(ctx, req.RoleID)
	if err != nil {
		return nil, fmt.Errorf("load candidates for role %s: %w", req.RoleID, err)
	}
	return Filter(req, workers), nil
}
