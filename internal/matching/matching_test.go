package matching_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/matching"
)

func seoRequirement() domain.Requirement {
	return domain.Requirement{
		ID:                 "req-1",
		RoleID:             "seo-specialist",
		Seniority:          domain.SenioritySenior,
		RequiredLanguages:  []string{"EN", "FR"},
		RequiredExpertises: []string{"SEO"},
	}
}

func seoWorker() domain.Worker {
	return domain.Worker{
		ID:           "w-1",
		RoleID:       "seo-specialist",
		Seniority:    domain.SenioritySenior,
		Languages:    []string{"EN", "FR", "DE"},
		Expertises:   []string{"SEO", "PPC"},
		Availability: domain.Available,
		Kind:         domain.WorkerHuman,
	}
}

func TestEligible(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(r *domain.Requirement, w *domain.Worker)
		want   matching.Reason
	}{
		{name: "superset matches", mutate: func(*domain.Requirement, *domain.Worker) {}, want: matching.ReasonNone},
		{name: "lower seniority", mutate: func(_ *domain.Requirement, w *domain.Worker) { w.Seniority = domain.SeniorityIntermediate }, want: matching.ReasonSeniority},
		{name: "higher seniority is not enough", mutate: func(_ *domain.Requirement, w *domain.Worker) { w.Seniority = domain.SeniorityExpert }, want: matching.ReasonSeniority},
		{name: "missing language", mutate: func(_ *domain.Requirement, w *domain.Worker) { w.Languages = []string{"EN", "DE"} }, want: matching.ReasonLanguages},
		{name: "missing expertise", mutate: func(_ *domain.Requirement, w *domain.Worker) { w.Expertises = []string{"PPC"} }, want: matching.ReasonExpertises},
		{name: "other role", mutate: func(_ *domain.Requirement, w *domain.Worker) { w.RoleID = "developer" }, want: matching.ReasonRole},
		{name: "unavailable", mutate: func(_ *domain.Requirement, w *domain.Worker) { w.Availability = domain.Unavailable }, want: matching.ReasonAvailability},
		{name: "synthetic worker on human slot", mutate: func(_ *domain.Requirement, w *domain.Worker) { w.Kind = domain.WorkerSynthetic }, want: matching.ReasonKind},
		{name: "human worker on synthetic slot", mutate: func(r *domain.Requirement, _ *domain.Worker) { r.IsSynthetic = true }, want: matching.ReasonKind},
		{name: "synthetic worker on synthetic slot", mutate: func(r *domain.Requirement, w *domain.Worker) {
			r.IsSynthetic = true
			w.Kind = domain.WorkerSynthetic
		}, want: matching.ReasonNone},
		{name: "empty constraints match any sets", mutate: func(r *domain.Requirement, w *domain.Worker) {
			r.RequiredLanguages = nil
			r.RequiredExpertises = []string{}
			w.Languages = nil
			w.Expertises = nil
		}, want: matching.ReasonNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, w := seoRequirement(), seoWorker()
			tc.mutate(&req, &w)
			if got := matching.Check(req, w); got != tc.want {
				t.Fatalf("Check = %q, want %q", got, tc.want)
			}
			if got := matching.Eligible(req, w); got != (tc.want == matching.ReasonNone) {
				t.Fatalf("Eligible = %v", got)
			}
		})
	}
}

func TestFindEligible(t *testing.T) {
	req := seoRequirement()
	match := seoWorker()
	busy := seoWorker()
	busy.ID = "w-2"
	busy.Availability = domain.Unavailable
	junior := seoWorker()
	junior.ID = "w-3"
	junior.Seniority = domain.SeniorityJunior
	other := seoWorker()
	other.ID = "w-4"

	var gotRole string
	src := matching.SourceFunc(func(_ context.Context, roleID string) ([]domain.Worker, error) {
		gotRole = roleID
		return []domain.Worker{match, busy, junior, other}, nil
	})
	ids, err := matching.FindEligible(context.Background(), src, req)
	if err != nil {
		t.Fatalf("find eligible: %v", err)
	}
	if gotRole != req.RoleID {
		t.Fatalf("source asked for role %q", gotRole)
	}
	if !reflect.DeepEqual(ids, []string{"w-1", "w-4"}) {
		t.Fatalf("unexpected eligible set %v", ids)
	}
}

func TestFindEligibleEmptyIsNotAnError(t *testing.T) {
	src := matching.SourceFunc(func(context.Context, string) ([]domain.Worker, error) { return nil, nil })
	ids, err := matching.FindEligible(context.Background(), src, seoRequirement())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty set, got %v", ids)
	}
}

func TestFindEligibleSourceError(t *testing.T) {
	boom := errors.New("boom")
	src := matching.SourceFunc(func(context.Context, string) ([]domain.Worker, error) { return nil, boom })
	if _, err := matching.FindEligible(context.Background(), src, seoRequirement()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}
