package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/events"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/repo"
)

// CreateProject starts a project in draft.
func (e Engine) CreateProject(ctx context.Context, title, ownerID string) (domain.Project, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Project{}, domain.Validationf("title is required")
	}
	if strings.TrimSpace(ownerID) == "" {
		return domain.Project{}, domain.Validationf("owner is required")
	}
	stamp := e.stamp()
	p := domain.Project{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		Status:    domain.ProjectDraft,
		CreatedAt: stamp,
		UpdatedAt: stamp,
	}
	err := e.inTx(ctx, func(tx *sql.Tx, rec *recorder) error {
		if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
			return err
		}
		return rec.append(ctx, events.Entry{
			Type: events.TypeProjectCreated, ProjectID: p.ID, EntityKind: events.KindProject, EntityID: p.ID,
			ToState: string(p.Status), ActorID: ownerID, Payload: events.EventPayload{"title": p.Title},
		})
	})
	return p, err
}

// RequirementOptions describe a new role slot.
type RequirementOptions struct {
	ProjectID  string
	RoleID     string
	Seniority  domain.Seniority
	Languages  []string
	Expertises []string
	ActorID    string
}

// CreateRequirement adds a draft requirement to a project. Its synthetic flag
// comes from the role catalog. When the project is already searching and
// auto-open is on, the requirement is opened right away.
func (e Engine) CreateRequirement(ctx context.Context, opts RequirementOptions) (domain.Requirement, error) {
	role, ok := e.Config.Role(opts.RoleID)
	if !ok {
		return domain.Requirement{}, fmt.Errorf("%w: %w %q", domain.ErrValidation, domain.ErrUnknownRole, opts.RoleID)
	}
	if !opts.Seniority.Valid() {
		return domain.Requirement{}, domain.Validationf("invalid seniority %q", opts.Seniority)
	}
	stamp := e.stamp()
	req := domain.Requirement{
		ID:                 uuid.NewString(),
		ProjectID:          opts.ProjectID,
		RoleID:             role.ID,
		Seniority:          opts.Seniority,
		RequiredLanguages:  repo.NormalizeSet(opts.Languages),
		RequiredExpertises: repo.NormalizeSet(opts.Expertises),
		BookingStatus:      domain.BookingDraft,
		IsSynthetic:        role.Synthetic,
		CreatedAt:          stamp,
		UpdatedAt:          stamp,
	}
	var project domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx, rec *recorder) error {
		var err error
		project, err = e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
		if err != nil {
			return err
		}
		if project.Status == domain.ProjectCompleted {
			return invalidProject(project, "add requirement to")
		}
		if err := e.Repo.InsertRequirement(ctx, tx, req); err != nil {
			return err
		}
		if project.Status == domain.ProjectActive {
			if err := e.setProjectStatus(ctx, tx, rec, project, domain.ProjectSearching, events.TypeProjectSearching, opts.ActorID); err != nil {
				return err
			}
		}
		return rec.append(ctx, events.Entry{
			Type: events.TypeRequirementCreated, ProjectID: req.ProjectID, EntityKind: events.KindRequirement, EntityID: req.ID,
			ToState: string(req.BookingStatus), ActorID: opts.ActorID,
			Payload: events.EventPayload{"role_id": req.RoleID, "seniority": req.Seniority, "is_synthetic": req.IsSynthetic},
		})
	})
	if err != nil {
		return req, err
	}
	if project.Status != domain.ProjectDraft && e.Config.AutoOpen() {
		return e.OpenForSearch(ctx, req.ID, opts.ActorID)
	}
	return req, nil
}

// OpenProject moves a draft project to searching and, with auto-open on,
// opens each of its draft requirements. Synthetic ones are auto-accepted.
func (e Engine) OpenProject(ctx context.Context, id, actorID string) (p domain.Project, reqs []domain.Requirement, err error) {
	ctx, span := startSpan(ctx, "booking.OpenProject", attribute.String("project.id", id))
	defer func() { endSpan(span, err) }()
	err = e.inTx(ctx, func(tx *sql.Tx, rec *recorder) error {
		var err error
		p, err = e.Repo.GetProjectTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Status != domain.ProjectDraft {
			return invalidProject(p, "open")
		}
		return e.promoteProjectToSearching(ctx, tx, rec, p, actorID)
	})
	if err != nil {
		return p, nil, err
	}
	p.Status = domain.ProjectSearching
	all, err := e.Repo.ListRequirementsByProject(ctx, e.DB, id)
	if err != nil {
		return p, nil, err
	}
	if !e.Config.AutoOpen() {
		return p, all, nil
	}
	var errs []error
	for i, req := range all {
		if req.BookingStatus != domain.BookingDraft {
			continue
		}
		opened, oerr := e.OpenForSearch(ctx, req.ID, actorID)
		if oerr != nil {
			errs = append(errs, oerr)
			continue
		}
		all[i] = opened
	}
	if refreshed, gerr := e.Repo.GetProject(ctx, id); gerr == nil {
		p = refreshed
	}
	return p, all, errors.Join(errs...)
}

// CompleteProject closes an active project and releases every holder.
func (e Engine) CompleteProject(ctx context.Context, id, actorID string) (p domain.Project, err error) {
	ctx, span := startSpan(ctx, "booking.CompleteProject", attribute.String("project.id", id))
	defer func() { endSpan(span, err) }()
	err = e.inTx(ctx, func(tx *sql.Tx, rec *recorder) error {
		var err error
		p, err = e.Repo.GetProjectTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Status != domain.ProjectActive {
			return invalidProject(p, "complete")
		}
		if err := e.setProjectStatus(ctx, tx, rec, p, domain.ProjectCompleted, events.TypeProjectCompleted, actorID); err != nil {
			return err
		}
		p.Status = domain.ProjectCompleted
		assignments, err := e.Repo.ListActiveAssignments(ctx, tx, id)
		if err != nil {
			return err
		}
		stamp := e.stamp()
		for _, a := range assignments {
			restored, err := e.releaseHolder(ctx, tx, a.RequirementID, a.WorkerID, stamp)
			if err != nil {
				return err
			}
			if !restored {
				continue
			}
			if err := rec.append(ctx, events.Entry{
				Type: events.TypeWorkerUpdated, ProjectID: id, WorkerID: a.WorkerID,
				EntityKind: events.KindWorker, EntityID: a.WorkerID,
				FromState: string(domain.Unavailable), ToState: string(domain.Available), ActorID: actorID,
				Payload: events.EventPayload{"reason": "project completed", "requirement_id": a.RequirementID},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return p, err
}

func (e Engine) promoteProjectToSearching(ctx context.Context, tx *sql.Tx, rec *recorder, p domain.Project, actorID string) error {
	if p.Status != domain.ProjectDraft {
		return nil
	}
	return e.setProjectStatus(ctx, tx, rec, p, domain.ProjectSearching, events.TypeProjectSearching, actorID)
}

func (e Engine) setProjectStatus(ctx context.Context, tx *sql.Tx, rec *recorder, p domain.Project, to domain.ProjectStatus, evtType, actorID string) error {
	ok, err := e.Repo.UpdateProjectStatus(ctx, tx, p.ID, p.Status, to, e.stamp())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrConcurrentModified
	}
	return rec.append(ctx, events.Entry{
		Type: evtType, ProjectID: p.ID, EntityKind: events.KindProject, EntityID: p.ID,
		FromState: string(p.Status), ToState: string(to), ActorID: actorID,
	})
}

// maybeActivateProject makes a searching project active once every live
// requirement is accepted. Declined and expired slots do not count.
func (e Engine) maybeActivateProject(ctx context.Context, tx *sql.Tx, rec *recorder, projectID, actorID string) error {
	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return err
	}
	if p.Status != domain.ProjectSearching {
		return nil
	}
	counts, err := e.Repo.CountRequirementsByStatus(ctx, tx, projectID)
	if err != nil {
		return err
	}
	if counts[domain.BookingAccepted] == 0 || counts[domain.BookingDraft]+counts[domain.BookingSearching] > 0 {
		return nil
	}
	return e.setProjectStatus(ctx, tx, rec, p, domain.ProjectActive, events.TypeProjectActive, actorID)
}
