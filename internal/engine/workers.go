package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/events"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/repo"
)

// SyntheticNamespace seeds the derived ids of synthetic workers.
var SyntheticNamespace = uuid.MustParse("6f1c2a7e-3b4d-5e8f-9a0b-1c2d3e4f5a6b")

// SyntheticWorkerID is the stable id of the synthetic worker for a role.
func SyntheticWorkerID(roleID string) string {
	return uuid.NewSHA1(SyntheticNamespace, []byte("synthetic:"+roleID)).String()
}

// WorkerOptions describe a worker profile.
type WorkerOptions struct {
	ID           string
	RoleID       string
	DisplayName  string
	Seniority    domain.Seniority
	Languages    []string
	Expertises   []string
	Availability domain.Availability
	ActorID      string
}

func (e Engine) validateProfile(opts WorkerOptions, synthetic bool) error {
	role, ok := e.Config.Role(opts.RoleID)
	if !ok {
		return fmt.Errorf("%w: %w %q", domain.ErrValidation, domain.ErrUnknownRole, opts.RoleID)
	}
	if role.Synthetic != synthetic {
		if synthetic {
			return domain.Validationf("role %s is not filled by synthetic workers", role.ID)
		}
		return domain.Validationf("role %s is filled by synthetic workers only", role.ID)
	}
	if !opts.Seniority.Valid() {
		return domain.Validationf("invalid seniority %q", opts.Seniority)
	}
	switch opts.Availability {
	case "", domain.Available, domain.Unavailable:
	default:
		return domain.Validationf("invalid availability %q", opts.Availability)
	}
	return nil
}

// RegisterWorker adds a human worker to the directory.
func (e Engine) RegisterWorker(ctx context.Context, opts WorkerOptions) (domain.Worker, error) {
	if err := e.validateProfile(opts, false); err != nil {
		return domain.Worker{}, err
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Availability == "" {
		opts.Availability = domain.Available
	}
	stamp := e.stamp()
	w := domain.Worker{
		ID:           opts.ID,
		RoleID:       opts.RoleID,
		DisplayName:  strings.TrimSpace(opts.DisplayName),
		Seniority:    opts.Seniority,
		Languages:    repo.NormalizeSet(opts.Languages),
		Expertises:   repo.NormalizeSet(opts.Expertises),
		Availability: opts.Availability,
		Kind:         domain.WorkerHuman,
		CreatedAt:    stamp,
		UpdatedAt:    stamp,
	}
	err := e.inTx(ctx, func(tx *sql.Tx, rec *recorder) error {
		if err := e.Repo.InsertWorker(ctx, tx, w); err != nil {
			return err
		}
		return rec.append(ctx, events.Entry{
			Type: events.TypeWorkerRegistered, WorkerID: w.ID, EntityKind: events.KindWorker, EntityID: w.ID,
			ToState: string(w.Availability), ActorID: actorOr(opts.ActorID, w.ID),
			Payload: events.EventPayload{"role_id": w.RoleID, "seniority": w.Seniority, "kind": w.Kind},
		})
	})
	return w, err
}

// RegisterSyntheticWorker creates or refreshes the single synthetic worker of
// a synthetic role. Its id is derived from the role, so repeated calls address
// the same record.
func (e Engine) RegisterSyntheticWorker(ctx context.Context, opts WorkerOptions) (domain.Worker, error) {
	if err := e.validateProfile(opts, true); err != nil {
		return domain.Worker{}, err
	}
	stamp := e.stamp()
	w := domain.Worker{
		ID:           SyntheticWorkerID(opts.RoleID),
		RoleID:       opts.RoleID,
		DisplayName:  strings.TrimSpace(opts.DisplayName),
		Seniority:    opts.Seniority,
		Languages:    repo.NormalizeSet(opts.Languages),
		Expertises:   repo.NormalizeSet(opts.Expertises),
		Availability: domain.Available,
		Kind:         domain.WorkerSynthetic,
		CreatedAt:    stamp,
		UpdatedAt:    stamp,
	}
	err := e.inTx(ctx, func(tx *sql.Tx, rec *recorder) error {
		existing, err := e.Repo.GetWorkerTx(ctx, tx, w.ID)
		evtType := events.TypeWorkerRegistered
		switch {
		case errors.Is(err, repo.ErrNotFound):
			err = e.Repo.InsertWorker(ctx, tx, w)
		case err != nil:
			return err
		default:
			w.CreatedAt = existing.CreatedAt
			evtType = events.TypeWorkerUpdated
			err = e.Repo.UpdateWorker(ctx, tx, w)
		}
		if err != nil {
			return err
		}
		return rec.append(ctx, events.Entry{
			Type: evtType, WorkerID: w.ID, EntityKind: events.KindWorker, EntityID: w.ID,
			ToState: string(w.Availability), ActorID: actorOr(opts.ActorID, "system"),
			Payload: events.EventPayload{"role_id": w.RoleID, "seniority": w.Seniority, "kind": w.Kind},
		})
	})
	return w, err
}

// WorkerPatch lists the profile fields to change; nil fields are kept.
type WorkerPatch struct {
	DisplayName  *string
	Seniority    *domain.Seniority
	Languages    *[]string
	Expertises   *[]string
	Availability *domain.Availability
	ActorID      string
}

// UpdateWorker applies a patch and emits one worker.updated event scoped to
// the worker. Synthetic workers are always available.
func (e Engine) UpdateWorker(ctx context.Context, id string, patch WorkerPatch) (domain.Worker, error) {
	var w domain.Worker
	err := e.inTx(ctx, func(tx *sql.Tx, rec *recorder) error {
		var err error
		w, err = e.Repo.GetWorkerTx(ctx, tx, id)
		if err != nil {
			return err
		}
		before := w.Availability
		if patch.DisplayName != nil {
			w.DisplayName = strings.TrimSpace(*patch.DisplayName)
		}
		if patch.Seniority != nil {
			if !patch.Seniority.Valid() {
				return domain.Validationf("invalid seniority %q", *patch.Seniority)
			}
			w.Seniority = *patch.Seniority
		}
		if patch.Languages != nil {
			w.Languages = repo.NormalizeSet(*patch.Languages)
		}
		if patch.Expertises != nil {
			w.Expertises = repo.NormalizeSet(*patch.Expertises)
		}
		if patch.Availability != nil {
			switch *patch.Availability {
			case domain.Available, domain.Unavailable:
			default:
				return domain.Validationf("invalid availability %q", *patch.Availability)
			}
			if w.Kind == domain.WorkerSynthetic && *patch.Availability != domain.Available {
				return domain.Validationf("synthetic workers are always available")
			}
			if *patch.Availability == domain.Available && w.Kind == domain.WorkerHuman && e.Config.SingleEngagement() {
				active, err := e.Repo.CountActiveAssignments(ctx, tx, w.ID)
				if err != nil {
					return err
				}
				if active > 0 {
					// Released by decline or project completion only.
					return &domain.InvalidStateError{Entity: "worker", ID: w.ID, From: "engaged", Op: "make available"}
				}
			}
			w.Availability = *patch.Availability
		}
		w.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateWorker(ctx, tx, w); err != nil {
			return err
		}
		return rec.append(ctx, events.Entry{
			Type: events.TypeWorkerUpdated, WorkerID: w.ID, EntityKind: events.KindWorker, EntityID: w.ID,
			FromState: string(before), ToState: string(w.Availability), ActorID: actorOr(patch.ActorID, w.ID),
		})
	})
	return w, err
}

// SetAvailability is the onboarding-side availability switch.
func (e Engine) SetAvailability(ctx context.Context, id string, availability domain.Availability, actorID string) (domain.Worker, error) {
	return e.UpdateWorker(ctx, id, WorkerPatch{Availability: &availability, ActorID: actorID})
}

func actorOr(actorID, fallback string) string {
	if strings.TrimSpace(actorID) != "" {
		return actorID
	}
	return fallback
}
