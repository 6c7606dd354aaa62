// Package provisioning delivers the side effects of booking decisions to
// downstream systems: provisioning an accepted worker and telling workers
// about offers they can take or missions that are gone.
//
// The engine writes those side effects as outbox jobs in the same
// transaction as the transition. The Dispatcher drains the outbox with
// at-least-once delivery, so handlers should treat the requirement id as an
// idempotency key.
package provisioning

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
)

// Hooks provisions an accepted requirement.
type Hooks interface {
	Provision(ctx context.Context, req domain.ProvisionRequest) error
}

// Notifier reaches workers about offers.
type Notifier interface {
	OfferAvailable(ctx context.Context, n domain.OfferNotice) error
	MissionTaken(ctx context.Context, n domain.TakenNotice) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The dispatcher dead-letters the
// job straight away.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// LogHooks records deliveries in the log. It is the fallback when no
// webhook is configured.
type LogHooks struct {
	Logger *slog.Logger
}

func (h LogHooks) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h LogHooks) Provision(ctx context.Context, req domain.ProvisionRequest) error {
	h.log().InfoContext(ctx, "provision worker", "requirement", req.RequirementID, "project", req.ProjectID,
		"worker", req.WorkerID, "synthetic", req.IsSynthetic)
	return nil
}

func (h LogHooks) OfferAvailable(ctx context.Context, n domain.OfferNotice) error {
	h.log().InfoContext(ctx, "offer available", "requirement", n.RequirementID, "role", n.RoleID, "workers", len(n.WorkerIDs))
	return nil
}

func (h LogHooks) MissionTaken(ctx context.Context, n domain.TakenNotice) error {
	h.log().InfoContext(ctx, "mission taken", "requirement", n.RequirementID, "workers", len(n.WorkerIDs))
	return nil
}
