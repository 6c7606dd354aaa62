package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/events"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/matching"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/repo"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/retry"
)

// OpenForSearch moves a draft requirement to searching, records the eligible
// set as offers and queues the offer notification. A synthetic requirement
// continues straight into AutoAccept.
func (e Engine) OpenForSearch(ctx context.Context, id, actorID string) (req domain.Requirement, err error) {
	ctx, span := startSpan(ctx, "booking.OpenForSearch", attribute.String("requirement.id", id))
	defer func() { endSpan(span, err) }()

	req, err = retry.Do(ctx, "open requirement", e.Retry, func() (domain.Requirement, error) {
		return e.openOnce(ctx, id, actorID)
	})
	if err != nil {
		return req, err
	}
	if !req.IsSynthetic {
		return req, nil
	}
	res, err := e.AutoAccept(ctx, id, actorID)
	switch {
	case err != nil:
		e.log().Warn("auto-accept after open failed", "requirement", id, "role", req.RoleID, "err", err)
		return req, nil
	case res.Outcome != domain.ClaimAccepted:
		e.log().Warn("synthetic worker could not take requirement", "requirement", id, "role", req.RoleID, "outcome", res.Outcome)
	}
	return res.Requirement, nil
}

func (e Engine) openOnce(ctx context.Context, id, actorID string) (domain.Requirement, error) {
	var req domain.Requirement
	err := e.inTx(ctx, func(tx *sql.Tx, rec *recorder) error {
		var err error
		req, err = e.Repo.GetRequirementTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.BookingStatus != domain.BookingDraft {
			return invalidRequirement(req, "open")
		}
		project, err := e.Repo.GetProjectTx(ctx, tx, req.ProjectID)
		if err != nil {
			return err
		}
		if project.Status == domain.ProjectCompleted {
			return invalidProject(project, "open requirement of")
		}
		if err := e.promoteProjectToSearching(ctx, tx, rec, project, actorID); err != nil {
			return err
		}
		src := matching.SourceFunc(func(ctx context.Context, roleID string) ([]domain.Worker, error) {
			return e.Repo.CandidateWorkers(ctx, tx, roleID)
		})
		eligible, err := matching.FindEligible(ctx, src, req)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		stamp := now.Format(time.RFC3339)
		deadline := now.Add(e.Config.Booking.SearchWindow).Format(time.RFC3339)
		ok, err := e.Repo.TransitionRequirement(ctx, tx, repo.RequirementTransition{
			ID: req.ID, From: domain.BookingDraft, Version: req.Version,
			To: domain.BookingSearching, SearchDeadline: &deadline, UpdatedAt: stamp,
		})
		if err != nil {
			return err
		}
		if !ok {
			_, err := e.casLost(ctx, tx, req.ID, domain.BookingDraft, "open")
			return err
		}
		req.BookingStatus = domain.BookingSearching
		req.SearchDeadline = &deadline
		req.Version++
		req.UpdatedAt = stamp
		if err := e.Repo.InsertOffers(ctx, tx, req.ID, eligible, stamp); err != nil {
			return err
		}
		if err := rec.append(ctx, events.Entry{
			Type: events.TypeRequirementOpened, ProjectID: req.ProjectID,
			EntityKind: events.KindRequirement, EntityID: req.ID,
			FromState: string(domain.BookingDraft), ToState: string(domain.BookingSearching), ActorID: actorID,
			Payload: events.EventPayload{"eligible_count": len(eligible), "search_deadline": deadline, "is_synthetic": req.IsSynthetic},
		}); err != nil {
			return err
		}
		if req.IsSynthetic || len(eligible) == 0 {
			return nil
		}
		if err := e.noticeRecipients(ctx, rec, req, events.TypeRequirementOffered, eligible, actorID,
			events.EventPayload{"role_id": req.RoleID, "search_deadline": deadline}); err != nil {
			return err
		}
		payload, err := json.Marshal(domain.OfferNotice{RequirementID: req.ID, ProjectID: req.ProjectID, RoleID: req.RoleID, WorkerIDs: eligible})
		if err != nil {
			return err
		}
		_, err = e.Repo.EnqueueJob(ctx, tx, domain.Job{
			Kind: domain.JobNotify, RequirementID: req.ID, Payload: string(payload),
			NextAttemptAt: stamp, CreatedAt: stamp,
		})
		return err
	})
	if err == nil {
		e.countTransition(ctx, domain.BookingSearching)
	}
	return req, err
}

// Claim resolves one worker's attempt to take a searching requirement. Losing
// the race and no longer qualifying are outcomes, not errors.
func (e Engine) Claim(ctx context.Context, id, workerID string) (res domain.ClaimResult, err error) {
	ctx, span := startSpan(ctx, "booking.Claim", attribute.String("requirement.id", id), attribute.String("worker.id", workerID))
	defer func() {
		span.SetAttributes(attribute.String("claim.outcome", string(res.Outcome)))
		endSpan(span, err)
	}()
	return e.claim(ctx, id, workerID, true)
}

func (e Engine) claim(ctx context.Context, id, workerID string, requireOffer bool) (domain.ClaimResult, error) {
	res, err := retry.Do(ctx, "claim requirement", e.Retry, func() (domain.ClaimResult, error) {
		return e.claimOnce(ctx, id, workerID, requireOffer)
	})
	if err != nil {
		return res, err
	}
	e.countClaim(ctx, res.Outcome)
	switch res.Outcome {
	case domain.ClaimAccepted:
		e.log().Info("requirement accepted", "requirement", id, "worker", workerID)
	default:
		e.log().Debug("claim rejected", "requirement", id, "worker", workerID, "outcome", res.Outcome)
	}
	return res, nil
}

func (e Engine) claimOnce(ctx context.Context, id, workerID string, requireOffer bool) (domain.ClaimResult, error) {
	var res domain.ClaimResult
	accepted := false
	err := e.inTx(ctx, func(tx *sql.Tx, rec *recorder) error {
		req, err := e.Repo.GetRequirementTx(ctx, tx, id)
		if err != nil {
			return err
		}
		stamp := e.stamp()
		audit := func(outcome domain.ClaimOutcome, cur domain.Requirement) error {
			res = domain.ClaimResult{Outcome: outcome, Requirement: cur}
			if outcome != domain.ClaimAccepted {
				res.Requirement.HolderID = nil
			}
			return e.Repo.InsertClaimAttempt(ctx, tx, domain.ClaimAttempt{
				RequirementID: id, WorkerID: workerID, Outcome: string(outcome), TS: stamp,
			})
		}
		switch req.BookingStatus {
		case domain.BookingSearching:
		case domain.BookingAccepted:
			if req.HolderID != nil && *req.HolderID == workerID {
				res = domain.ClaimResult{Outcome: domain.ClaimAccepted, Requirement: req}
				return nil
			}
			return audit(domain.ClaimAlreadyClaimed, req)
		default:
			return invalidRequirement(req, "claim")
		}
		w, err := e.Repo.GetWorkerTx(ctx, tx, workerID)
		if err != nil {
			return err
		}
		if !matching.Eligible(req, w) {
			return audit(domain.ClaimNotEligible, req)
		}
		if requireOffer {
			offered, err := e.Repo.HasOffer(ctx, tx, id, workerID)
			if err != nil {
				return err
			}
			if !offered {
				return audit(domain.ClaimNotEligible, req)
			}
		}
		holder := workerID
		ok, err := e.Repo.TransitionRequirement(ctx, tx, repo.RequirementTransition{
			ID: id, From: domain.BookingSearching, Version: req.Version,
			To: domain.BookingAccepted, HolderID: &holder, UpdatedAt: stamp,
		})
		if err != nil {
			return err
		}
		if !ok {
			cur, err := e.casLost(ctx, tx, id, domain.BookingSearching, "claim")
			if cur.BookingStatus == domain.BookingAccepted {
				return audit(domain.ClaimAlreadyClaimed, cur)
			}
			return err
		}
		req.BookingStatus = domain.BookingAccepted
		req.HolderID = &holder
		req.Version++
		req.UpdatedAt = stamp
		if err := e.Repo.InsertAssignment(ctx, tx, domain.Assignment{
			RequirementID: id, ProjectID: req.ProjectID, WorkerID: workerID, IsSynthetic: req.IsSynthetic, AcceptedAt: stamp,
		}); err != nil {
			return err
		}
		flipped := false
		if e.Config.SingleEngagement() && w.Kind == domain.WorkerHuman {
			if flipped, err = e.Repo.SetWorkerAvailability(ctx, tx, workerID, domain.Unavailable, stamp); err != nil {
				return err
			}
			if !flipped {
				// A concurrent acceptance engaged this worker after the read above.
				return errWorkerEngaged
			}
		}
		if err := rec.append(ctx, events.Entry{
			Type: events.TypeRequirementClaimed, ProjectID: req.ProjectID, WorkerID: workerID,
			EntityKind: events.KindRequirement, EntityID: id,
			FromState: string(domain.BookingSearching), ToState: string(domain.BookingAccepted), ActorID: workerID,
			Payload: events.EventPayload{"holder_id": workerID, "is_synthetic": req.IsSynthetic, "availability_flipped": flipped},
		}); err != nil {
			return err
		}
		payload, err := json.Marshal(domain.ProvisionRequest{RequirementID: id, ProjectID: req.ProjectID, WorkerID: workerID, IsSynthetic: req.IsSynthetic})
		if err != nil {
			return err
		}
		if _, err := e.Repo.EnqueueJob(ctx, tx, domain.Job{
			Kind: domain.JobProvision, RequirementID: id, Payload: string(payload), NextAttemptAt: stamp, CreatedAt: stamp,
		}); err != nil {
			return err
		}
		if err := e.noticeTaken(ctx, tx, rec, req, workerID, stamp); err != nil {
			return err
		}
		if err := e.maybeActivateProject(ctx, tx, rec, req.ProjectID, workerID); err != nil {
			return err
		}
		accepted = true
		return audit(domain.ClaimAccepted, req)
	})
	if errors.Is(err, errWorkerEngaged) {
		return e.rejectEngaged(ctx, id, workerID)
	}
	if err == nil && accepted {
		e.countTransition(ctx, domain.BookingAccepted)
	}
	return res, err
}

var errWorkerEngaged = errors.New("worker already engaged")

// rejectEngaged reports a claim whose transaction was rolled back because the
// worker lost their availability mid-claim, and audits it on its own.
func (e Engine) rejectEngaged(ctx context.Context, id, workerID string) (domain.ClaimResult, error) {
	req, err := e.Repo.GetRequirement(ctx, id)
	if err != nil {
		return domain.ClaimResult{}, err
	}
	req.HolderID = nil
	if err := e.Repo.InsertClaimAttempt(ctx, e.DB, domain.ClaimAttempt{
		RequirementID: id, WorkerID: workerID, Outcome: string(domain.ClaimNotEligible), TS: e.stamp(),
	}); err != nil {
		return domain.ClaimResult{}, err
	}
	return domain.ClaimResult{Outcome: domain.ClaimNotEligible, Requirement: req}, nil
}

// noticeTaken tells every other offer recipient, in their own scope and
// through the outbox, that the requirement was filled. Neither names the holder.
func (e Engine) noticeTaken(ctx context.Context, tx *sql.Tx, rec *recorder, req domain.Requirement, holderID, stamp string) error {
	offered, err := e.Repo.ListOfferWorkers(ctx, tx, req.ID)
	if err != nil {
		return err
	}
	losers := make([]string, 0, len(offered))
	for _, id := range offered {
		if id != holderID {
			losers = append(losers, id)
		}
	}
	if len(losers) == 0 {
		return nil
	}
	if err := e.noticeRecipients(ctx, rec, req, events.TypeRequirementTaken, losers, "system", nil); err != nil {
		return err
	}
	payload, err := json.Marshal(domain.TakenNotice{RequirementID: req.ID, ProjectID: req.ProjectID, WorkerIDs: losers})
	if err != nil {
		return err
	}
	_, err = e.Repo.EnqueueJob(ctx, tx, domain.Job{
		Kind: domain.JobTaken, RequirementID: req.ID, Payload: string(payload), NextAttemptAt: stamp, CreatedAt: stamp,
	})
	return err
}

// noticeRecipients writes one event per worker so the change shows up in each
// worker's own feed.
func (e Engine) noticeRecipients(ctx context.Context, rec *recorder, req domain.Requirement, typ string, workerIDs []string, actorID string, payload events.EventPayload) error {
	for _, wid := range workerIDs {
		if err := rec.append(ctx, events.Entry{
			Type: typ, ProjectID: req.ProjectID, WorkerID: wid,
			EntityKind: events.KindRequirement, EntityID: req.ID,
			ToState: string(req.BookingStatus), ActorID: actorID, Payload: payload,
		}); err != nil {
			return err
		}
	}
	return nil
}

// closeOffers tells the offer recipients of a human requirement that it
// stopped searching without being filled.
func (e Engine) closeOffers(ctx context.Context, tx *sql.Tx, rec *recorder, req domain.Requirement, actorID string) error {
	if req.IsSynthetic {
		return nil
	}
	offered, err := e.Repo.ListOfferWorkers(ctx, tx, req.ID)
	if err != nil {
		return err
	}
	return e.noticeRecipients(ctx, rec, req, events.TypeRequirementClosed, offered, actorID, nil)
}

// AutoAccept claims a synthetic requirement for its role's canonical synthetic
// worker. On an already accepted requirement it returns the current state.
func (e Engine) AutoAccept(ctx context.Context, id, actorID string) (res domain.ClaimResult, err error) {
	ctx, span := startSpan(ctx, "booking.AutoAccept", attribute.String("requirement.id", id))
	defer func() {
		span.SetAttributes(attribute.String("claim.outcome", string(res.Outcome)))
		endSpan(span, err)
	}()
	req, err := e.Repo.GetRequirement(ctx, id)
	if err != nil {
		return res, err
	}
	if !req.IsSynthetic {
		return res, domain.Validationf("requirement %s is not synthetic", id)
	}
	switch req.BookingStatus {
	case domain.BookingAccepted:
		return domain.ClaimResult{Outcome: domain.ClaimAccepted, Requirement: req}, nil
	case domain.BookingSearching:
	default:
		return res, invalidRequirement(req, "auto-accept")
	}
	w, err := e.Repo.GetSyntheticWorker(ctx, e.DB, req.RoleID)
	if errors.Is(err, repo.ErrNotFound) {
		return res, fmt.Errorf("%w: %s", domain.ErrNoSyntheticWorker, req.RoleID)
	}
	if err != nil {
		return res, err
	}
	e.log().Debug("auto-accepting synthetic requirement", "requirement", id, "worker", w.ID, "actor", actorID)
	return e.claim(ctx, id, w.ID, false)
}

// Decline cancels a searching or accepted requirement. A former holder gets
// their slot released, availability restored when nothing else holds them,
// and exactly one event in their scope.
func (e Engine) Decline(ctx context.Context, id, reason, actorID string) (req domain.Requirement, err error) {
	ctx, span := startSpan(ctx, "booking.Decline", attribute.String("requirement.id", id))
	defer func() { endSpan(span, err) }()
	req, err = retry.Do(ctx, "decline requirement", e.Retry, func() (domain.Requirement, error) {
		return e.declineOnce(ctx, id, reason, actorID)
	})
	if err == nil {
		e.countTransition(ctx, domain.BookingDeclined)
	}
	return req, err
}

func (e Engine) declineOnce(ctx context.Context, id, reason, actorID string) (domain.Requirement, error) {
	var req domain.Requirement
	err := e.inTx(ctx, func(tx *sql.Tx, rec *recorder) error {
		var err error
		req, err = e.Repo.GetRequirementTx(ctx, tx, id)
		if err != nil {
			return err
		}
		from := req.BookingStatus
		if from != domain.BookingSearching && from != domain.BookingAccepted {
			return invalidRequirement(req, "decline")
		}
		stamp := e.stamp()
		ok, err := e.Repo.TransitionRequirement(ctx, tx, repo.RequirementTransition{
			ID: id, From: from, Version: req.Version, To: domain.BookingDeclined, DeclineReason: reason, UpdatedAt: stamp,
		})
		if err != nil {
			return err
		}
		if !ok {
			_, err := e.casLost(ctx, tx, id, from, "decline")
			return err
		}
		former := req.HolderID
		req.BookingStatus = domain.BookingDeclined
		req.HolderID = nil
		req.DeclineReason = reason
		req.Version++
		req.UpdatedAt = stamp
		payload := events.EventPayload{"reason": reason}
		entry := events.Entry{
			Type: events.TypeRequirementDecline, ProjectID: req.ProjectID,
			EntityKind: events.KindRequirement, EntityID: id,
			FromState: string(from), ToState: string(domain.BookingDeclined), ActorID: actorID, Payload: payload,
		}
		if former != nil {
			restored, err := e.releaseHolder(ctx, tx, id, *former, stamp)
			if err != nil {
				return err
			}
			cancelled, err := e.Repo.CancelPendingJob(ctx, tx, domain.JobProvision, id, "requirement declined", stamp)
			if err != nil {
				return err
			}
			entry.WorkerID = *former
			payload["slot_withdrawn"] = true
			payload["former_holder_id"] = *former
			payload["availability_restored"] = restored
			payload["provision_cancelled"] = cancelled
		}
		if err := rec.append(ctx, entry); err != nil {
			return err
		}
		if from == domain.BookingSearching {
			if err := e.closeOffers(ctx, tx, rec, req, actorID); err != nil {
				return err
			}
		}
		return e.maybeActivateProject(ctx, tx, rec, req.ProjectID, actorID)
	})
	return req, err
}

// releaseHolder ends an assignment and, under single engagement, makes the
// worker available again once no other assignment holds them.
func (e Engine) releaseHolder(ctx context.Context, tx *sql.Tx, requirementID, workerID, stamp string) (bool, error) {
	if err := e.Repo.ReleaseAssignment(ctx, tx, requirementID, stamp); err != nil {
		return false, err
	}
	if !e.Config.SingleEngagement() {
		return false, nil
	}
	w, err := e.Repo.GetWorkerTx(ctx, tx, workerID)
	if err != nil {
		return false, err
	}
	if w.Kind != domain.WorkerHuman {
		return false, nil
	}
	active, err := e.Repo.CountActiveAssignments(ctx, tx, workerID)
	if err != nil {
		return false, err
	}
	if active > 0 {
		return false, nil
	}
	return e.Repo.SetWorkerAvailability(ctx, tx, workerID, domain.Available, stamp)
}

// Expire closes a searching requirement whose window elapsed. It returns any
// other requirement unchanged.
func (e Engine) Expire(ctx context.Context, id, actorID string) (req domain.Requirement, err error) {
	ctx, span := startSpan(ctx, "booking.Expire", attribute.String("requirement.id", id))
	defer func() { endSpan(span, err) }()
	return retry.Do(ctx, "expire requirement", e.Retry, func() (domain.Requirement, error) {
		return e.expireOnce(ctx, id, actorID)
	})
}

func (e Engine) expireOnce(ctx context.Context, id, actorID string) (domain.Requirement, error) {
	var req domain.Requirement
	expired := false
	err := e.inTx(ctx, func(tx *sql.Tx, rec *recorder) error {
		var err error
		req, err = e.Repo.GetRequirementTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.BookingStatus != domain.BookingSearching {
			return nil
		}
		stamp := e.stamp()
		ok, err := e.Repo.TransitionRequirement(ctx, tx, repo.RequirementTransition{
			ID: id, From: domain.BookingSearching, Version: req.Version, To: domain.BookingExpired, UpdatedAt: stamp,
		})
		if err != nil {
			return err
		}
		if !ok {
			cur, err := e.casLost(ctx, tx, id, domain.BookingSearching, "expire")
			if cur.ID != "" && cur.BookingStatus != domain.BookingSearching {
				req = cur
				return nil
			}
			return err
		}
		req.BookingStatus = domain.BookingExpired
		req.Version++
		req.UpdatedAt = stamp
		if err := rec.append(ctx, events.Entry{
			Type: events.TypeRequirementExpired, ProjectID: req.ProjectID,
			EntityKind: events.KindRequirement, EntityID: id,
			FromState: string(domain.BookingSearching), ToState: string(domain.BookingExpired), ActorID: actorID,
			Payload: events.EventPayload{"search_deadline": req.SearchDeadline},
		}); err != nil {
			return err
		}
		if err := e.closeOffers(ctx, tx, rec, req, actorID); err != nil {
			return err
		}
		expired = true
		return e.maybeActivateProject(ctx, tx, rec, req.ProjectID, actorID)
	})
	if err == nil && expired {
		e.countTransition(ctx, domain.BookingExpired)
	}
	return req, err
}

// ExpireDue expires every searching requirement whose deadline is at or
// before now and returns how many it expired.
func (e Engine) ExpireDue(ctx context.Context, now time.Time, actorID string) (int, error) {
	ctx, span := startSpan(ctx, "booking.ExpireDue")
	var err error
	defer func() { endSpan(span, err) }()
	due, err := e.Repo.ListDueForExpiry(ctx, now.UTC().Format(time.RFC3339), 500)
	if err != nil {
		return 0, err
	}
	var errs []error
	count := 0
	for _, req := range due {
		res, xerr := e.Expire(ctx, req.ID, actorID)
		if xerr != nil {
			e.log().Warn("expire failed", "requirement", req.ID, "err", xerr)
			errs = append(errs, fmt.Errorf("expire %s: %w", req.ID, xerr))
			continue
		}
		if res.BookingStatus == domain.BookingExpired {
			count++
		}
	}
	span.SetAttributes(attribute.Int("expired", count))
	err = errors.Join(errs...)
	return count, err
}
