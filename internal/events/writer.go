package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/db"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
)

// Event types written by the booking coordinator.
const (
	TypeProjectCreated     = "project.created"
	TypeProjectSearching   = "project.searching"
	TypeProjectActive      = "project.active"
	TypeProjectCompleted   = "project.completed"
	TypeRequirementCreated = "requirement.created"
	TypeRequirementOpened  = "requirement.opened"
	TypeRequirementClaimed = "requirement.accepted"
	TypeRequirementDecline = "requirement.declined"
	TypeRequirementExpired = "requirement.expired"
	TypeRequirementOffered = "requirement.offered"
	TypeRequirementTaken   = "requirement.taken"
	TypeRequirementClosed  = "requirement.closed"
	TypeWorkerRegistered   = "worker.registered"
	TypeWorkerUpdated      = "worker.updated"
)

const (
	KindProject     = "project"
	KindRequirement = "requirement"
	KindWorker      = "worker"
)

// Writer appends rows to the event log inside the caller's transaction, so an
// event exists if and only if its transition committed.
type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Entry is an event before it has been assigned an id.
type Entry struct {
	Type       string
	ProjectID  string
	WorkerID   string
	EntityKind string
	EntityID   string
	FromState  string
	ToState    string
	ActorID    string
	Payload    EventPayload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) (domain.Event, error) {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if e.Payload == nil {
		e.Payload = EventPayload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	evt := domain.Event{
		TS:         now().UTC().Format(time.RFC3339),
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		WorkerID:   e.WorkerID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		FromState:  e.FromState,
		ToState:    e.ToState,
		ActorID:    e.ActorID,
		Payload:    string(data),
	}
	err = tx.QueryRowContext(ctx, db.Rebind(w.Dialect, `INSERT INTO events(ts,type,project_id,worker_id,entity_kind,entity_id,from_state,to_state,actor_id,payload_json)
		VALUES (?,?,?,?,?,?,?,?,?,?) RETURNING id`),
		evt.TS, evt.Type, nullable(evt.ProjectID), nullable(evt.WorkerID), evt.EntityKind, evt.EntityID,
		nullable(evt.FromState), nullable(evt.ToState), evt.ActorID, evt.Payload).Scan(&evt.ID)
	if err != nil {
		return domain.Event{}, fmt.Errorf("append event %s: %w", e.Type, err)
	}
	return evt, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
