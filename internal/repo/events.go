package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
)

// EventScope restricts a change-feed read to a project, a worker, or both.
// The zero scope matches every event.
type EventScope struct {
	ProjectID string
	WorkerID  string
}

func (s EventScope) where(clauses []string, args []any) ([]string, []any) {
	if s.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, s.ProjectID)
	}
	if s.WorkerID != "" {
		clauses = append(clauses, "worker_id=?")
		args = append(args, s.WorkerID)
	}
	return clauses, args
}

// Match reports whether an event falls inside the scope.
func (s EventScope) Match(e domain.Event) bool {
	if s.ProjectID != "" && e.ProjectID != s.ProjectID {
		return false
	}
	if s.WorkerID != "" && e.WorkerID != s.WorkerID {
		return false
	}
	return true
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, scope EventScope) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses, args := scope.where([]string{"1=1"}, nil)
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,worker_id,entity_kind,entity_id,from_state,to_state,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var project, worker, from, to sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &project, &worker, &e.EntityKind, &e.EntityID, &from, &to, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.ProjectID = project.String
		e.WorkerID = worker.String
		e.FromState = from.String
		e.ToState = to.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID inside the scope.
func (r Repo) LatestEventID(ctx context.Context, scope EventScope) (int64, error) {
	clauses, args := scope.where([]string{"1=1"}, nil)
	query := `SELECT COALESCE(MAX(id),0) FROM events WHERE ` + strings.Join(clauses, " AND ")
	var id int64
	if err := r.DB.QueryRowContext(ctx, r.q(query), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
