package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/db"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
)

// Repo is the SQL persistence boundary for projects, requirements, workers,
// events and the jobs outbox. Queries are written with '?' placeholders and
// rebound for the dialect.
type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = domain.ErrNotFound

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(conn *sql.DB, dialect db.Dialect) Repo {
	return Repo{DB: conn, Dialect: dialect}
}

func (r Repo) q(query string) string {
	return db.Rebind(r.Dialect, query)
}

// Begin starts a transaction.
func (r Repo) Begin(ctx context.Context) (*sql.Tx, error) {
	return r.DB.BeginTx(ctx, nil)
}

func (r Repo) InsertProject(ctx context.Context, q Querier, p domain.Project) error {
	_, err := q.ExecContext(ctx, r.q(`INSERT INTO projects(id,owner_id,title,status,created_at,updated_at) VALUES (?,?,?,?,?,?)`),
		p.ID, p.OwnerID, p.Title, string(p.Status), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return r.GetProjectTx(ctx, r.DB, id)
}

func (r Repo) GetProjectTx(ctx context.Context, q Querier, id string) (domain.Project, error) {
	var p domain.Project
	var status string
	err := q.QueryRowContext(ctx, r.q(`SELECT id,owner_id,title,status,created_at,updated_at FROM projects WHERE id=?`), id).
		Scan(&p.ID, &p.OwnerID, &p.Title, &status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.Status = domain.ProjectStatus(status)
	return p, err
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,owner_id,title,status,created_at,updated_at FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		var status string
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Title, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Status = domain.ProjectStatus(status)
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProjectStatus moves a project from one status to another. It reports
// false when the project was no longer in `from`.
func (r Repo) UpdateProjectStatus(ctx context.Context, q Querier, id string, from, to domain.ProjectStatus, updatedAt string) (bool, error) {
	res, err := q.ExecContext(ctx, r.q(`UPDATE projects SET status=?, updated_at=? WHERE id=? AND status=?`),
		string(to), updatedAt, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func optionalString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// encodeSet stores a set as a sorted, de-duplicated JSON array.
func encodeSet(items []string) (string, error) {
	set := NormalizeSet(items)
	b, err := json.Marshal(set)
	if err != nil {
		return "", fmt.Errorf("encode set: %w", err)
	}
	return string(b), nil
}

func decodeSet(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode set: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// NormalizeSet trims, drops empties, de-duplicates and sorts.
func NormalizeSet(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}
