// Package engine implements the booking coordinator: the requirement state
// machine, the claim race, the synthetic fast path and project lifecycle.
//
// Every transition runs in one SQL transaction that also writes its event
// and any outbox job. Mutual exclusion comes from compare-and-swap updates on
// the requirement row, never from in-process locks, so several instances may
// share one database.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/config"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/db"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/events"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/repo"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/retry"
)

const instrumentationName = "github.com/fmeleard84/team-dash-manager-sub011/internal/engine"

var tracer = otel.Tracer(instrumentationName)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Notifier events.Publisher
	Logger   *slog.Logger
	Retry    retry.Policy
	Now      func() time.Time

	metrics *instruments
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:      conn,
		Repo:    repo.New(conn, dialect),
		Events:  events.Writer{Dialect: dialect},
		Config:  cfg,
		Retry:   retry.Once,
		Now:     time.Now,
		metrics: newInstruments(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// recorder collects the events appended inside one transaction so they can
// be published once it commits.
type recorder struct {
	w      events.Writer
	tx     *sql.Tx
	events []domain.Event
}

func (r *recorder) append(ctx context.Context, entry events.Entry) error {
	evt, err := r.w.Append(ctx, r.tx, entry)
	if err != nil {
		return err
	}
	r.events = append(r.events, evt)
	return nil
}

// inTx runs fn in a transaction and publishes the recorded events after a
// successful commit.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx, rec *recorder) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	w := e.Events
	w.Now = e.now
	rec := &recorder{w: w, tx: tx}
	if err := fn(tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(rec.events...)
	return nil
}

func (e Engine) publish(evts ...domain.Event) {
	if e.Notifier == nil || len(evts) == 0 {
		return
	}
	e.Notifier.Publish(evts...)
}

// casLost turns a compare-and-swap miss into the right error: an invalid
// state when the row moved on, a retryable conflict when only its version did.
func (e Engine) casLost(ctx context.Context, tx *sql.Tx, id string, expected domain.BookingStatus, op string) (domain.Requirement, error) {
	cur, err := e.Repo.GetRequirementTx(ctx, tx, id)
	if err != nil {
		return cur, err
	}
	if cur.BookingStatus != expected {
		return cur, invalidRequirement(cur, op)
	}
	return cur, domain.ErrConcurrentModified
}

func invalidRequirement(req domain.Requirement, op string) error {
	return &domain.InvalidStateError{Entity: "requirement", ID: req.ID, From: string(req.BookingStatus), Op: op}
}

func invalidProject(p domain.Project, op string) error {
	return &domain.InvalidStateError{Entity: "project", ID: p.ID, From: string(p.Status), Op: op}
}

type instruments struct {
	claims      metric.Int64Counter
	transitions metric.Int64Counter
}

func newInstruments() *instruments {
	meter := otel.Meter(instrumentationName)
	claims, err := meter.Int64Counter("booking.claims", metric.WithDescription("Claim attempts by outcome"))
	if err != nil {
		otel.Handle(err)
	}
	transitions, err := meter.Int64Counter("booking.transitions", metric.WithDescription("Requirement transitions by target state"))
	if err != nil {
		otel.Handle(err)
	}
	return &instruments{claims: claims, transitions: transitions}
}

func (e Engine) countClaim(ctx context.Context, outcome domain.ClaimOutcome) {
	if e.metrics == nil || e.metrics.claims == nil {
		return
	}
	e.metrics.claims.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

func (e Engine) countTransition(ctx context.Context, to domain.BookingStatus) {
	if e.metrics == nil || e.metrics.transitions == nil {
		return
	}
	e.metrics.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", string(to))))
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
