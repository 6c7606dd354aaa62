package provisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/repo"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/retry"
)

const instrumentationName = "github.com/fmeleard84/team-dash-manager-sub011/internal/provisioning"

// Options tune the dispatcher. Zero values take the defaults below.
type Options struct {
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
	RatePerSecond float64
	Burst         int
	PollInterval  time.Duration
	LeaseTTL      time.Duration
	BatchSize     int
	Logger        *slog.Logger
	Now           func() time.Time
}

func (o *Options) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 8
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 5 * time.Minute
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 20
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 30 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 20
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Dispatcher drains the job outbox. Jobs are leased with a conditional update,
// so several dispatchers may share one database.
type Dispatcher struct {
	repo     repo.Repo
	hooks    Hooks
	notifier Notifier
	opts     Options
	limiter  *rate.Limiter
	jobs     metric.Int64Counter
}

func NewDispatcher(r repo.Repo, hooks Hooks, notifier Notifier, opts Options) *Dispatcher {
	opts.applyDefaults()
	if hooks == nil {
		hooks = LogHooks{Logger: opts.Logger}
	}
	if notifier == nil {
		notifier = LogHooks{Logger: opts.Logger}
	}
	jobs, err := otel.Meter(instrumentationName).Int64Counter("provisioning.jobs",
		metric.WithDescription("Outbox job attempts by kind and result"))
	if err != nil {
		otel.Handle(err)
	}
	return &Dispatcher{
		repo:     r,
		hooks:    hooks,
		notifier: notifier,
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		jobs:     jobs,
	}
}

// Run drains due jobs every poll interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.opts.Logger.Error("provisioning: drain outbox", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce leases one batch of due jobs and handles each. It returns the
// number of jobs that were delivered.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	now := d.opts.Now().UTC()
	leaseUntil := now.Add(d.opts.LeaseTTL).Format(time.RFC3339)
	jobs, err := d.repo.ClaimDueJobs(ctx, now.Format(time.RFC3339), leaseUntil, d.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim jobs: %w", err)
	}
	delivered := 0
	for _, job := range jobs {
		if err := d.limiter.Wait(ctx); err != nil {
			return delivered, err
		}
		ok, err := d.process(ctx, job)
		if err != nil {
			return delivered, err
		}
		if ok {
			delivered++
		}
	}
	return delivered, nil
}

// process delivers one leased job and records the outcome. The returned error
// is a storage failure; delivery failures are recorded on the job.
func (d *Dispatcher) process(ctx context.Context, job domain.Job) (bool, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "provisioning.job")
	span.SetAttributes(
		attribute.String("job.kind", string(job.Kind)),
		attribute.String("requirement.id", job.RequirementID),
		attribute.Int("job.attempt", job.Attempts),
	)
	defer span.End()

	stamp := d.opts.Now().UTC().Format(time.RFC3339)
	herr := d.handle(ctx, job)
	if herr == nil {
		d.count(ctx, job.Kind, "delivered")
		return true, d.repo.CompleteJob(ctx, job.ID, stamp)
	}
	span.RecordError(herr)
	span.SetStatus(codes.Error, herr.Error())
	log := d.opts.Logger.With("job", job.ID, "kind", job.Kind, "requirement", job.RequirementID, "attempt", job.Attempts)
	if IsPermanent(herr) || job.Attempts >= d.opts.MaxAttempts {
		d.count(ctx, job.Kind, "dead")
		log.Error("provisioning: job dead-lettered", "err", herr)
		return false, d.repo.MarkJobDead(ctx, job.ID, herr.Error(), stamp)
	}
	wait := retry.Delay(job.Attempts, d.opts.RetryBackoff, d.opts.RetryMaxDelay)
	next := d.opts.Now().UTC().Add(wait).Format(time.RFC3339)
	d.count(ctx, job.Kind, "retry")
	log.Warn("provisioning: job failed, will retry", "err", herr, "next_attempt_at", next)
	return false, d.repo.RescheduleJob(ctx, job.ID, next, herr.Error(), stamp)
}

func (d *Dispatcher) handle(ctx context.Context, job domain.Job) error {
	switch job.Kind {
	case domain.JobProvision:
		var req domain.ProvisionRequest
		if err := json.Unmarshal([]byte(job.Payload), &req); err != nil {
			return Permanent(fmt.Errorf("decode provision payload: %w", err))
		}
		return d.hooks.Provision(ctx, req)
	case domain.JobNotify:
		var n domain.OfferNotice
		if err := json.Unmarshal([]byte(job.Payload), &n); err != nil {
			return Permanent(fmt.Errorf("decode offer payload: %w", err))
		}
		return d.notifier.OfferAvailable(ctx, n)
	case domain.JobTaken:
		var n domain.TakenNotice
		if err := json.Unmarshal([]byte(job.Payload), &n); err != nil {
			return Permanent(fmt.Errorf("decode taken payload: %w", err))
		}
		return d.notifier.MissionTaken(ctx, n)
	default:
		return Permanent(fmt.Errorf("unknown job kind %q", job.Kind))
	}
}

func (d *Dispatcher) count(ctx context.Context, kind domain.JobKind, result string) {
	if d.jobs == nil {
		return
	}
	d.jobs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("result", result),
	))
}
