package provisioning_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/db"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/migrate"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/provisioning"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/repo"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingHooks struct {
	mu        sync.Mutex
	failWith  error
	provision []domain.ProvisionRequest
	offers    []domain.OfferNotice
	taken     []domain.TakenNotice
}

func (h *recordingHooks) Provision(_ context.Context, req domain.ProvisionRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failWith != nil {
		return h.failWith
	}
	h.provision = append(h.provision, req)
	return nil
}

func (h *recordingHooks) OfferAvailable(_ context.Context, n domain.OfferNotice) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offers = append(h.offers, n)
	return nil
}

func (h *recordingHooks) MissionTaken(_ context.Context, n domain.TakenNotice) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.taken = append(h.taken, n)
	return nil
}

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))
	return repo.New(conn, dialect)
}

func enqueue(t *testing.T, r repo.Repo, kind domain.JobKind, reqID string, payload any) int64 {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	stamp := t0.Format(time.RFC3339)
	inserted, err := r.EnqueueJob(context.Background(), r.DB, domain.Job{
		Kind: kind, RequirementID: reqID, Payload: string(data), NextAttemptAt: stamp, CreatedAt: stamp,
	})
	require.NoError(t, err)
	require.True(t, inserted)
	jobs, err := r.ListJobs(context.Background(), domain.JobPending, 100)
	require.NoError(t, err)
	for _, j := range jobs {
		if j.Kind == kind && j.RequirementID == reqID {
			return j.ID
		}
	}
	t.Fatalf("job %s/%s not found", kind, reqID)
	return 0
}

func newDispatcher(r repo.Repo, h *recordingHooks, c *clock, maxAttempts int) *provisioning.Dispatcher {
	return provisioning.NewDispatcher(r, h, h, provisioning.Options{
		MaxAttempts:   maxAttempts,
		RetryBackoff:  time.Second,
		RetryMaxDelay: time.Minute,
		RatePerSecond: 1000,
		Burst:         10,
		Now:           c.Now,
	})
}

func TestDispatcherDeliversEachKind(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	h := &recordingHooks{}
	c := &clock{now: t0}

	prov := enqueue(t, r, domain.JobProvision, "req-1", domain.ProvisionRequest{RequirementID: "req-1", ProjectID: "p-1", WorkerID: "w-1"})
	enqueue(t, r, domain.JobNotify, "req-2", domain.OfferNotice{RequirementID: "req-2", ProjectID: "p-1", RoleID: "developer", WorkerIDs: []string{"w-1", "w-2"}})
	enqueue(t, r, domain.JobTaken, "req-1", domain.TakenNotice{RequirementID: "req-1", ProjectID: "p-1", WorkerIDs: []string{"w-2"}})

	n, err := newDispatcher(r, h, c, 3).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, h.provision, 1)
	assert.Equal(t, "w-1", h.provision[0].WorkerID)
	require.Len(t, h.offers, 1)
	assert.Equal(t, []string{"w-1", "w-2"}, h.offers[0].WorkerIDs)
	require.Len(t, h.taken, 1)
	assert.Equal(t, []string{"w-2"}, h.taken[0].WorkerIDs)

	job, err := r.GetJob(ctx, prov)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDone, job.Status)
	assert.Equal(t, 1, job.Attempts)

	n, err = newDispatcher(r, h, c, 3).RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "delivered jobs are not picked up again")
}

func TestDispatcherRetriesThenDeadLetters(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	h := &recordingHooks{failWith: errors.New("connection refused")}
	c := &clock{now: t0}
	d := newDispatcher(r, h, c, 2)
	id := enqueue(t, r, domain.JobProvision, "req-1", domain.ProvisionRequest{RequirementID: "req-1", WorkerID: "w-1"})

	_, err := d.RunOnce(ctx)
	require.NoError(t, err)
	job, err := r.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, t0.Add(time.Second).Format(time.RFC3339), job.NextAttemptAt)
	assert.Equal(t, "connection refused", job.LastError)
	assert.Nil(t, job.LockedUntil)

	_, err = d.RunOnce(ctx)
	require.NoError(t, err)
	job, err = r.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts, "not due yet")

	c.Advance(time.Second)
	_, err = d.RunOnce(ctx)
	require.NoError(t, err)
	job, err = r.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDead, job.Status)
	assert.Equal(t, 2, job.Attempts)
}

func TestDispatcherDeadLettersPermanentFailure(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	h := &recordingHooks{failWith: provisioning.Permanent(errors.New("status 400: bad worker"))}
	c := &clock{now: t0}
	id := enqueue(t, r, domain.JobProvision, "req-1", domain.ProvisionRequest{RequirementID: "req-1"})

	_, err := newDispatcher(r, h, c, 5).RunOnce(ctx)
	require.NoError(t, err)
	job, err := r.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDead, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestDispatcherRejectsUndecodablePayload(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	h := &recordingHooks{}
	c := &clock{now: t0}
	stamp := t0.Format(time.RFC3339)
	_, err := r.EnqueueJob(ctx, r.DB, domain.Job{
		Kind: domain.JobProvision, RequirementID: "req-x", Payload: "not json", NextAttemptAt: stamp, CreatedAt: stamp,
	})
	require.NoError(t, err)

	_, err = newDispatcher(r, h, c, 5).RunOnce(ctx)
	require.NoError(t, err)
	dead, err := r.ListJobs(ctx, domain.JobDead, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "req-x", dead[0].RequirementID)
	assert.Empty(t, h.provision)
}

func TestPermanentMarker(t *testing.T) {
	base := errors.New("boom")
	assert.False(t, provisioning.IsPermanent(base))
	assert.True(t, provisioning.IsPermanent(provisioning.Permanent(base)))
	assert.ErrorIs(t, provisioning.Permanent(base), base)
	assert.Nil(t, provisioning.Permanent(nil))
}
