package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/config"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/engine"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/provisioning"
)

const testConfig = `roles:
  - id: developer
    name: Developer
  - id: designer
    name: Designer
booking:
  search_window: 1ms
  sweep_interval: 20ms
provisioning:
  poll_interval: 10ms
  retry_backoff: 10ms
  webhooks:
    - name: crm
      url: %s
feed:
  poll_interval: 10ms
`

func TestAppDeliversProvisioningAndSweeps(t *testing.T) {
	var mu sync.Mutex
	deliveries := map[string]int{}
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		deliveries[r.Header.Get("X-Teamdash-Event")]++
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "teamdash.yml"), []byte(fmt.Sprintf(testConfig, hook.URL)), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := Open(ctx, config.Runtime{Workspace: ws, DBDriver: "sqlite"}, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Bridge, "no redis configured")

	e := a.Engine
	p, err := e.CreateProject(ctx, "Shop", "client-1")
	require.NoError(t, err)
	_, err = e.RegisterWorker(ctx, engine.WorkerOptions{ID: "w-1", RoleID: "developer", Seniority: domain.SeniorityJunior})
	require.NoError(t, err)
	dev, err := e.CreateRequirement(ctx, engine.RequirementOptions{ProjectID: p.ID, RoleID: "developer", Seniority: domain.SeniorityJunior})
	require.NoError(t, err)
	design, err := e.CreateRequirement(ctx, engine.RequirementOptions{ProjectID: p.ID, RoleID: "designer", Seniority: domain.SeniorityJunior})
	require.NoError(t, err)
	_, _, err = e.OpenProject(ctx, p.ID, "client-1")
	require.NoError(t, err)
	res, err := e.Claim(ctx, dev.ID, "w-1")
	require.NoError(t, err)
	require.Equal(t, domain.ClaimAccepted, res.Outcome)

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveries[provisioning.DeliveryProvision] == 1 && deliveries[provisioning.DeliveryOfferOpen] == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		got, err := e.Repo.GetRequirement(context.Background(), design.ID)
		return err == nil && got.BookingStatus == domain.BookingExpired
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, deliveries[provisioning.DeliveryProvision], "provisioned exactly once")
}
