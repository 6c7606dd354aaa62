package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/config"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/db"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/engine"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/events"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, dialect, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, dialect, config.Default())
	feed := events.NewFeed(e.Repo, events.FeedOptions{PollInterval: 20 * time.Millisecond, GapTimeout: 100 * time.Millisecond})
	e.Notifier = feed
	handler, err := New(Config{Engine: e, Feed: feed, BasePath: "/v1", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			srv.Shutdown(ctx)
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func mustStatus(t *testing.T, res *http.Response, data []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d: %s", res.Request.Method, res.Request.URL.Path, res.StatusCode, want, string(data))
	}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return v
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

// seed creates a project with one SEO requirement and two matching workers.
func seed(t *testing.T, srv *testServer) (projectID, requirementID string) {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{"title": "Relaunch"}, map[string]string{"X-Actor-Id": "client-1"})
	mustStatus(t, res, data, http.StatusCreated)
	project := decode[domain.Project](t, data)
	if project.OwnerID != "client-1" {
		t.Fatalf("owner = %q, want client-1", project.OwnerID)
	}
	for _, id := range []string{"w-1", "w-2"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/workers", map[string]any{
			"id": id, "role_id": "seo-specialist", "seniority": "senior",
			"languages": []string{"French", "English"}, "expertises": []string{"SEO", "PPC"},
		}, nil)
		mustStatus(t, res, data, http.StatusCreated)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+project.ID+"/requirements", map[string]any{
		"role_id": "seo-specialist", "seniority": "senior", "languages": []string{"French"}, "expertises": []string{"SEO"},
	}, nil)
	mustStatus(t, res, data, http.StatusCreated)
	req := decode[domain.Requirement](t, data)
	if req.BookingStatus != domain.BookingDraft {
		t.Fatalf("new requirement status = %s", req.BookingStatus)
	}
	return project.ID, req.ID
}

func TestClaimFlow(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	projectID, reqID := seed(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/requirements/"+reqID+"/claim", map[string]any{"worker_id": "w-1"}, nil)
	mustStatus(t, res, data, http.StatusConflict)
	env := decode[errorEnvelope](t, data)
	if env.Error.Code != "invalid_state" || env.Error.Details["from"] != "draft" {
		t.Fatalf("claim on draft: %+v", env.Error)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+projectID+"/open", nil, nil)
	mustStatus(t, res, data, http.StatusOK)
	opened := decode[OpenProjectResponse](t, data)
	if opened.Project.Status != domain.ProjectSearching || len(opened.Requirements) != 1 || opened.Requirements[0].BookingStatus != domain.BookingSearching {
		t.Fatalf("open project: %+v", opened)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/workers/w-2/missions/"+reqID, nil, nil)
	mustStatus(t, res, data, http.StatusOK)
	if got := decode[MissionStatusResponse](t, data).Status; got != "open" {
		t.Fatalf("mission status before claim = %s", got)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requirements/"+reqID+"/claim", map[string]any{"worker_id": "w-1"}, nil)
	mustStatus(t, res, data, http.StatusOK)
	won := decode[ClaimResponse](t, data)
	if won.Status != "accepted" || won.Requirement.HolderID == nil || *won.Requirement.HolderID != "w-1" {
		t.Fatalf("winner: %+v", won)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requirements/"+reqID+"/claim", map[string]any{"worker_id": "w-2"}, nil)
	mustStatus(t, res, data, http.StatusOK)
	lost := decode[ClaimResponse](t, data)
	if lost.Status != "already_claimed" || lost.Requirement.HolderID != nil {
		t.Fatalf("loser must not see the holder: %+v", lost)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/workers/w-2/missions/"+reqID, nil, nil)
	mustStatus(t, res, data, http.StatusOK)
	if got := decode[MissionStatusResponse](t, data).Status; got != "taken" {
		t.Fatalf("mission status after claim = %s", got)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects/"+projectID, nil, nil)
	mustStatus(t, res, data, http.StatusOK)
	if p := decode[domain.Project](t, data); p.Status != domain.ProjectActive {
		t.Fatalf("project status = %s, want active", p.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requirements/"+reqID+"/claims", nil, nil)
	mustStatus(t, res, data, http.StatusOK)
	if audit := decode[listResponse[domain.ClaimAttempt]](t, data); len(audit.Items) != 2 {
		t.Fatalf("claim audit = %+v", audit.Items)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requirements/"+reqID+"/decline", map[string]any{"reason": "client cancelled"}, nil)
	mustStatus(t, res, data, http.StatusOK)
	if got := decode[domain.Requirement](t, data); got.BookingStatus != domain.BookingDeclined || got.HolderID != nil {
		t.Fatalf("declined: %+v", got)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/workers/w-1", nil, nil)
	mustStatus(t, res, data, http.StatusOK)
	if w := decode[domain.Worker](t, data); w.Availability != domain.Available {
		t.Fatalf("holder availability after decline = %s", w.Availability)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requirements/"+reqID+"/expire", nil, nil)
	mustStatus(t, res, data, http.StatusOK)
	if got := decode[domain.Requirement](t, data); got.BookingStatus != domain.BookingDeclined {
		t.Fatalf("expire on declined must be a no-op, got %s", got.BookingStatus)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	projectID, _ := seed(t, srv)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/requirements/missing", nil, nil)
	mustStatus(t, res, data, http.StatusNotFound)
	if env := decode[errorEnvelope](t, data); env.Error.Code != "not_found" {
		t.Fatalf("code = %s", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+projectID+"/requirements", map[string]any{
		"role_id": "astronaut", "seniority": "senior",
	}, nil)
	mustStatus(t, res, data, http.StatusBadRequest)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+projectID+"/requirements", map[string]any{
		"role_id": "ai-copywriter", "seniority": "senior",
	}, nil)
	mustStatus(t, res, data, http.StatusCreated)
	synthetic := decode[domain.Requirement](t, data)
	if !synthetic.IsSynthetic {
		t.Fatalf("ai role must yield a synthetic requirement")
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requirements/"+synthetic.ID+"/auto-accept", nil, nil)
	mustStatus(t, res, data, http.StatusConflict)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+projectID+"/complete", nil, nil)
	mustStatus(t, res, data, http.StatusConflict)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?cursor=abc", nil, nil)
	mustStatus(t, res, data, http.StatusBadRequest)
}

func TestSyntheticRequirementAcceptedOnOpen(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	projectID, _ := seed(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/workers/synthetic", map[string]any{
		"role_id": "ai-copywriter", "seniority": "senior", "languages": []string{"French"}, "expertises": []string{"copywriting"},
	}, nil)
	mustStatus(t, res, data, http.StatusCreated)
	bot := decode[domain.Worker](t, data)
	if bot.ID != engine.SyntheticWorkerID("ai-copywriter") || bot.Kind != domain.WorkerSynthetic {
		t.Fatalf("synthetic worker: %+v", bot)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+projectID+"/requirements", map[string]any{
		"role_id": "ai-copywriter", "seniority": "senior", "languages": []string{"French"},
	}, nil)
	mustStatus(t, res, data, http.StatusCreated)
	req := decode[domain.Requirement](t, data)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requirements/"+req.ID+"/open", nil, nil)
	mustStatus(t, res, data, http.StatusOK)
	got := decode[domain.Requirement](t, data)
	if got.BookingStatus != domain.BookingAccepted || got.HolderID == nil || *got.HolderID != bot.ID {
		t.Fatalf("synthetic open: %+v", got)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requirements/"+req.ID+"/auto-accept", nil, nil)
	mustStatus(t, res, data, http.StatusOK)
	if again := decode[ClaimResponse](t, data); again.Status != "accepted" {
		t.Fatalf("repeat auto-accept: %+v", again)
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	projectID, _ := seed(t, srv)

	var seen []EventResponse
	cursor := ""
	for i := 0; i < 10; i++ {
		url := srv.URL + "/v1/events?limit=1&project_id=" + projectID
		if cursor != "" {
			url += "&cursor=" + cursor
		}
		res, data := doJSON(t, client, http.MethodGet, url, nil, nil)
		mustStatus(t, res, data, http.StatusOK)
		page := decode[paginatedEvents](t, data)
		seen = append(seen, page.Items...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if len(seen) != 2 {
		t.Fatalf("project events = %d, want project.created and requirement.created", len(seen))
	}
	if seen[0].Type != events.TypeProjectCreated || seen[1].Type != events.TypeRequirementCreated {
		t.Fatalf("order: %s, %s", seen[0].Type, seen[1].Type)
	}
	if seen[0].ID >= seen[1].ID {
		t.Fatalf("ids not ascending")
	}
}

func TestFeedStreamsProjectEvents(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	projectID, reqID := seed(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/feed?after=0&project_id="+projectID, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open feed: %v", err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	go func() {
		_, _ = srv.Engine.OpenForSearch(context.Background(), reqID, "client-1")
	}()

	want := []string{events.TypeProjectCreated, events.TypeRequirementCreated, events.TypeProjectSearching, events.TypeRequirementOpened}
	var got []string
	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() && len(got) < len(want) {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		evt := decode[EventResponse](t, []byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))))
		if evt.ProjectID != projectID {
			t.Fatalf("event from another scope: %+v", evt)
		}
		got = append(got, evt.Type)
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("feed = %v, want %v", got, want)
	}
}

func signToken(t *testing.T, secret, subject string, roles ...string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Roles:            roles,
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestBearerAuth(t *testing.T) {
	const secret = "test-secret"
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: secret})
	defer cleanup()
	client := srv.Client()
	admin := map[string]string{"Authorization": "Bearer " + signToken(t, secret, "ops", RoleAdmin)}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	mustStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects", nil, nil)
	mustStatus(t, res, data, http.StatusUnauthorized)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects", nil, map[string]string{"Authorization": "Bearer " + signToken(t, "other", "ops")})
	mustStatus(t, res, data, http.StatusUnauthorized)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{"title": "Audit"}, admin)
	mustStatus(t, res, data, http.StatusCreated)
	project := decode[domain.Project](t, data)
	if project.OwnerID != "ops" {
		t.Fatalf("owner from token subject = %q", project.OwnerID)
	}
	for _, id := range []string{"w-1", "w-2"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/workers", map[string]any{
			"id": id, "role_id": "developer", "seniority": "junior",
		}, admin)
		mustStatus(t, res, data, http.StatusCreated)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+project.ID+"/requirements", map[string]any{
		"role_id": "developer", "seniority": "junior",
	}, admin)
	mustStatus(t, res, data, http.StatusCreated)
	req := decode[domain.Requirement](t, data)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requirements/"+req.ID+"/open", nil, admin)
	mustStatus(t, res, data, http.StatusOK)

	worker1 := map[string]string{"Authorization": "Bearer " + signToken(t, secret, "w-1", RoleWorker)}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requirements/"+req.ID+"/claim", map[string]any{"worker_id": "w-2"}, worker1)
	mustStatus(t, res, data, http.StatusForbidden)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requirements/"+req.ID+"/claim", map[string]any{"worker_id": "w-1"}, worker1)
	mustStatus(t, res, data, http.StatusOK)
	if got := decode[ClaimResponse](t, data); got.Status != "accepted" {
		t.Fatalf("claim: %+v", got)
	}

	worker2 := map[string]string{"Authorization": "Bearer " + signToken(t, secret, "w-2", RoleWorker)}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requirements/"+req.ID, nil, worker2)
	mustStatus(t, res, data, http.StatusOK)
	if got := decode[domain.Requirement](t, data); got.BookingStatus != domain.BookingAccepted || got.HolderID != nil {
		t.Fatalf("other worker sees the holder: %+v", got)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects/"+project.ID+"/requirements", nil, worker2)
	mustStatus(t, res, data, http.StatusOK)
	for _, r := range decode[listResponse[domain.Requirement]](t, data).Items {
		if r.HolderID != nil {
			t.Fatalf("project listing exposes holder to another worker: %+v", r)
		}
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requirements/"+req.ID, nil, worker1)
	mustStatus(t, res, data, http.StatusOK)
	if got := decode[domain.Requirement](t, data); got.HolderID == nil || *got.HolderID != "w-1" {
		t.Fatalf("holder must see their own hold: %+v", got)
	}

	for _, path := range []string{
		"/v1/requirements/" + req.ID + "/decline",
		"/v1/requirements/" + req.ID + "/expire",
		"/v1/requirements/" + req.ID + "/open",
		"/v1/projects/" + project.ID + "/complete",
		"/v1/sweeps/expire",
	} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+path, nil, worker2)
		mustStatus(t, res, data, http.StatusForbidden)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{"title": "Side gig"}, worker2)
	mustStatus(t, res, data, http.StatusForbidden)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requirements/"+req.ID+"/claims", nil, worker2)
	mustStatus(t, res, data, http.StatusForbidden)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?worker_id=w-1", nil, worker2)
	mustStatus(t, res, data, http.StatusForbidden)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?project_id="+project.ID, nil, worker2)
	mustStatus(t, res, data, http.StatusOK)
	page := decode[paginatedEvents](t, data)
	var types []string
	for _, evt := range page.Items {
		if evt.WorkerID != "w-2" {
			t.Fatalf("worker read another scope: %+v", evt)
		}
		types = append(types, evt.Type)
	}
	if strings.Join(types, ",") != events.TypeRequirementOffered+","+events.TypeRequirementTaken {
		t.Fatalf("w-2 project events = %v", types)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	feedReq, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/feed?after=0&worker_id=w-1", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	feedReq.Header.Set("Authorization", worker2["Authorization"])
	feedRes, err := client.Do(feedReq)
	if err != nil {
		t.Fatalf("open feed: %v", err)
	}
	defer feedRes.Body.Close()
	scanner := bufio.NewScanner(feedRes.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		evt := decode[EventResponse](t, []byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))))
		if evt.WorkerID != "w-2" {
			t.Fatalf("feed not pinned to the caller: %+v", evt)
		}
		break
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/workers", map[string]any{
		"id": "w-9", "role_id": "developer", "seniority": "junior",
	}, worker2)
	mustStatus(t, res, data, http.StatusForbidden)
	worker3 := map[string]string{"Authorization": "Bearer " + signToken(t, secret, "w-3", RoleWorker)}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/workers", map[string]any{
		"role_id": "developer", "seniority": "junior",
	}, worker3)
	mustStatus(t, res, data, http.StatusCreated)
	if w := decode[domain.Worker](t, data); w.ID != "w-3" {
		t.Fatalf("self registration id = %q", w.ID)
	}

	clientTok := map[string]string{"Authorization": "Bearer " + signToken(t, secret, "client-1", RoleClient)}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/workers/synthetic", map[string]any{
		"role_id": "ai-copywriter", "seniority": "senior",
	}, clientTok)
	mustStatus(t, res, data, http.StatusForbidden)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requirements/"+req.ID+"/decline", map[string]any{"reason": "scope cut"}, clientTok)
	mustStatus(t, res, data, http.StatusOK)
	if got := decode[domain.Requirement](t, data); got.BookingStatus != domain.BookingDeclined {
		t.Fatalf("client decline: %+v", got)
	}
}

func TestOpenAPIDocumentServedConcurrently(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	const n = 8
	bodies := make(chan []byte, n)
	for range n {
		go func() {
			res, err := srv.Client().Get(srv.URL + "/v1/openapi.json")
			if err != nil {
				bodies <- nil
				return
			}
			defer res.Body.Close()
			data, _ := io.ReadAll(res.Body)
			bodies <- data
		}()
	}
	var first []byte
	for range n {
		data := <-bodies
		if len(data) == 0 {
			t.Fatal("empty openapi document")
		}
		if first == nil {
			first = data
			continue
		}
		if !bytes.Equal(first, data) {
			t.Fatal("openapi documents differ between concurrent requests")
		}
	}
	doc := decode[map[string]any](t, first)
	if _, ok := doc["paths"]; !ok {
		t.Fatalf("openapi document has no paths: %s", first)
	}
}
