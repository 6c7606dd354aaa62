package teamdashsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimSendsWorkerAndActor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/requirements/r-1/claim", r.URL.Path)
		assert.Equal(t, "w-1", r.Header.Get("X-Actor-Id"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "w-1", body["worker_id"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"accepted","requirement":{"id":"r-1","booking_status":"accepted","holder_id":"w-1","version":2}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.ActorID = "w-1"
	res, err := c.Claim(context.Background(), "r-1", "w-1")
	require.NoError(t, err)
	assert.True(t, res.Accepted())
	require.NotNil(t, res.Requirement.HolderID)
	assert.Equal(t, "w-1", *res.Requirement.HolderID)
}

func TestBearerTokenWinsOverActor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("X-Actor-Id"))
		_, _ = w.Write([]byte(`{"id":"p-1","status":"draft"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	c.ActorID = "ignored"
	p, err := c.GetProject(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, "draft", p.Status)
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/requirements/r-1/decline":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":{"code":"invalid_state","message":"cannot decline","details":{"from":"expired","op":"decline"}}}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":"transient","message":"busy","details":{"retryable":true}}}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Decline(context.Background(), "r-1", "no budget")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "invalid_state", apiErr.Code)
	assert.Equal(t, "expired", apiErr.Details["from"])
	assert.False(t, apiErr.Retryable())

	_, err = c.Expire(context.Background(), "r-2")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "transient", apiErr.Code)
	assert.True(t, apiErr.Retryable())
}

func TestEventsPageEncodesFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/v1/events", r.URL.Path)
		assert.Equal(t, "p-1", q.Get("project_id"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "41", q.Get("cursor"))
		assert.False(t, q.Has("worker_id"))
		_, _ = w.Write([]byte(`{"items":[{"id":42,"type":"requirement.accepted","entity_kind":"requirement","entity_id":"r-1","payload":{"worker_id":"w-1"}}],"next_cursor":"42"}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL).EventsPage(context.Background(), EventFilter{ProjectID: "p-1", Limit: 10, Cursor: "41"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(42), page.Items[0].ID)
	assert.Equal(t, "w-1", page.Items[0].Payload["worker_id"])
	assert.Equal(t, "42", page.NextCursor)
}

func TestCustomBasePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/workers/w-1/missions/r-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"requirement_id":"r-1","worker_id":"w-1","status":"taken"}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.BasePath = "/api/"
	status, err := c.MissionStatus(context.Background(), "w-1", "r-1")
	require.NoError(t, err)
	assert.Equal(t, "taken", status)
}
