package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/engine"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/events"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/repo"
)

type feedInput struct {
	ProjectID   string `query:"project_id"`
	WorkerID    string `query:"worker_id"`
	After       string `query:"after" doc:"Start after this event id; omitted means from now"`
	LastEventID string `header:"Last-Event-ID"`
}

// Resolve validates the cursor before the stream starts.
func (in *feedInput) Resolve(ctx huma.Context) []error {
	for _, raw := range []string{in.After, in.LastEventID} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err != nil || n < 0 {
			return []error{&huma.ErrorDetail{Location: "query.after", Message: "invalid event id", Value: raw}}
		}
	}
	return nil
}

// cursor prefers Last-Event-ID so that a reconnecting EventSource resumes
// where it stopped.
func (in *feedInput) cursor() int64 {
	for _, raw := range []string{in.LastEventID, in.After} {
		if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	return events.FromLatest
}

func registerFeed(api huma.API, e engine.Engine, feed *events.Feed) {
	sse.Register(api, huma.Operation{
		OperationID: "event-feed",
		Method:      http.MethodGet,
		Path:        "/feed",
		Summary:     "Stream committed events for a project or worker",
		Description: "Events are delivered in commit order, at least once. Reconnect with Last-Event-ID to resume.",
	}, map[string]any{
		"event": EventResponse{},
	}, func(ctx context.Context, input *feedInput, send sse.Sender) {
		scope := repo.EventScope{ProjectID: input.ProjectID, WorkerID: input.WorkerID}
		if p, ok := workerOnly(ctx); ok {
			// The stream has no error channel once open, so a worker-only
			// caller is pinned to their own scope.
			scope.WorkerID = p.ActorID
		}
		sub, err := feed.Subscribe(ctx, scope, input.cursor(), func(ctx context.Context, evt domain.Event) error {
			return send(sse.Message{ID: int(evt.ID), Data: eventResponse(evt)})
		})
		if err != nil {
			loggerOr(e.Logger).Warn("feed subscribe failed", "err", err)
			return
		}
		defer sub.Close()
		select {
		case <-ctx.Done():
		case <-sub.Done():
		}
	})
}
