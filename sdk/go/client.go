package teamdashsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Team Dash booking API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

type Project struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type Requirement struct {
	ID                 string   `json:"id"`
	ProjectID          string   `json:"project_id"`
	RoleID             string   `json:"role_id"`
	Seniority          string   `json:"seniority"`
	RequiredLanguages  []string `json:"required_languages"`
	RequiredExpertises []string `json:"required_expertises"`
	BookingStatus      string   `json:"booking_status"`
	HolderID           *string  `json:"holder_id,omitempty"`
	IsSynthetic        bool     `json:"is_synthetic"`
	DeclineReason      string   `json:"decline_reason,omitempty"`
	SearchDeadline     *string  `json:"search_deadline,omitempty"`
	Version            int64    `json:"version"`
}

type Worker struct {
	ID           string   `json:"id"`
	RoleID       string   `json:"role_id"`
	DisplayName  string   `json:"display_name,omitempty"`
	Seniority    string   `json:"seniority"`
	Languages    []string `json:"languages"`
	Expertises   []string `json:"expertises"`
	Availability string   `json:"availability"`
	Kind         string   `json:"kind"`
}

// WorkerProfile is the body for registering a worker.
type WorkerProfile struct {
	ID           string   `json:"id,omitempty"`
	RoleID       string   `json:"role_id"`
	DisplayName  string   `json:"display_name,omitempty"`
	Seniority    string   `json:"seniority"`
	Languages    []string `json:"languages,omitempty"`
	Expertises   []string `json:"expertises,omitempty"`
	Availability string   `json:"availability,omitempty"`
}

// WorkerPatch changes only the non-nil fields.
type WorkerPatch struct {
	DisplayName  *string   `json:"display_name,omitempty"`
	Seniority    *string   `json:"seniority,omitempty"`
	Languages    *[]string `json:"languages,omitempty"`
	Expertises   *[]string `json:"expertises,omitempty"`
	Availability *string   `json:"availability,omitempty"`
}

// NewRequirement is the body for adding a requirement to a project.
type NewRequirement struct {
	RoleID     string   `json:"role_id"`
	Seniority  string   `json:"seniority"`
	Languages  []string `json:"languages,omitempty"`
	Expertises []string `json:"expertises,omitempty"`
}

// ClaimResult reports a claim outcome: accepted, already_claimed or
// not_eligible. Losing is not an error.
type ClaimResult struct {
	Status      string      `json:"status"`
	Requirement Requirement `json:"requirement"`
}

func (r ClaimResult) Accepted() bool { return r.Status == "accepted" }

type Mission struct {
	Requirement Requirement `json:"requirement"`
	Status      string      `json:"status"`
}

type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	WorkerID   string         `json:"worker_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	FromState  string         `json:"from_state,omitempty"`
	ToState    string         `json:"to_state,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// EventFilter scopes an event listing.
type EventFilter struct {
	ProjectID string
	WorkerID  string
	Limit     int
	Cursor    string
}

// APIError wraps non-2xx responses. Code is the machine-readable error code
// when the server sent one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Retryable reports whether the server marked the failure as transient.
func (e *APIError) Retryable() bool {
	if v, ok := e.Details["retryable"].(bool); ok {
		return v
	}
	return e.StatusCode == http.StatusServiceUnavailable
}

func (c *Client) CreateProject(ctx context.Context, title, ownerID string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", map[string]any{"title": title, "owner_id": ownerID}, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// OpenProject opens every draft requirement of a project.
func (c *Client) OpenProject(ctx context.Context, id string) (Project, []Requirement, error) {
	var resp struct {
		Project      Project       `json:"project"`
		Requirements []Requirement `json:"requirements"`
	}
	err := c.do(ctx, http.MethodPost, "projects/"+url.PathEscape(id)+"/open", nil, &resp)
	return resp.Project, resp.Requirements, err
}

func (c *Client) CompleteProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects/"+url.PathEscape(id)+"/complete", nil, &resp)
	return resp, err
}

func (c *Client) CreateRequirement(ctx context.Context, projectID string, req NewRequirement) (Requirement, error) {
	var resp Requirement
	err := c.do(ctx, http.MethodPost, "projects/"+url.PathEscape(projectID)+"/requirements", req, &resp)
	return resp, err
}

func (c *Client) ListRequirements(ctx context.Context, projectID string) ([]Requirement, error) {
	var resp struct {
		Items []Requirement `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(projectID)+"/requirements", nil, &resp)
	return resp.Items, err
}

func (c *Client) GetRequirement(ctx context.Context, id string) (Requirement, error) {
	var resp Requirement
	err := c.do(ctx, http.MethodGet, "requirements/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) OpenRequirement(ctx context.Context, id string) (Requirement, error) {
	var resp Requirement
	err := c.do(ctx, http.MethodPost, "requirements/"+url.PathEscape(id)+"/open", nil, &resp)
	return resp, err
}

// Claim races for a searching requirement on behalf of workerID.
func (c *Client) Claim(ctx context.Context, requirementID, workerID string) (ClaimResult, error) {
	var resp ClaimResult
	err := c.do(ctx, http.MethodPost, "requirements/"+url.PathEscape(requirementID)+"/claim", map[string]any{"worker_id": workerID}, &resp)
	return resp, err
}

func (c *Client) Decline(ctx context.Context, requirementID, reason string) (Requirement, error) {
	var resp Requirement
	err := c.do(ctx, http.MethodPost, "requirements/"+url.PathEscape(requirementID)+"/decline", map[string]any{"reason": reason}, &resp)
	return resp, err
}

func (c *Client) Expire(ctx context.Context, requirementID string) (Requirement, error) {
	var resp Requirement
	err := c.do(ctx, http.MethodPost, "requirements/"+url.PathEscape(requirementID)+"/expire", nil, &resp)
	return resp, err
}

func (c *Client) AutoAccept(ctx context.Context, requirementID string) (ClaimResult, error) {
	var resp ClaimResult
	err := c.do(ctx, http.MethodPost, "requirements/"+url.PathEscape(requirementID)+"/auto-accept", nil, &resp)
	return resp, err
}

func (c *Client) EligibleWorkers(ctx context.Context, requirementID string) ([]Worker, error) {
	var resp struct {
		Items []Worker `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "requirements/"+url.PathEscape(requirementID)+"/eligible", nil, &resp)
	return resp.Items, err
}

func (c *Client) RegisterWorker(ctx context.Context, profile WorkerProfile) (Worker, error) {
	var resp Worker
	err := c.do(ctx, http.MethodPost, "workers", profile, &resp)
	return resp, err
}

func (c *Client) RegisterSyntheticWorker(ctx context.Context, profile WorkerProfile) (Worker, error) {
	var resp Worker
	err := c.do(ctx, http.MethodPost, "workers/synthetic", profile, &resp)
	return resp, err
}

func (c *Client) UpdateWorker(ctx context.Context, id string, patch WorkerPatch) (Worker, error) {
	var resp Worker
	err := c.do(ctx, http.MethodPatch, "workers/"+url.PathEscape(id), patch, &resp)
	return resp, err
}

func (c *Client) Missions(ctx context.Context, workerID string) ([]Mission, error) {
	var resp struct {
		Items []Mission `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "workers/"+url.PathEscape(workerID)+"/missions", nil, &resp)
	return resp.Items, err
}

// MissionStatus returns open, held, taken or closed.
func (c *Client) MissionStatus(ctx context.Context, workerID, requirementID string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	endpoint := fmt.Sprintf("workers/%s/missions/%s", url.PathEscape(workerID), url.PathEscape(requirementID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Status, err
}

// SweepExpired expires every requirement past its deadline. A zero now uses
// the server clock.
func (c *Client) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	body := map[string]any{}
	if !now.IsZero() {
		body["now"] = now.UTC().Format(time.RFC3339)
	}
	var resp struct {
		Expired int `json:"expired"`
	}
	err := c.do(ctx, http.MethodPost, "sweeps/expire", body, &resp)
	return resp.Expired, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, f EventFilter) (PaginatedEvents, error) {
	q := url.Values{}
	if f.ProjectID != "" {
		q.Set("project_id", f.ProjectID)
	}
	if f.WorkerID != "" {
		q.Set("worker_id", f.WorkerID)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Cursor != "" {
		q.Set("cursor", f.Cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	} else if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}
	return apiErr
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
