package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/config"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

const (
	DeliveryProvision    = "requirement.provision"
	DeliveryOfferOpen    = "offer.available"
	DeliveryMissionTaken = "mission.taken"
)

// Webhooks posts every delivery to each enabled webhook. It serves as both
// Hooks and Notifier.
type Webhooks struct {
	hooks  []config.WebhookConfig
	client *http.Client
}

func NewWebhooks(hooks []config.WebhookConfig) *Webhooks {
	enabled := make([]config.WebhookConfig, 0, len(hooks))
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		enabled = append(enabled, hook)
	}
	return &Webhooks{hooks: enabled, client: &http.Client{Timeout: defaultWebhookTimeout}}
}

// Len is the number of enabled webhooks.
func (w *Webhooks) Len() int { return len(w.hooks) }

type delivery struct {
	Type          string `json:"type"`
	RequirementID string `json:"requirement_id"`
	Data          any    `json:"data"`
}

func (w *Webhooks) Provision(ctx context.Context, req domain.ProvisionRequest) error {
	return w.deliver(ctx, DeliveryProvision, req.ProjectID, delivery{Type: DeliveryProvision, RequirementID: req.RequirementID, Data: req})
}

func (w *Webhooks) OfferAvailable(ctx context.Context, n domain.OfferNotice) error {
	return w.deliver(ctx, DeliveryOfferOpen, n.ProjectID, delivery{Type: DeliveryOfferOpen, RequirementID: n.RequirementID, Data: n})
}

func (w *Webhooks) MissionTaken(ctx context.Context, n domain.TakenNotice) error {
	return w.deliver(ctx, DeliveryMissionTaken, n.ProjectID, delivery{Type: DeliveryMissionTaken, RequirementID: n.RequirementID, Data: n})
}

// deliver posts to every hook. A retry resends to all of them, so receivers
// dedupe on the delivery header.
func (w *Webhooks) deliver(ctx context.Context, kind, projectID string, body delivery) error {
	data, err := json.Marshal(body)
	if err != nil {
		return Permanent(err)
	}
	var errs []error
	allPermanent := true
	for _, hook := range w.hooks {
		if err := w.post(ctx, hook, kind, projectID, body.RequirementID, data); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", hookName(hook), err))
			if !IsPermanent(err) {
				allPermanent = false
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	joined := errors.Join(errs...)
	if allPermanent {
		return Permanent(joined)
	}
	return joined
}

func (w *Webhooks) post(ctx context.Context, hook config.WebhookConfig, kind, projectID, requirementID string, data []byte) error {
	client := w.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Teamdash-Event", kind)
	req.Header.Set("X-Teamdash-Delivery", kind+":"+requirementID)
	req.Header.Set("X-Teamdash-Project", projectID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Teamdash-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	err = fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests && res.StatusCode != http.StatusRequestTimeout {
		return Permanent(err)
	}
	return err
}

func hookName(hook config.WebhookConfig) string {
	if hook.Name != "" {
		return hook.Name
	}
	return hook.URL
}
