package controller

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/provider"
)

const maxWebhookBody = 1 << 20

// StatusApplier is the part of the reconciler the webhooks need.
type StatusApplier interface {
	ApplyProviderStatus(ctx context.Context, ev provider.StatusEvent) (model.DeliveryChange, error)
}

// WebhookController receives provider delivery-status callbacks. Once a
// payload parses, the provider always gets 200; recording errors are logged.
type WebhookController struct {
	Reconciler StatusApplier
	HTTPClient *http.Client
	Log        *zap.Logger
}

func (c *WebhookController) read(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		WriteError(w, c.Log, appErrors.NewValidation("body", "unreadable"))
		return nil, false
	}
	return body, true
}

func (c *WebhookController) apply(ctx context.Context, events []provider.StatusEvent) int {
	applied := 0
	for _, ev := range events {
		change, err := c.Reconciler.ApplyProviderStatus(ctx, ev)
		if err != nil {
			c.Log.Error("applying delivery status failed",
				zap.String("provider", ev.Provider), zap.String("message_id", ev.ProviderMessageID), zap.Error(err))
			continue
		}
		if change.Applied {
			applied++
		}
	}
	return applied
}

func (c *WebhookController) SES(w http.ResponseWriter, r *http.Request) {
	body, ok := c.read(w, r)
	if !ok {
		return
	}
	hook, err := provider.ParseSES(body)
	if err != nil {
		WriteError(w, c.Log, appErrors.NewValidation("body", err.Error()))
		return
	}
	if hook.SubscribeURL != "" {
		c.confirmSubscription(r.Context(), hook.SubscribeURL)
		WriteJSON(w, http.StatusOK, map[string]string{"status": "subscription confirmed"})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"received": len(hook.Events), "applied": c.apply(r.Context(), hook.Events)})
}

// confirmSubscription visits the SNS SubscribeURL. Only AWS hosts are followed.
func (c *WebhookController) confirmSubscription(ctx context.Context, raw string) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || !strings.HasSuffix(u.Hostname(), ".amazonaws.com") {
		c.Log.Warn("ignoring SNS subscribe URL", zap.String("url", raw))
		return
	}
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		c.Log.Warn("building SNS confirmation request failed", zap.Error(err))
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		c.Log.Error("confirming SNS subscription failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	c.Log.Info("SNS subscription confirmed", zap.Int("status", resp.StatusCode))
}

func (c *WebhookController) SendGrid(w http.ResponseWriter, r *http.Request) {
	body, ok := c.read(w, r)
	if !ok {
		return
	}
	events, err := provider.ParseSendGrid(body)
	if err != nil {
		WriteError(w, c.Log, appErrors.NewValidation("body", err.Error()))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"received": len(events), "applied": c.apply(r.Context(), events)})
}

func (c *WebhookController) SMS(w http.ResponseWriter, r *http.Request) {
	body, ok := c.read(w, r)
	if !ok {
		return
	}
	events, err := provider.ParseSMS(body)
	if err != nil {
		WriteError(w, c.Log, appErrors.NewValidation("body", err.Error()))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"received": len(events), "applied": c.apply(r.Context(), events)})
}
