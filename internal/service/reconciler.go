package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/metrics"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/provider"
	"github.com/unclebandit/campaign-engine/internal/queue"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

const (
	TrackOpen        = "open"
	TrackClick       = "click"
	TrackUnsubscribe = "unsubscribe"
)

// TrackingEvent is what the tracking endpoints put on the queue.
type TrackingEvent struct {
	Type   string    `json:"type"`
	SendID int       `json:"send_id"`
	URL    string    `json:"url,omitempty"`
	At     time.Time `json:"at"`
}

// Reconciler applies provider callbacks and recipient engagement to delivery
// records and campaign aggregates.
type Reconciler struct {
	Sends     repository.CampaignSendRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Contacts  repository.ContactRepositoryInterface
	Log       *zap.Logger
	Now       func() time.Time
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// ApplyProviderStatus moves a sent record to delivered or failed. Events for
// unknown messages or records already past sent are ignored.
func (r *Reconciler) ApplyProviderStatus(ctx context.Context, ev provider.StatusEvent) (model.DeliveryChange, error) {
	var to model.SendStatus
	switch ev.Status {
	case provider.StatusDelivered:
		to = model.SendDelivered
	case provider.StatusFailed:
		to = model.SendFailed
	default:
		return model.DeliveryChange{}, nil
	}
	at := ev.At
	if at.IsZero() {
		at = r.now()
	}

	change, err := r.Sends.ApplyDeliveryStatus(ctx, ev.ProviderMessageID, to, ev.Reason, at)
	if err != nil {
		return change, fmt.Errorf("apply %s status for %s: %w", ev.Status, ev.ProviderMessageID, err)
	}
	metrics.WebhookEvents.WithLabelValues(ev.Provider, ev.Status, strconv.FormatBool(change.Applied)).Inc()
	if !change.Applied {
		r.Log.Debug("status callback ignored",
			zap.String("provider", ev.Provider), zap.String("message_id", ev.ProviderMessageID), zap.String("status", ev.Status))
	}
	return change, nil
}

func (r *Reconciler) RecordOpen(ctx context.Context, sendID int) (model.Engagement, error) {
	e, err := r.Sends.RecordOpen(ctx, sendID, r.now())
	if err != nil {
		return e, err
	}
	metrics.TrackingEvents.WithLabelValues(TrackOpen, strconv.FormatBool(e.FirstOpen)).Inc()
	return e, nil
}

// RecordClick also records the open when the click is the first sign of
// engagement, since the pixel may have been blocked.
func (r *Reconciler) RecordClick(ctx context.Context, sendID int) (model.Engagement, error) {
	e, err := r.Sends.RecordClick(ctx, sendID, r.now())
	if err != nil {
		return e, err
	}
	metrics.TrackingEvents.WithLabelValues(TrackClick, strconv.FormatBool(e.FirstClick)).Inc()
	if e.FirstOpen {
		metrics.TrackingEvents.WithLabelValues(TrackOpen, "true").Inc()
	}
	return e, nil
}

// RecordUnsubscribe counts the unsubscribe once and clears the contact's
// opt-in for the campaign's channel. The opt-in is cleared on every call for
// an unsubscribed record, so a retry after a failed clear completes it.
func (r *Reconciler) RecordUnsubscribe(ctx context.Context, sendID int) (model.Engagement, error) {
	e, err := r.Sends.RecordUnsubscribe(ctx, sendID, r.now())
	if err != nil {
		return e, err
	}
	metrics.TrackingEvents.WithLabelValues(TrackUnsubscribe, strconv.FormatBool(e.FirstUnsub)).Inc()
	if !e.Unsubscribed {
		return e, nil
	}
	c, err := r.Campaigns.GetByID(ctx, e.CampaignID)
	if err != nil {
		return e, fmt.Errorf("load campaign for unsubscribe: %w", err)
	}
	if err := r.Contacts.Unsubscribe(ctx, e.ContactID, c.Channel); err != nil {
		return e, fmt.Errorf("unsubscribe contact %d: %w", e.ContactID, err)
	}
	if e.FirstUnsub {
		r.Log.Info("contact unsubscribed", zap.Int("contact_id", e.ContactID), zap.String("channel", c.Channel))
	}
	return e, nil
}

// HandleTrackingEvent is the queue handler for TopicTrackingEvents.
func (r *Reconciler) HandleTrackingEvent(payload []byte) error {
	var ev TrackingEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		// malformed payloads will never succeed, so don't retry them
		r.Log.Warn("dropping malformed tracking event", zap.Error(err))
		return nil
	}

	ctx := context.Background()
	var err error
	switch ev.Type {
	case TrackOpen:
		_, err = r.RecordOpen(ctx, ev.SendID)
	case TrackClick:
		_, err = r.RecordClick(ctx, ev.SendID)
	case TrackUnsubscribe:
		_, err = r.RecordUnsubscribe(ctx, ev.SendID)
	default:
		r.Log.Warn("unknown tracking event type", zap.String("type", ev.Type))
	}
	return err
}

// Subscribe registers the tracking handler on q.
func (r *Reconciler) Subscribe(q queue.Queue) error {
	return q.Subscribe(queue.TopicTrackingEvents, r.HandleTrackingEvent)
}
