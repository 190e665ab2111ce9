package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/provider"
	"github.com/unclebandit/campaign-engine/internal/repository"
	"github.com/unclebandit/campaign-engine/internal/service"
)

// sentCampaign sends an email campaign to n contacts and returns it with its records.
func sentCampaign(t *testing.T, h *harness, n int) (*model.Campaign, []model.CampaignSend) {
	t.Helper()
	h.addContacts(n)
	c := h.newCampaign(model.ChannelEmail)
	_, err := h.svc.SendCampaign(context.Background(), c.ID, sendNow)
	require.NoError(t, err)
	return c, h.store.SendsForCampaign(c.ID)
}

func TestDeliveredWebhookIsIdempotent(t *testing.T) {
	h := newHarness()
	c, sends := sentCampaign(t, h, 3)
	ctx := context.Background()
	ev := provider.StatusEvent{Provider: "ses", ProviderMessageID: sends[0].ProviderMessageID, Status: provider.StatusDelivered}

	change, err := h.reconcile.ApplyProviderStatus(ctx, ev)
	require.NoError(t, err)
	assert.True(t, change.Applied)
	assert.Equal(t, c.ID, change.CampaignID)

	change, err = h.reconcile.ApplyProviderStatus(ctx, ev)
	require.NoError(t, err)
	assert.False(t, change.Applied)

	stored := h.campaign(c.ID)
	assert.Equal(t, 1, stored.DeliveredCount)
	assert.Equal(t, 3, stored.SentCount)
	assert.GreaterOrEqual(t, stored.SentCount, stored.DeliveredCount)
}

func TestBounceMarksFailed(t *testing.T) {
	h := newHarness()
	c, sends := sentCampaign(t, h, 2)
	ctx := context.Background()

	_, err := h.reconcile.ApplyProviderStatus(ctx, provider.StatusEvent{
		Provider: "sendgrid", ProviderMessageID: sends[1].ProviderMessageID, Status: provider.StatusFailed, Reason: "mailbox full",
	})
	require.NoError(t, err)

	stored := h.campaign(c.ID)
	assert.Equal(t, 1, stored.FailedCount)
	record := h.store.SendsForCampaign(c.ID)[1]
	assert.Equal(t, model.SendFailed, record.Status)
	assert.Equal(t, "mailbox full", record.FailureReason)

	// a late delivery report cannot resurrect a failed record
	change, err := h.reconcile.ApplyProviderStatus(ctx, provider.StatusEvent{
		ProviderMessageID: sends[1].ProviderMessageID, Status: provider.StatusDelivered,
	})
	require.NoError(t, err)
	assert.False(t, change.Applied)
	assert.Equal(t, 0, h.campaign(c.ID).DeliveredCount)
}

func TestUnknownMessageIDIgnored(t *testing.T) {
	h := newHarness()
	change, err := h.reconcile.ApplyProviderStatus(context.Background(), provider.StatusEvent{
		ProviderMessageID: "nope", Status: provider.StatusDelivered,
	})
	require.NoError(t, err)
	assert.False(t, change.Applied)
}

func TestClickWithoutOpenRecordsBoth(t *testing.T) {
	h := newHarness()
	c, sends := sentCampaign(t, h, 1)
	ctx := context.Background()

	e, err := h.reconcile.RecordClick(ctx, sends[0].ID)
	require.NoError(t, err)
	assert.True(t, e.FirstClick)
	assert.True(t, e.FirstOpen)

	stored := h.campaign(c.ID)
	assert.Equal(t, 1, stored.OpenedCount)
	assert.Equal(t, 1, stored.ClickedCount)

	record := h.store.SendsForCampaign(c.ID)[0]
	require.NotNil(t, record.OpenedAt)
	require.NotNil(t, record.ClickedAt)
	assert.Equal(t, model.SendClicked, record.Status)

	// repeats bump the per-record counters only
	_, err = h.reconcile.RecordClick(ctx, sends[0].ID)
	require.NoError(t, err)
	_, err = h.reconcile.RecordOpen(ctx, sends[0].ID)
	require.NoError(t, err)

	stored = h.campaign(c.ID)
	assert.Equal(t, 1, stored.OpenedCount)
	assert.Equal(t, 1, stored.ClickedCount)
	record = h.store.SendsForCampaign(c.ID)[0]
	assert.Equal(t, 2, record.ClickCount)
	assert.Equal(t, 2, record.OpenCount)
}

func TestOpenIgnoredOnFailedRecord(t *testing.T) {
	h := newHarness()
	h.email.fail["user0@example.com"] = true
	c, sends := sentCampaign(t, h, 1)

	e, err := h.reconcile.RecordOpen(context.Background(), sends[0].ID)
	require.NoError(t, err)
	assert.True(t, e.Known)
	assert.False(t, e.FirstOpen)
	assert.Equal(t, 0, h.campaign(c.ID).OpenedCount)
}

func TestUnsubscribeClearsOptIn(t *testing.T) {
	h := newHarness()
	c, sends := sentCampaign(t, h, 1)
	ctx := context.Background()

	e, err := h.reconcile.RecordUnsubscribe(ctx, sends[0].ID)
	require.NoError(t, err)
	assert.True(t, e.FirstUnsub)

	_, err = h.reconcile.RecordUnsubscribe(ctx, sends[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.campaign(c.ID).UnsubscribedCount)

	contact, err := h.store.Contacts.GetByID(ctx, sends[0].ContactID)
	require.NoError(t, err)
	assert.False(t, contact.EmailOptIn)
	assert.True(t, contact.SMSOptIn)
}

// flakyContacts fails the next n unsubscribes.
type flakyContacts struct {
	repository.ContactRepositoryInterface
	n int
}

func (f *flakyContacts) Unsubscribe(ctx context.Context, contactID int, channel string) error {
	if f.n > 0 {
		f.n--
		return errors.New("db blip")
	}
	return f.ContactRepositoryInterface.Unsubscribe(ctx, contactID, channel)
}

func TestUnsubscribeRetryClearsOptIn(t *testing.T) {
	h := newHarness()
	c, sends := sentCampaign(t, h, 1)
	h.reconcile.Contacts = &flakyContacts{ContactRepositoryInterface: h.store.Contacts, n: 1}

	payload, err := json.Marshal(service.TrackingEvent{Type: service.TrackUnsubscribe, SendID: sends[0].ID})
	require.NoError(t, err)

	assert.Error(t, h.reconcile.HandleTrackingEvent(payload))
	require.NoError(t, h.reconcile.HandleTrackingEvent(payload))

	contact, err := h.store.Contacts.GetByID(context.Background(), sends[0].ContactID)
	require.NoError(t, err)
	assert.False(t, contact.EmailOptIn)
	assert.Equal(t, 1, h.campaign(c.ID).UnsubscribedCount)
}

func TestHandleTrackingEvent(t *testing.T) {
	h := newHarness()
	c, sends := sentCampaign(t, h, 2)

	payload, err := json.Marshal(service.TrackingEvent{Type: service.TrackOpen, SendID: sends[1].ID})
	require.NoError(t, err)
	require.NoError(t, h.reconcile.HandleTrackingEvent(payload))
	assert.Equal(t, 1, h.campaign(c.ID).OpenedCount)

	// malformed jobs are dropped, not retried
	assert.NoError(t, h.reconcile.HandleTrackingEvent([]byte("{")))
	assert.NoError(t, h.reconcile.HandleTrackingEvent([]byte(`{"type":"bogus","send_id":1}`)))
}
