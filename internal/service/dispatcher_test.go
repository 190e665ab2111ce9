package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/provider"
	"github.com/unclebandit/campaign-engine/internal/service"
)

func resolve(t *testing.T, h *harness, c *model.Campaign) []model.Contact {
	t.Helper()
	recipients, err := h.svc.Resolver.Resolve(context.Background(), c)
	require.NoError(t, err)
	return recipients
}

func TestDispatchHaltsWhenCreditsRunOut(t *testing.T) {
	h := newHarness()
	h.addContacts(120)
	h.updateAccount(func(a *model.Account) { a.Credits = 70 })
	c := h.newCampaign(model.ChannelEmail)

	res, err := h.dispatch.Dispatch(context.Background(), c, resolve(t, h, c), service.ChannelConfig{BatchSize: 50, BatchDelay: time.Second})
	require.NoError(t, err)

	assert.True(t, res.Halted)
	assert.Contains(t, res.HaltReason, "insufficient credits")
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, 50, res.SuccessCount)
	assert.Equal(t, 50, res.CreditsDeducted)
	assert.Equal(t, 20, h.credits())

	// the rest were never touched and can be picked up later
	assert.Len(t, h.store.SendsForCampaign(c.ID), 50)
	assert.Len(t, resolve(t, h, c), 70)
}

// spendingProvider spends credits elsewhere on the account while the first
// message of a batch is in flight.
type spendingProvider struct {
	*fakeProvider
	h      *harness
	amount int
	once   sync.Once
}

func (p *spendingProvider) Send(ctx context.Context, msg provider.Message) (provider.Result, error) {
	p.once.Do(func() {
		err := p.h.store.Accounts.Deduct(ctx, &model.LedgerEntry{
			AccountID:      p.h.account.ID,
			Operation:      "content_generation",
			Units:          1,
			Credits:        p.amount,
			IdempotencyKey: "elsewhere",
			CreatedAt:      fixedNow,
		}, model.UsageDelta{})
		if err != nil {
			panic(err)
		}
	})
	return p.fakeProvider.Send(ctx, msg)
}

func TestDispatchChargesEverySentMessage(t *testing.T) {
	h := newHarness()
	h.addContacts(50)
	h.updateAccount(func(a *model.Account) { a.Credits = 60 })
	spender := &spendingProvider{fakeProvider: h.email, h: h, amount: 30}
	h.dispatch.Providers = provider.NewRegistry(spender, h.sms)
	c := h.newCampaign(model.ChannelEmail)

	res, err := h.dispatch.Dispatch(context.Background(), c, resolve(t, h, c), service.ChannelConfig{BatchSize: 50})
	require.NoError(t, err)

	assert.False(t, res.Halted)
	assert.Equal(t, 50, res.SuccessCount)
	assert.Equal(t, res.SuccessCount, res.CreditsDeducted)
	assert.Equal(t, 60-30-50, h.credits())

	charged := 0
	for _, e := range h.store.Ledger() {
		if e.Operation == string(service.OpEmail) {
			charged += e.Units
		}
	}
	assert.Equal(t, 50, charged)
}

type nameCompositor struct{ fail bool }

func (c nameCompositor) Compose(_ context.Context, base string, fields map[string]string) (string, error) {
	if c.fail {
		return "", errors.New("renderer down")
	}
	return base + "?name=" + fields["first_name"], nil
}

func TestDispatchComposesMediaPerRecipient(t *testing.T) {
	h := newHarness()
	h.addContacts(2)
	c := h.newCampaign(model.ChannelSMS)
	c.MediaURL = "https://media.example.com/a.png"
	h.dispatch.Compositor = nameCompositor{}

	_, err := h.dispatch.Dispatch(context.Background(), c, resolve(t, h, c), service.ChannelConfig{BatchSize: 50})
	require.NoError(t, err)
	sent := h.sms.Sent()
	require.Len(t, sent, 2)
	assert.ElementsMatch(t, []string{
		"https://media.example.com/a.png?name=User0",
		"https://media.example.com/a.png?name=User1",
	}, []string{sent[0].MediaURL, sent[1].MediaURL})

	// a failing compositor falls back to the base image
	h = newHarness()
	h.addContacts(1)
	c = h.newCampaign(model.ChannelSMS)
	c.MediaURL = "https://media.example.com/a.png"
	h.dispatch.Compositor = nameCompositor{fail: true}
	res, err := h.dispatch.Dispatch(context.Background(), c, resolve(t, h, c), service.ChannelConfig{BatchSize: 50})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, "https://media.example.com/a.png", h.sms.Sent()[0].MediaURL)
}

func TestDispatchSingleBatchHasNoDelay(t *testing.T) {
	h := newHarness()
	h.addContacts(50)
	c := h.newCampaign(model.ChannelEmail)

	res, err := h.dispatch.Dispatch(context.Background(), c, resolve(t, h, c), service.ChannelConfig{BatchSize: 50, BatchDelay: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Batches)
	assert.Empty(t, h.sleeps)
}

func TestDispatchDefaultBatchSize(t *testing.T) {
	h := newHarness()
	h.addContacts(101)
	c := h.newCampaign(model.ChannelEmail)

	res, err := h.dispatch.Dispatch(context.Background(), c, resolve(t, h, c), service.ChannelConfig{BatchDelay: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Batches)
	assert.Len(t, h.sleeps, 2)
}

func TestDispatchContinuesWhenDelayCutShort(t *testing.T) {
	h := newHarness()
	h.addContacts(120)
	c := h.newCampaign(model.ChannelEmail)
	h.dispatch.Sleep = func(context.Context, time.Duration) error { return context.Canceled }

	res, err := h.dispatch.Dispatch(context.Background(), c, resolve(t, h, c), service.ChannelConfig{BatchSize: 50, BatchDelay: time.Second})
	require.NoError(t, err)
	assert.False(t, res.Halted)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, 120, res.SuccessCount)
}

func TestDispatchSkipsExistingRecords(t *testing.T) {
	h := newHarness()
	contacts := h.addContacts(3)
	c := h.newCampaign(model.ChannelEmail)
	recipients := resolve(t, h, c)

	// another run created this record after we resolved
	_, _, err := h.store.Sends.CreatePending(context.Background(), c.ID, contacts[1].ID)
	require.NoError(t, err)

	res, err := h.dispatch.Dispatch(context.Background(), c, recipients, service.ChannelConfig{BatchSize: 50})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 0, res.FailureCount)
	assert.Len(t, h.email.Sent(), 2)
}

func TestDispatchUnknownChannel(t *testing.T) {
	h := newHarness()
	c := &model.Campaign{ID: 1, Channel: "fax"}
	_, err := h.dispatch.Dispatch(context.Background(), c, []model.Contact{{ID: 1}}, service.ChannelConfig{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
