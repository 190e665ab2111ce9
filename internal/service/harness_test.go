package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/provider"
	"github.com/unclebandit/campaign-engine/internal/queue"
	"github.com/unclebandit/campaign-engine/internal/repository/memstore"
	"github.com/unclebandit/campaign-engine/internal/service"
)

// fakeProvider records every message and rejects the addresses in fail.
type fakeProvider struct {
	channel string
	fail    map[string]bool

	mu   sync.Mutex
	sent []provider.Message
	seq  int
}

func newFakeProvider(channel string) *fakeProvider {
	return &fakeProvider{channel: channel, fail: map[string]bool{}}
}

func (f *fakeProvider) Channel() string { return f.channel }

func (f *fakeProvider) Send(ctx context.Context, msg provider.Message) (provider.Result, error) {
	if err := ctx.Err(); err != nil {
		return provider.Result{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[msg.To] {
		return provider.Result{}, errors.New("recipient rejected")
	}
	f.seq++
	f.sent = append(f.sent, msg)
	return provider.Result{MessageID: fmt.Sprintf("msg-%d", f.seq)}, nil
}

func (f *fakeProvider) Sent() []provider.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Message(nil), f.sent...)
}

// fakeQueue keeps published payloads instead of delivering them.
type fakeQueue struct {
	mu        sync.Mutex
	published map[string][]any
}

func (q *fakeQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.published == nil {
		q.published = map[string][]any{}
	}
	q.published[topic] = append(q.published[topic], payload)
	return nil
}

func (q *fakeQueue) Subscribe(string, queue.Handler) error { return nil }

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type harness struct {
	store     *memstore.Store
	email     *fakeProvider
	sms       *fakeProvider
	queue     *fakeQueue
	sleeps    []time.Duration
	ledger    *service.Ledger
	dispatch  *service.Dispatcher
	svc       *service.CampaignService
	reconcile *service.Reconciler
	account   *model.Account
}

func newHarness() *harness {
	h := &harness{
		store: memstore.New(),
		email: newFakeProvider(model.ChannelEmail),
		sms:   newFakeProvider(model.ChannelSMS),
		queue: &fakeQueue{},
	}
	log := zap.NewNop()
	now := func() time.Time { return fixedNow }

	h.account = h.store.AddAccount(model.Account{
		Name:              "Acme",
		OwnerEmail:        "owner@acme.test",
		Plan:              model.PlanPro,
		Credits:           1000,
		EmailMonthlyLimit: 10000,
		SMSMonthlyLimit:   10000,
		PeriodStart:       model.PeriodOf(fixedNow),
		EmailVerification: model.VerificationApproved,
		SMSVerification:   model.VerificationApproved,
	})

	h.ledger = &service.Ledger{
		Accounts: h.store.Accounts,
		Price:    service.NewPricing(nil),
		Now:      now,
		Log:      log,
	}
	h.dispatch = &service.Dispatcher{
		Sends:     h.store.Sends,
		Providers: provider.NewRegistry(h.email, h.sms),
		Ledger:    h.ledger,
		Templates: service.NewTemplateService(),
		Log:       log,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		},
		Now: now,
	}
	h.svc = &service.CampaignService{
		CampaignRepo: h.store.Campaigns,
		ContactRepo:  h.store.Contacts,
		AccountRepo:  h.store.Accounts,
		Resolver: &service.RecipientResolver{
			Contacts:      h.store.Contacts,
			Sends:         h.store.Sends,
			DefaultRegion: "US",
			Log:           log,
		},
		Ledger:     h.ledger,
		Dispatcher: h.dispatch,
		Templates:  service.NewTemplateService(),
		Queue:      h.queue,
		Dispatch: service.ChannelConfig{
			BatchSize:  50,
			BatchDelay: time.Second,
			Tracking:   service.TrackingLinks{BaseURL: "https://t.example.com", Secret: "track-secret"},
		},
		Log: log,
		Now: now,
	}
	h.reconcile = &service.Reconciler{
		Sends:     h.store.Sends,
		Campaigns: h.store.Campaigns,
		Contacts:  h.store.Contacts,
		Log:       log,
		Now:       now,
	}
	return h
}

const listID = 7

// addContacts seeds n opted-in contacts on listID.
func (h *harness) addContacts(n int) []*model.Contact {
	out := make([]*model.Contact, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, h.store.AddContact(model.Contact{
			AccountID:  h.account.ID,
			ListID:     listID,
			Email:      fmt.Sprintf("user%d@example.com", i),
			Phone:      fmt.Sprintf("+1650253%04d", i),
			FirstName:  fmt.Sprintf("User%d", i),
			EmailOptIn: true,
			SMSOptIn:   true,
		}))
	}
	return out
}

func (h *harness) newCampaign(channel string) *model.Campaign {
	list := listID
	c := &model.Campaign{
		AccountID:     h.account.ID,
		Name:          "Spring sale",
		Channel:       channel,
		Subject:       "Hello {first_name}",
		BaseTemplate:  `<p>Hi {first_name}, see <a href="https://shop.example.com/sale">the sale</a></p>`,
		ContactListID: &list,
	}
	if err := h.store.Campaigns.Create(context.Background(), c); err != nil {
		panic(err)
	}
	return c
}

func (h *harness) campaign(id int) *model.Campaign {
	c, err := h.store.Campaigns.GetByID(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return c
}

func (h *harness) credits() int {
	a, err := h.store.Accounts.GetByID(context.Background(), h.account.ID)
	if err != nil {
		panic(err)
	}
	return a.Credits
}

// updateAccount rewrites the seeded account.
func (h *harness) updateAccount(fn func(a *model.Account)) {
	a := *h.account
	fn(&a)
	h.account = h.store.AddAccount(a)
}
