package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/controller"
	"github.com/unclebandit/campaign-engine/internal/handler"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/provider"
	"github.com/unclebandit/campaign-engine/internal/repository/memstore"
	"github.com/unclebandit/campaign-engine/internal/service"
)

type stubProvider struct{ channel string }

func (p stubProvider) Channel() string { return p.channel }

func (p stubProvider) Send(_ context.Context, msg provider.Message) (provider.Result, error) {
	return provider.Result{MessageID: fmt.Sprintf("%s-%d", p.channel, msg.SendID)}, nil
}

type testEnv struct {
	store   *memstore.Store
	account *model.Account
	router  http.Handler
	queue   *recordingQueue
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop()
	store := memstore.New()
	now := time.Now()
	acct := store.AddAccount(model.Account{
		Plan:              model.PlanStarter,
		Credits:           100,
		EmailMonthlyLimit: 1000,
		SMSMonthlyLimit:   1000,
		PeriodStart:       model.PeriodOf(now),
		EmailVerification: model.VerificationApproved,
		SMSVerification:   model.VerificationApproved,
	})

	ledger := &service.Ledger{Accounts: store.Accounts, Price: service.NewPricing(nil), Log: log}
	svc := &service.CampaignService{
		CampaignRepo: store.Campaigns,
		ContactRepo:  store.Contacts,
		AccountRepo:  store.Accounts,
		Resolver:     &service.RecipientResolver{Contacts: store.Contacts, Sends: store.Sends, DefaultRegion: "KE", Log: log},
		Ledger:       ledger,
		Dispatcher: &service.Dispatcher{
			Sends:     store.Sends,
			Providers: provider.NewRegistry(stubProvider{model.ChannelEmail}, stubProvider{model.ChannelSMS}),
			Ledger:    ledger,
			Templates: service.NewTemplateService(),
			Log:       log,
		},
		Templates: service.NewTemplateService(),
		Dispatch:  service.ChannelConfig{BatchSize: 50},
		Log:       log,
	}
	q := &recordingQueue{}
	reconciler := &service.Reconciler{Sends: store.Sends, Campaigns: store.Campaigns, Contacts: store.Contacts, Log: log}

	router := handler.NewRouter(handler.Routes{
		Campaigns:     handler.NewCampaignHandler(svc, log),
		CampaignSends: controller.NewCampaignController(svc, log),
		Tracking:      &controller.TrackingController{Queue: q, Secret: trackingSecret, Log: log},
		Webhooks:      &controller.WebhookController{Reconciler: reconciler, Log: log},
		Automations:   &controller.AutomationController{Scheduler: &stubScheduler{}, Secret: "s3cret", Log: log},
	})
	return &testEnv{store: store, account: acct, router: router, queue: q}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) smsCampaign(t *testing.T, listID int) *model.Campaign {
	t.Helper()
	c := &model.Campaign{
		AccountID:     e.account.ID,
		Name:          "Promo",
		Channel:       model.ChannelSMS,
		BaseTemplate:  "Hi {first_name} {last_name}, check out {preferred_product} in {location}!",
		ContactListID: &listID,
	}
	require.NoError(t, e.store.Campaigns.Create(context.Background(), c))
	return c
}

func TestPersonalizedPreviewHandler(t *testing.T) {
	env := newEnv(t)
	c := env.smsCampaign(t, 1)
	contact := env.store.AddContact(model.Contact{
		ListID: 1, FirstName: "Alice", LastName: "Smith", Location: "Nairobi", PreferredProduct: "Shoes",
	})

	w := env.do(http.MethodPost, fmt.Sprintf("/campaigns/%d/personalized-preview", c.ID), map[string]any{"contact_id": contact.ID})
	require.Equal(t, http.StatusOK, w.Code)

	var res map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	msg, ok := res["rendered_message"].(string)
	require.True(t, ok, "rendered_message not found or not a string")
	assert.Equal(t, "Hi Alice Smith, check out Shoes in Nairobi!", msg)

	w = env.do(http.MethodPost, fmt.Sprintf("/campaigns/%d/personalized-preview", c.ID), map[string]any{"contact_id": 999})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListCampaignsPagination(t *testing.T) {
	env := newEnv(t)
	for i := 0; i < 5; i++ {
		env.smsCampaign(t, 1)
	}

	w := env.do(http.MethodGet, "/campaigns?page=2&page_size=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Data       []model.Campaign `json:"data"`
		Pagination map[string]int   `json:"pagination"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Len(t, res.Data, 2)
	assert.Equal(t, 5, res.Pagination["total_count"])
	assert.Equal(t, 3, res.Pagination["total_pages"])
	assert.Equal(t, 2, res.Pagination["page"])
}

func TestCreateAndGetCampaign(t *testing.T) {
	env := newEnv(t)

	w := env.do(http.MethodPost, "/campaigns", map[string]any{
		"account_id": env.account.ID, "name": "New", "channel": "fax", "base_template": "x",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/campaigns", map[string]any{
		"account_id": env.account.ID, "name": "New", "channel": "sms", "base_template": "Hello",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created model.Campaign
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.NotZero(t, created.ID)
	assert.Equal(t, model.CampaignDraft, created.Status)

	w = env.do(http.MethodGet, fmt.Sprintf("/campaigns/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var details service.CampaignDetails
	require.NoError(t, json.NewDecoder(w.Body).Decode(&details))
	assert.Equal(t, "New", details.Name)
	assert.Equal(t, 0, details.Stats["total"])

	w = env.do(http.MethodGet, "/campaigns/12345", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendCampaignEndpoint(t *testing.T) {
	env := newEnv(t)
	for i := 0; i < 3; i++ {
		env.store.AddContact(model.Contact{ListID: 1, Phone: fmt.Sprintf("+25471234567%d", i), SMSOptIn: true})
	}
	c := env.smsCampaign(t, 1)
	path := fmt.Sprintf("/campaigns/%d/send", c.ID)

	w := env.do(http.MethodPost, path, map[string]any{"action": "blast"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, path, map[string]any{"action": "send"})
	require.Equal(t, http.StatusOK, w.Code)
	var summary map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&summary))
	assert.EqualValues(t, 3, summary["sentTo"])
	assert.EqualValues(t, 0, summary["failed"])
	assert.EqualValues(t, 3, summary["creditsDeducted"])
	assert.Equal(t, "sent", summary["status"])

	w = env.do(http.MethodPost, path, map[string]any{"action": "send"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSendCampaignErrorStatuses(t *testing.T) {
	env := newEnv(t)
	for i := 0; i < 3; i++ {
		env.store.AddContact(model.Contact{ListID: 1, Phone: fmt.Sprintf("+25471234567%d", i), SMSOptIn: true})
	}

	// no eligible contacts on list 2
	empty := env.smsCampaign(t, 2)
	w := env.do(http.MethodPost, fmt.Sprintf("/campaigns/%d/send", empty.ID), map[string]any{"action": "send"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// not enough credits
	acct := *env.account
	acct.Credits = 1
	env.store.AddAccount(acct)
	c := env.smsCampaign(t, 1)
	w = env.do(http.MethodPost, fmt.Sprintf("/campaigns/%d/send", c.ID), map[string]any{"action": "send"})
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.EqualValues(t, 3, body["needed"])
	assert.EqualValues(t, 1, body["remaining"])

	// plan without sms
	acct.Credits = 100
	acct.Plan = model.PlanFree
	env.store.AddAccount(acct)
	w = env.do(http.MethodPost, fmt.Sprintf("/campaigns/%d/send", c.ID), map[string]any{"action": "send"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, "/campaigns/abc/send", map[string]any{"action": "send"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, fmt.Sprintf("/campaigns/%d/send", c.ID), "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "invalid JSON"))
}

func TestHealthAndMetrics(t *testing.T) {
	env := newEnv(t)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", nil).Code)
	w := env.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
