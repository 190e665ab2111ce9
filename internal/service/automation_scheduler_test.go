package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/content"
	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/lock"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/service"
)

func intPtr(n int) *int { return &n }

func timePtr(t time.Time) *time.Time { return &t }

func TestIsDue(t *testing.T) {
	// fixedNow is Tuesday 2026-03-10 09:00 UTC
	tests := []struct {
		name string
		a    model.Automation
		now  time.Time
		want bool
	}{
		{
			name: "daily past cooldown",
			a:    model.Automation{Frequency: "DAILY", TimeOfDay: "09:00", LastTriggeredAt: timePtr(fixedNow.Add(-25 * time.Hour))},
			now:  fixedNow,
			want: true,
		},
		{
			name: "daily inside cooldown",
			a:    model.Automation{Frequency: "DAILY", TimeOfDay: "09:00", LastTriggeredAt: timePtr(fixedNow.Add(-20 * time.Hour))},
			now:  fixedNow,
			want: false,
		},
		{
			name: "never triggered",
			a:    model.Automation{Frequency: "DAILY", TimeOfDay: "08:40"},
			now:  fixedNow,
			want: true,
		},
		{
			name: "outside window",
			a:    model.Automation{Frequency: "DAILY", TimeOfDay: "08:29"},
			now:  fixedNow,
			want: false,
		},
		{
			name: "window edge",
			a:    model.Automation{Frequency: "DAILY", TimeOfDay: "09:30"},
			now:  fixedNow,
			want: true,
		},
		{
			name: "across midnight",
			a:    model.Automation{Frequency: "DAILY", TimeOfDay: "23:50"},
			now:  time.Date(2026, 3, 11, 0, 10, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "weekly on the right day",
			a:    model.Automation{Frequency: "WEEKLY", TimeOfDay: "09:00", DayOfWeek: intPtr(int(time.Tuesday))},
			now:  fixedNow,
			want: true,
		},
		{
			name: "weekly on the wrong day",
			a:    model.Automation{Frequency: "WEEKLY", TimeOfDay: "09:00", DayOfWeek: intPtr(int(time.Monday))},
			now:  fixedNow,
			want: false,
		},
		{
			name: "weekly cooldown",
			a: model.Automation{Frequency: "WEEKLY", TimeOfDay: "09:00", DayOfWeek: intPtr(int(time.Tuesday)),
				LastTriggeredAt: timePtr(fixedNow.Add(-100 * time.Hour))},
			now:  fixedNow,
			want: false,
		},
		{
			name: "monthly not the first",
			a:    model.Automation{Frequency: "MONTHLY", TimeOfDay: "09:00"},
			now:  fixedNow,
			want: false,
		},
		{
			name: "monthly on the first",
			a: model.Automation{Frequency: "MONTHLY", TimeOfDay: "09:00",
				LastTriggeredAt: timePtr(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))},
			now:  time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "missing time",
			a:    model.Automation{Frequency: "DAILY"},
			now:  fixedNow,
			want: false,
		},
		{
			name: "unknown frequency",
			a:    model.Automation{Frequency: "HOURLY", TimeOfDay: "09:00"},
			now:  fixedNow,
			want: false,
		},
		{
			name: "bad time",
			a:    model.Automation{Frequency: "DAILY", TimeOfDay: "9am"},
			now:  fixedNow,
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, service.IsDue(&tt.a, tt.now, 30))
		})
	}
}

type failingGenerator struct{ err error }

func (f failingGenerator) Generate(context.Context, content.Request) (content.Content, error) {
	return content.Content{}, f.err
}

// ctxGenerator fails like a real model client once ctx is done.
type ctxGenerator struct{}

func (ctxGenerator) Generate(ctx context.Context, req content.Request) (content.Content, error) {
	if err := ctx.Err(); err != nil {
		return content.Content{}, err
	}
	return content.PromptGenerator{}.Generate(ctx, req)
}

type fakeMedia struct{ keys []string }

func (f *fakeMedia) GenerateImage(_ context.Context, _, key string) (string, error) {
	f.keys = append(f.keys, key)
	return "https://media.example.com/" + key, nil
}

func newScheduler(h *harness) *service.AutomationScheduler {
	return &service.AutomationScheduler{
		Automations:   h.store.Automations,
		Ledger:        h.ledger,
		Generator:     content.PromptGenerator{},
		Locker:        lock.NewLocalLocker(),
		LockTTL:       time.Minute,
		WindowMinutes: 30,
		Log:           zap.NewNop(),
	}
}

func (h *harness) dailyAutomation(lastTriggered time.Time) *model.Automation {
	list := listID
	return h.store.AddAutomation(model.Automation{
		AccountID:       h.account.ID,
		Name:            "Morning deal",
		Enabled:         true,
		Channel:         model.ChannelSMS,
		ContactListID:   &list,
		Prompt:          "Today only: 2 for 1 on {preferred_product}",
		Frequency:       model.FrequencyDaily,
		TimeOfDay:       "09:00",
		LastTriggeredAt: &lastTriggered,
	})
}

func TestSchedulerTriggersOncePerWindow(t *testing.T) {
	h := newHarness()
	a := h.dailyAutomation(fixedNow.Add(-25 * time.Hour))
	s := newScheduler(h)
	ctx := context.Background()

	report, err := s.Run(ctx, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Triggered)
	require.Len(t, report.Results, 1)
	assert.Equal(t, service.ResultTriggered, report.Results[0].Outcome)
	assert.Equal(t, 5, report.Results[0].Credits)

	// polled again inside the same window
	report, err = s.Run(ctx, fixedNow.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 0, report.Triggered)

	stored := h.store.Automation(a.ID)
	assert.Equal(t, 1, stored.GeneratedCount)
	assert.Equal(t, 5, stored.CreditsSpent)
	require.NotNil(t, stored.LastTriggeredAt)
	assert.True(t, stored.LastTriggeredAt.Equal(fixedNow))
	assert.Equal(t, 995, h.credits())

	ledger := h.store.Ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, "content_generation", ledger[0].Operation)
}

func TestSchedulerNotDueInsideCooldown(t *testing.T) {
	h := newHarness()
	h.dailyAutomation(fixedNow.Add(-20 * time.Hour))

	report, err := newScheduler(h).Run(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 0, report.Triggered)
	assert.Empty(t, report.Results)
}

func TestSchedulerOutputFeedsDispatch(t *testing.T) {
	h := newHarness()
	h.addContacts(3)
	h.dailyAutomation(fixedNow.Add(-48 * time.Hour))
	ctx := context.Background()

	report, err := newScheduler(h).Run(ctx, fixedNow)
	require.NoError(t, err)
	require.Equal(t, 1, report.Triggered)

	c := h.campaign(report.Results[0].CampaignID)
	assert.Equal(t, model.CampaignScheduled, c.Status)
	require.NotNil(t, c.AutomationID)

	summaries, err := h.svc.DispatchDue(ctx, fixedNow)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 3, summaries[0].SentTo)

	sent := h.sms.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "Today only: 2 for 1 on {preferred_product}", c.BaseTemplate)
	assert.Equal(t, "Today only: 2 for 1 on ", sent[0].Body)
	assert.Equal(t, 1000-5-3, h.credits())
}

func TestSchedulerSkipsWhenCreditsShort(t *testing.T) {
	h := newHarness()
	h.updateAccount(func(a *model.Account) { a.Credits = 3 })
	last := fixedNow.Add(-30 * time.Hour)
	a := h.dailyAutomation(last)

	report, err := newScheduler(h).Run(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Contains(t, report.Results[0].Reason, "insufficient credits")

	stored := h.store.Automation(a.ID)
	assert.True(t, stored.LastTriggeredAt.Equal(last))
	assert.Equal(t, 0, stored.Version)
	assert.Equal(t, 3, h.credits())
}

func TestSchedulerReleasesClaimOnFailure(t *testing.T) {
	h := newHarness()
	last := fixedNow.Add(-30 * time.Hour)
	a := h.dailyAutomation(last)
	s := newScheduler(h)
	s.Generator = failingGenerator{err: errors.New("model unavailable")}
	ctx := context.Background()

	report, err := s.Run(ctx, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Results[0].Reason, "model unavailable")

	stored := h.store.Automation(a.ID)
	assert.True(t, stored.LastTriggeredAt.Equal(last))
	assert.Equal(t, 0, stored.GeneratedCount)
	assert.Equal(t, 1000, h.credits())

	// due again on the next poll
	s.Generator = content.PromptGenerator{}
	report, err = s.Run(ctx, fixedNow.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Triggered)
}

func TestSchedulerRunsToCompletionAfterCallerCancels(t *testing.T) {
	h := newHarness()
	a := h.dailyAutomation(fixedNow.Add(-30 * time.Hour))
	s := newScheduler(h)
	s.Generator = ctxGenerator{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := s.Run(ctx, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Triggered)
	assert.Equal(t, 1, h.store.Automation(a.ID).GeneratedCount)
	assert.Equal(t, 995, h.credits())
}

func TestSchedulerGeneratesMedia(t *testing.T) {
	h := newHarness()
	list := listID
	a := h.store.AddAutomation(model.Automation{
		AccountID: h.account.ID, Name: "Weekly look", Enabled: true, Channel: model.ChannelSMS,
		ContactListID: &list, Prompt: "New arrivals", GenerateMedia: true,
		Frequency: model.FrequencyWeekly, DayOfWeek: intPtr(int(time.Tuesday)), TimeOfDay: "09:15",
	})
	media := &fakeMedia{}
	s := newScheduler(h)
	s.Media = media

	report, err := s.Run(context.Background(), fixedNow)
	require.NoError(t, err)
	require.Equal(t, 1, report.Triggered)
	assert.Equal(t, 15, report.Results[0].Credits)
	require.Len(t, media.keys, 1)
	assert.Contains(t, media.keys[0], "automations/")

	c := h.campaign(report.Results[0].CampaignID)
	assert.Equal(t, "https://media.example.com/"+media.keys[0], c.MediaURL)
	assert.Equal(t, 15, h.store.Automation(a.ID).CreditsSpent)
}

func TestSchedulerIgnoresInactiveAutomations(t *testing.T) {
	h := newHarness()
	h.store.AddAutomation(model.Automation{AccountID: h.account.ID, Enabled: false, Frequency: "DAILY", TimeOfDay: "09:00"})
	h.store.AddAutomation(model.Automation{
		AccountID: h.account.ID, Enabled: true, Frequency: "DAILY", TimeOfDay: "09:00",
		EndDate: timePtr(fixedNow.Add(-time.Hour)),
	})

	report, err := newScheduler(h).Run(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)
}

func TestSchedulerBusy(t *testing.T) {
	h := newHarness()
	s := newScheduler(h)
	ctx := context.Background()
	unlock, ok, err := s.Locker.TryLock(ctx, "automation-scheduler", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Run(ctx, fixedNow)
	assert.ErrorIs(t, err, appErrors.ErrSchedulerBusy)

	require.NoError(t, unlock(ctx))
	_, err = s.Run(ctx, fixedNow)
	assert.NoError(t, err)
}
