package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/content"
	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/lock"
	"github.com/unclebandit/campaign-engine/internal/metrics"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

const (
	schedulerLockKey     = "automation-scheduler"
	defaultWindowMinutes = 30
	minutesPerDay        = 24 * 60
)

var cooldowns = map[string]time.Duration{
	model.FrequencyDaily:   23 * time.Hour,
	model.FrequencyWeekly:  144 * time.Hour,
	model.FrequencyMonthly: 648 * time.Hour,
}

const (
	ResultTriggered = "triggered"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)

type AutomationResult struct {
	AutomationID int    `json:"automation_id"`
	Name         string `json:"name"`
	Outcome      string `json:"outcome"`
	CampaignID   int    `json:"campaign_id,omitempty"`
	Credits      int    `json:"credits,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type RunReport struct {
	Checked   int                `json:"checked"`
	Triggered int                `json:"triggered"`
	Failed    int                `json:"failed"`
	Skipped   int                `json:"skipped"`
	Results   []AutomationResult `json:"results"`
}

func (r *RunReport) add(res AutomationResult) {
	switch res.Outcome {
	case ResultTriggered:
		r.Triggered++
	case ResultSkipped:
		r.Skipped++
	case ResultFailed:
		r.Failed++
	}
	metrics.AutomationRuns.WithLabelValues(res.Outcome).Inc()
	r.Results = append(r.Results, res)
}

// parseTimeOfDay turns "HH:MM" into minutes after midnight.
func parseTimeOfDay(s string) (int, bool) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// IsDue reports whether a should fire at now. now must be within window
// minutes of the automation's time of day (either side of midnight), on the
// right weekday for WEEKLY and on the 1st for MONTHLY, and the frequency's
// cooldown must have passed since the last trigger. DayOfWeek counts from
// Sunday = 0.
func IsDue(a *model.Automation, now time.Time, window int) bool {
	if window <= 0 {
		window = defaultWindowMinutes
	}
	cooldown, ok := cooldowns[strings.ToUpper(a.Frequency)]
	if !ok {
		return false
	}
	target, ok := parseTimeOfDay(a.TimeOfDay)
	if !ok {
		return false
	}

	d := now.Hour()*60 + now.Minute() - target
	if d < 0 {
		d = -d
	}
	if d > window && d < minutesPerDay-window {
		return false
	}

	switch strings.ToUpper(a.Frequency) {
	case model.FrequencyWeekly:
		if a.DayOfWeek == nil || int(now.Weekday()) != *a.DayOfWeek {
			return false
		}
	case model.FrequencyMonthly:
		if now.Day() != 1 {
			return false
		}
	}

	if a.LastTriggeredAt != nil && now.Sub(*a.LastTriggeredAt) < cooldown {
		return false
	}
	return true
}

// AutomationScheduler is the externally triggered due-check that turns
// automations into scheduled campaigns.
type AutomationScheduler struct {
	Automations   repository.AutomationRepositoryInterface
	Ledger        *Ledger
	Generator     content.Generator
	Media         content.MediaGenerator
	Locker        lock.Locker
	LockTTL       time.Duration
	WindowMinutes int
	Log           *zap.Logger
}

// Run checks every active automation once. Only one Run proceeds at a time
// across processes sharing the locker; others get ErrSchedulerBusy. A started
// run is not interrupted by cancellation of ctx.
func (s *AutomationScheduler) Run(ctx context.Context, now time.Time) (*RunReport, error) {
	ctx = context.WithoutCancel(ctx)
	now = now.UTC()
	if s.Locker != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		unlock, ok, err := s.Locker.TryLock(ctx, schedulerLockKey, ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire scheduler lock: %w", err)
		}
		if !ok {
			return nil, appErrors.ErrSchedulerBusy
		}
		defer func() {
			if err := unlock(context.Background()); err != nil {
				s.Log.Warn("releasing scheduler lock failed", zap.Error(err))
			}
		}()
	}

	automations, err := s.Automations.ListActive(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list automations: %w", err)
	}

	report := &RunReport{Results: []AutomationResult{}}
	for _, a := range automations {
		if !a.ActiveAt(now) {
			continue
		}
		report.Checked++
		if !IsDue(a, now, s.WindowMinutes) {
			continue
		}
		res := s.trigger(ctx, a, now)
		report.add(res)
	}

	s.Log.Info("automation scheduler run finished",
		zap.Int("checked", report.Checked),
		zap.Int("triggered", report.Triggered),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *AutomationScheduler) cost(a *model.Automation) int {
	credits := s.Ledger.Price(OpContentGeneration)
	if a.GenerateMedia && s.Media != nil {
		credits += s.Ledger.Price(OpMediaGeneration)
	}
	return credits
}

func (s *AutomationScheduler) trigger(ctx context.Context, a *model.Automation, now time.Time) AutomationResult {
	res := AutomationResult{AutomationID: a.ID, Name: a.Name}
	log := s.Log.With(zap.Int("automation_id", a.ID))

	credits := s.cost(a)
	if err := s.Ledger.EnsureBalance(ctx, a.AccountID, credits); err != nil {
		var quota *appErrors.QuotaError
		if errors.As(err, &quota) {
			res.Outcome, res.Reason = ResultSkipped, err.Error()
			log.Info("automation skipped", zap.String("reason", res.Reason))
			return res
		}
		res.Outcome, res.Reason = ResultFailed, err.Error()
		log.Error("automation balance check failed", zap.Error(err))
		return res
	}

	claimed, err := s.Automations.Claim(ctx, a.ID, a.Version, now)
	if err != nil {
		res.Outcome, res.Reason = ResultFailed, err.Error()
		log.Error("claiming automation failed", zap.Error(err))
		return res
	}
	if !claimed {
		res.Outcome, res.Reason = ResultSkipped, "already triggered by another run"
		return res
	}
	version := a.Version + 1

	campaign, err := s.generate(ctx, a, now)
	if err == nil {
		err = s.Automations.CommitGeneration(ctx, &model.GenerationCommit{
			AutomationID: a.ID,
			Version:      version,
			Campaign:     campaign,
			Entry: model.LedgerEntry{
				AccountID: a.AccountID,
				Operation: string(OpContentGeneration),
				Units:     1,
				Credits:   credits,
				// one generation per claimed version
				IdempotencyKey: fmt.Sprintf("automation:%d:v%d", a.ID, version),
				CreatedAt:      now,
			},
		})
	}
	if err != nil {
		if !errors.Is(err, repository.ErrLeaseLost) {
			if rerr := s.Automations.ReleaseClaim(ctx, a.ID, version, a.LastTriggeredAt); rerr != nil {
				log.Error("releasing automation claim failed", zap.Error(rerr))
			}
		}
		res.Outcome, res.Reason = ResultFailed, err.Error()
		log.Error("automation generation failed", zap.Error(err))
		return res
	}

	a.Version = version
	a.LastTriggeredAt = &now
	res.Outcome, res.CampaignID, res.Credits = ResultTriggered, campaign.ID, credits
	metrics.CreditsDeducted.WithLabelValues(string(OpContentGeneration)).Add(float64(credits))
	log.Info("automation triggered", zap.Int("campaign_id", campaign.ID), zap.Int("credits", credits))
	return res
}

func (s *AutomationScheduler) generate(ctx context.Context, a *model.Automation, now time.Time) (*model.Campaign, error) {
	out, err := s.Generator.Generate(ctx, content.Request{Prompt: a.Prompt, Channel: a.Channel, Subject: a.Subject})
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	var mediaURL string
	if a.GenerateMedia && s.Media != nil {
		key := fmt.Sprintf("automations/%d/%d.png", a.ID, now.Unix())
		mediaURL, err = s.Media.GenerateImage(ctx, a.Prompt, key)
		if err != nil {
			return nil, fmt.Errorf("generate media: %w", err)
		}
	}

	automationID := a.ID
	scheduled := now
	return &model.Campaign{
		AccountID:     a.AccountID,
		Name:          fmt.Sprintf("%s (%s)", a.Name, now.Format("2006-01-02")),
		Channel:       a.Channel,
		Status:        model.CampaignScheduled,
		Subject:       out.Subject,
		BaseTemplate:  out.Body,
		MediaURL:      mediaURL,
		ContactListID: a.ContactListID,
		AutomationID:  &automationID,
		ScheduledAt:   &scheduled,
		CreatedAt:     now,
	}, nil
}
