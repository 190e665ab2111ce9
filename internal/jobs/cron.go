// Package jobs runs the periodic work: dispatching due scheduled campaigns
// and poking the automation scheduler endpoint.
package jobs

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/service"
)

// DueDispatcher sends scheduled campaigns whose time has come.
type DueDispatcher interface {
	DispatchDue(ctx context.Context, now time.Time) ([]*service.SendSummary, error)
}

// CronManager manages scheduled jobs
type CronManager struct {
	cron         *cron.Cron
	dispatcher   DueDispatcher
	schedulerURL string
	secret       string
	client       *http.Client
	log          *zap.Logger
}

func NewCronManager(dispatcher DueDispatcher, schedulerURL, secret string, log *zap.Logger) *CronManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &CronManager{
		cron:         cron.New(cron.WithLocation(time.UTC)),
		dispatcher:   dispatcher,
		schedulerURL: schedulerURL,
		secret:       secret,
		client:       &http.Client{Timeout: 5 * time.Minute},
		log:          log,
	}
}

// SetupJobs registers the dispatch job and, when a URL is set, the scheduler
// trigger. Empty expressions disable a job.
func (cm *CronManager) SetupJobs(dispatchExpr, schedulerExpr string) error {
	if dispatchExpr != "" {
		if _, err := cm.cron.AddFunc(dispatchExpr, cm.dispatchDue); err != nil {
			return fmt.Errorf("dispatch job %q: %w", dispatchExpr, err)
		}
	}
	if schedulerExpr != "" && cm.schedulerURL != "" {
		if _, err := cm.cron.AddFunc(schedulerExpr, cm.triggerScheduler); err != nil {
			return fmt.Errorf("scheduler job %q: %w", schedulerExpr, err)
		}
	}
	cm.log.Info("cron jobs configured", zap.Int("jobs", len(cm.cron.Entries())))
	return nil
}

func (cm *CronManager) Start() { cm.cron.Start() }

// Stop waits for running jobs to finish or ctx to expire.
func (cm *CronManager) Stop(ctx context.Context) {
	select {
	case <-cm.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (cm *CronManager) dispatchDue() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	cm.RunDispatch(ctx, time.Now())
}

// RunDispatch sends everything due at now and logs one line per campaign.
func (cm *CronManager) RunDispatch(ctx context.Context, now time.Time) int {
	summaries, err := cm.dispatcher.DispatchDue(ctx, now)
	if err != nil {
		cm.log.Error("dispatching due campaigns failed", zap.Error(err))
		return 0
	}
	for _, s := range summaries {
		cm.log.Info("scheduled campaign sent",
			zap.Int("campaign_id", s.CampaignID),
			zap.Int("sent", s.SentTo),
			zap.Int("failed", s.Failed),
			zap.Int("credits", s.CreditsDeducted))
	}
	return len(summaries)
}

func (cm *CronManager) triggerScheduler() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := cm.TriggerScheduler(ctx); err != nil {
		cm.log.Error("automation scheduler trigger failed", zap.Error(err))
	}
}

// TriggerScheduler calls the scheduler endpoint with the shared secret. A 409
// means another run holds the lock and is not an error.
func (cm *CronManager) TriggerScheduler(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cm.schedulerURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cm.secret)

	resp, err := cm.client.Do(req)
	if err != nil {
		return fmt.Errorf("call scheduler: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		cm.log.Info("automation scheduler ran")
		return nil
	case http.StatusConflict:
		cm.log.Info("automation scheduler already running")
		return nil
	}
	return fmt.Errorf("scheduler returned %s", resp.Status)
}
