package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/logger"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/provider"
	"github.com/unclebandit/campaign-engine/internal/queue"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

// CompletionWorker tells the account owner that a campaign finished. It runs
// off the campaign.completed topic so the send response never waits on it.
type CompletionWorker struct {
	Accounts  repository.AccountRepositoryInterface
	Providers provider.Registry
	Log       *zap.Logger
}

func NewCompletionWorker(accounts repository.AccountRepositoryInterface, providers provider.Registry, log *zap.Logger) *CompletionWorker {
	return &CompletionWorker{
		Accounts:  accounts,
		Providers: providers,
		Log:       log,
	}
}

// Subscribe registers the worker on q.
func (w *CompletionWorker) Subscribe(q queue.Queue) error {
	return q.Subscribe(queue.TopicCampaignCompleted, w.Handle)
}

// Handle processes one campaign.completed job.
func (w *CompletionWorker) Handle(payload []byte) error {
	var ev CampaignCompleted
	if err := json.Unmarshal(payload, &ev); err != nil {
		w.Log.Warn("dropping malformed campaign.completed job", zap.Error(err))
		return nil
	}

	ctx := context.Background()
	acct, err := w.Accounts.GetByID(ctx, ev.AccountID)
	if err != nil {
		return fmt.Errorf("load account %d: %w", ev.AccountID, err)
	}
	if acct.OwnerEmail == "" {
		w.Log.Info("campaign completed", zap.Int("campaign_id", ev.CampaignID), zap.Int("sent_to", ev.SentTo))
		return nil
	}

	p, err := w.Providers.For(model.ChannelEmail)
	if err != nil {
		// no email channel configured; the log line is the notification
		w.Log.Info("campaign completed", zap.Int("campaign_id", ev.CampaignID), zap.Int("sent_to", ev.SentTo))
		return nil
	}

	msg := provider.Message{
		Channel:    model.ChannelEmail,
		To:         acct.OwnerEmail,
		Subject:    fmt.Sprintf("Campaign %q has been sent", ev.Name),
		Body:       completionBody(ev),
		CampaignID: ev.CampaignID,
	}
	if _, err := p.Send(ctx, msg); err != nil {
		return fmt.Errorf("send completion notice: %w", err)
	}
	w.Log.Info("completion notice sent",
		zap.Int("campaign_id", ev.CampaignID), logger.Recipient(model.ChannelEmail, acct.OwnerEmail))
	return nil
}

func completionBody(ev CampaignCompleted) string {
	return fmt.Sprintf(
		"<p>Your %s campaign <strong>%s</strong> finished at %s.</p>"+
			"<p>Delivered to provider: %d<br/>Failed: %d<br/>Credits used: %d</p>",
		ev.Channel, ev.Name, ev.CompletedAt.Format("2006-01-02 15:04 MST"), ev.SentTo, ev.Failed, ev.CreditsDeducted)
}
