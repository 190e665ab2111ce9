// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/queue"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

const (
	ActionSend     = "send"
	ActionSchedule = "schedule"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	AccountRepo  repository.AccountRepositoryInterface
	Resolver     *RecipientResolver
	Ledger       *Ledger
	Dispatcher   *Dispatcher
	Templates    *TemplateService
	Queue        queue.Queue
	Dispatch     ChannelConfig
	Log          *zap.Logger
	Now          func() time.Time
}

type SendRequest struct {
	Action      string     `json:"action" validate:"required,oneof=send schedule"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

// SendSummary is returned for every send that got past validation, including
// runs with partial failures.
type SendSummary struct {
	CampaignID      int    `json:"campaignId"`
	SentTo          int    `json:"sentTo"`
	Failed          int    `json:"failed"`
	CreditsDeducted int    `json:"creditsDeducted"`
	Status          string `json:"status"`
	Message         string `json:"message"`
}

// CampaignCompleted is published on queue.TopicCampaignCompleted.
type CampaignCompleted struct {
	CampaignID      int       `json:"campaign_id"`
	AccountID       int       `json:"account_id"`
	Name            string    `json:"name"`
	Channel         string    `json:"channel"`
	SentTo          int       `json:"sent_to"`
	Failed          int       `json:"failed"`
	CreditsDeducted int       `json:"credits_deducted"`
	CompletedAt     time.Time `json:"completed_at"`
}

type CampaignDetails struct {
	ID           int                  `json:"id"`
	Name         string               `json:"name"`
	Channel      string               `json:"channel"`
	Status       model.CampaignStatus `json:"status"`
	BaseTemplate string               `json:"base_template"`
	ScheduledAt  *time.Time           `json:"scheduled_at,omitempty"`
	SentAt       *time.Time           `json:"sent_at,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    *time.Time           `json:"updated_at"`
	Counters     map[string]int       `json:"counters"`
	Stats        map[string]int       `json:"stats"`
}

type CreateCampaignInput struct {
	AccountID     int     `json:"account_id" validate:"required,gt=0"`
	Name          string  `json:"name" validate:"required"`
	Channel       string  `json:"channel" validate:"required,oneof=email sms"`
	Subject       string  `json:"subject"`
	BaseTemplate  string  `json:"base_template" validate:"required"`
	MediaURL      string  `json:"media_url" validate:"omitempty,url"`
	ContactListID *int    `json:"contact_list_id"`
	ScheduledAt   *string `json:"scheduled_at"`
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *CampaignService) RenderPreview(ctx context.Context, campaignID, contactID int, overrideTemplate *string) (string, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return "", err
	}

	contact, err := s.ContactRepo.GetByID(ctx, contactID)
	if err != nil {
		return "", err
	}
	if contact == nil {
		return "", appErrors.ErrContactNotFound
	}

	template := campaign.BaseTemplate
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		template = *overrideTemplate
	}
	if strings.TrimSpace(template) == "" {
		return "", appErrors.NewValidation("template", "cannot be empty")
	}

	return s.Templates.Personalize(template, contact.MergeFields())
}

// SendCampaign sends the campaign now or schedules it, depending on req.Action.
func (s *CampaignService) SendCampaign(ctx context.Context, campaignID int, req SendRequest) (*SendSummary, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	switch campaign.Status {
	case model.CampaignSent:
		return nil, appErrors.ErrAlreadySent
	case model.CampaignSending:
		return nil, appErrors.ErrSendInProgress
	}
	if err := validateForSend(campaign); err != nil {
		return nil, err
	}

	switch req.Action {
	case ActionSchedule:
		return s.schedule(ctx, campaign, req.ScheduledAt)
	case ActionSend:
		return s.send(ctx, campaign, []model.CampaignStatus{model.CampaignDraft, model.CampaignScheduled})
	}
	return nil, appErrors.NewValidation("action", "must be send or schedule")
}

func validateForSend(c *model.Campaign) error {
	if !model.ValidChannel(c.Channel) {
		return appErrors.NewValidation("channel", fmt.Sprintf("unsupported channel %q", c.Channel))
	}
	if c.ContactListID == nil {
		return appErrors.NewValidation("contact_list_id", "campaign has no contact list")
	}
	if strings.TrimSpace(c.BaseTemplate) == "" {
		return appErrors.NewValidation("base_template", "cannot be empty")
	}
	if c.Channel == model.ChannelEmail && strings.TrimSpace(c.Subject) == "" {
		return appErrors.NewValidation("subject", "required for email campaigns")
	}
	return nil
}

// checkCompliance applies the plan gate and the channel verification gate.
func checkCompliance(acct *model.Account, channel string) error {
	if !acct.PlanAllows(channel) {
		return &appErrors.ComplianceError{Channel: channel, Reason: fmt.Sprintf("not included in the %s plan", acct.Plan)}
	}
	if v := acct.Verification(channel); v != model.VerificationApproved {
		if v == "" {
			v = "not started"
		}
		return &appErrors.ComplianceError{Channel: channel, Reason: "verification " + v}
	}
	return nil
}

func (s *CampaignService) schedule(ctx context.Context, c *model.Campaign, at *time.Time) (*SendSummary, error) {
	if at == nil {
		return nil, appErrors.NewValidation("scheduledAt", "required when scheduling")
	}
	if !at.After(s.now()) {
		return nil, appErrors.NewValidation("scheduledAt", "must be in the future")
	}
	acct, err := s.AccountRepo.GetByID(ctx, c.AccountID)
	if err != nil {
		return nil, err
	}
	if err := checkCompliance(acct, c.Channel); err != nil {
		return nil, err
	}
	if err := s.CampaignRepo.Schedule(ctx, c.ID, at.UTC()); err != nil {
		return nil, err
	}

	s.Log.Info("campaign scheduled", zap.Int("campaign_id", c.ID), zap.Time("scheduled_at", *at))
	return &SendSummary{
		CampaignID: c.ID,
		Status:     string(model.CampaignScheduled),
		Message:    "campaign scheduled for " + at.UTC().Format(time.RFC3339),
	}, nil
}

// send moves the campaign to sending and runs it. Anything that stops the run
// before or during dispatch puts it back to draft so it can be retried; the
// recipients already on record are skipped on the next run. Once started, the
// run ignores cancellation of ctx.
func (s *CampaignService) send(ctx context.Context, c *model.Campaign, from []model.CampaignStatus) (*SendSummary, error) {
	ctx = context.WithoutCancel(ctx)
	ok, err := s.CampaignRepo.TransitionStatus(ctx, c.ID, from, model.CampaignSending)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.ErrSendInProgress
	}
	log := s.Log.With(zap.Int("campaign_id", c.ID), zap.String("channel", c.Channel))

	revert := func(cause error) {
		if _, err := s.CampaignRepo.TransitionStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignSending}, model.CampaignDraft); err != nil {
			log.Error("reverting campaign to draft failed", zap.Error(err))
		}
		log.Info("campaign reverted to draft", zap.String("reason", cause.Error()))
	}

	acct, err := s.AccountRepo.GetByID(ctx, c.AccountID)
	if err != nil {
		revert(err)
		return nil, err
	}
	if err := checkCompliance(acct, c.Channel); err != nil {
		revert(err)
		return nil, err
	}

	recipients, err := s.Resolver.Resolve(ctx, c)
	if err != nil {
		revert(err)
		return nil, err
	}

	op := OperationFor(c)
	if err := s.Ledger.Preflight(ctx, c.AccountID, op, len(recipients)); err != nil {
		revert(err)
		return nil, err
	}

	log.Info("dispatching campaign", zap.Int("recipients", len(recipients)))
	result, err := s.Dispatcher.Dispatch(ctx, c, recipients, s.Dispatch)
	if err != nil {
		revert(err)
		return nil, err
	}

	summary := &SendSummary{
		CampaignID:      c.ID,
		SentTo:          result.SuccessCount,
		Failed:          result.FailureCount,
		CreditsDeducted: result.CreditsDeducted,
	}
	if result.Halted {
		revert(errors.New(result.HaltReason))
		summary.Status = string(model.CampaignDraft)
		summary.Message = fmt.Sprintf("sending stopped after %d batches: %s; send again to resume", result.Batches, result.HaltReason)
		return summary, nil
	}

	completedAt := s.now()
	if err := s.CampaignRepo.Complete(ctx, c.ID, completedAt); err != nil {
		return summary, err
	}
	summary.Status = string(model.CampaignSent)
	if result.FailureCount > 0 {
		summary.Message = fmt.Sprintf("sent to %d recipients, %d failed", result.SuccessCount, result.FailureCount)
	} else {
		summary.Message = fmt.Sprintf("sent to %d recipients", result.SuccessCount)
	}
	log.Info("campaign sent",
		zap.Int("sent", result.SuccessCount),
		zap.Int("failed", result.FailureCount),
		zap.Int("credits", result.CreditsDeducted),
	)

	s.publishCompleted(c, summary, completedAt)
	return summary, nil
}

func (s *CampaignService) publishCompleted(c *model.Campaign, summary *SendSummary, at time.Time) {
	if s.Queue == nil {
		return
	}
	err := s.Queue.Publish(queue.TopicCampaignCompleted, CampaignCompleted{
		CampaignID:      c.ID,
		AccountID:       c.AccountID,
		Name:            c.Name,
		Channel:         c.Channel,
		SentTo:          summary.SentTo,
		Failed:          summary.Failed,
		CreditsDeducted: summary.CreditsDeducted,
		CompletedAt:     at,
	})
	if err != nil {
		s.Log.Warn("publishing campaign.completed failed", zap.Int("campaign_id", c.ID), zap.Error(err))
	}
}

// DispatchDue sends every scheduled campaign whose time has come. One
// campaign failing does not stop the others. A due campaign that can never be
// sent goes back to draft so it stops being listed.
func (s *CampaignService) DispatchDue(ctx context.Context, now time.Time) ([]*SendSummary, error) {
	ctx = context.WithoutCancel(ctx)
	due, err := s.CampaignRepo.ListDueScheduled(ctx, now, 100)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}

	var summaries []*SendSummary
	for _, c := range due {
		if err := validateForSend(c); err != nil {
			s.unschedule(ctx, c, err)
			continue
		}
		summary, err := s.send(ctx, c, []model.CampaignStatus{model.CampaignScheduled})
		if err != nil {
			if errors.Is(err, appErrors.ErrSendInProgress) {
				continue
			}
			s.Log.Warn("scheduled campaign not sent", zap.Int("campaign_id", c.ID), zap.Error(err))
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *CampaignService) unschedule(ctx context.Context, c *model.Campaign, cause error) {
	log := s.Log.With(zap.Int("campaign_id", c.ID))
	ok, err := s.CampaignRepo.TransitionStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignScheduled}, model.CampaignDraft)
	if err != nil {
		log.Error("moving unsendable campaign to draft failed", zap.Error(err))
		return
	}
	if ok {
		log.Warn("scheduled campaign is not sendable, moved to draft", zap.String("reason", cause.Error()))
	}
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	c := &model.Campaign{
		AccountID:     in.AccountID,
		Name:          in.Name,
		Channel:       in.Channel,
		Subject:       in.Subject,
		BaseTemplate:  in.BaseTemplate,
		MediaURL:      in.MediaURL,
		ContactListID: in.ContactListID,
		Status:        model.CampaignDraft,
	}

	if in.ScheduledAt != nil {
		t, err := time.Parse(time.RFC3339, *in.ScheduledAt)
		if err != nil {
			return nil, appErrors.NewValidation("scheduled_at", "must be RFC3339")
		}
		c.ScheduledAt = &t
	}

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, channel, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	stats, err := s.CampaignRepo.GetStats(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign %d stats: %w", campaignID, err)
	}

	return &CampaignDetails{
		ID:           campaign.ID,
		Name:         campaign.Name,
		Channel:      campaign.Channel,
		Status:       campaign.Status,
		BaseTemplate: campaign.BaseTemplate,
		ScheduledAt:  campaign.ScheduledAt,
		SentAt:       campaign.SentAt,
		CreatedAt:    campaign.CreatedAt,
		UpdatedAt:    campaign.UpdatedAt,
		Counters: map[string]int{
			"sent":         campaign.SentCount,
			"delivered":    campaign.DeliveredCount,
			"failed":       campaign.FailedCount,
			"opened":       campaign.OpenedCount,
			"clicked":      campaign.ClickedCount,
			"unsubscribed": campaign.UnsubscribedCount,
		},
		Stats: stats,
	}, nil
}
