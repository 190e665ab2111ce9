package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/content"
	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/logger"
	"github.com/unclebandit/campaign-engine/internal/metrics"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/provider"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

// ChannelConfig is the pacing and tracking setup for one dispatch run.
type ChannelConfig struct {
	BatchSize   int
	BatchDelay  time.Duration
	SendTimeout time.Duration
	Tracking    TrackingLinks
}

type DispatchResult struct {
	SuccessCount    int
	FailureCount    int
	Batches         int
	CreditsDeducted int
	Halted          bool
	HaltReason      string
}

// Dispatcher sends a campaign to its recipients in paced batches.
type Dispatcher struct {
	Sends      repository.CampaignSendRepositoryInterface
	Providers  provider.Registry
	Ledger     *Ledger
	Templates  *TemplateService
	Compositor content.MediaCompositor
	Log        *zap.Logger

	// Sleep waits between batches. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeSkipped
)

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Dispatch runs every recipient through pending -> provider -> sent/failed.
// Recipients in one batch are sent concurrently; cfg.BatchDelay separates
// batches. Before each batch the ledger is checked again and the run halts,
// leaving the rest untouched, if the account can no longer pay. Callers pass a
// context that is not cancelled mid-run.
func (d *Dispatcher) Dispatch(ctx context.Context, c *model.Campaign, recipients []model.Contact, cfg ChannelConfig) (*DispatchResult, error) {
	p, err := d.Providers.For(c.Channel)
	if err != nil {
		return nil, err
	}
	size := cfg.BatchSize
	if size < 1 {
		size = 50
	}
	sleep := d.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	op := OperationFor(c)
	start := time.Now()
	defer func() {
		metrics.DispatchDuration.WithLabelValues(c.Channel).Observe(time.Since(start).Seconds())
	}()

	res := &DispatchResult{}
	for offset := 0; offset < len(recipients); offset += size {
		end := offset + size
		if end > len(recipients) {
			end = len(recipients)
		}
		batch := recipients[offset:end]

		if offset > 0 && cfg.BatchDelay > 0 {
			if err := sleep(ctx, cfg.BatchDelay); err != nil {
				d.Log.Warn("batch delay cut short", zap.Int("campaign_id", c.ID), zap.Error(err))
			}
		}

		if err := d.Ledger.Preflight(ctx, c.AccountID, op, len(batch)); err != nil {
			var quota *appErrors.QuotaError
			if errors.As(err, &quota) {
				res.Halted, res.HaltReason = true, err.Error()
				d.Log.Warn("dispatch halted before batch",
					zap.Int("campaign_id", c.ID), zap.Int("batch", res.Batches+1), zap.Error(err))
				break
			}
			return res, err
		}

		outcomes := make([]outcome, len(batch))
		var wg sync.WaitGroup
		for i := range batch {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				outcomes[i] = d.deliver(ctx, c, batch[i], p, cfg)
			}(i)
		}
		wg.Wait()

		sent := 0
		for _, o := range outcomes {
			switch o {
			case outcomeSent:
				sent++
			case outcomeFailed:
				res.FailureCount++
			}
		}
		res.SuccessCount += sent
		res.Batches++
		metrics.BatchesTotal.WithLabelValues(c.Channel).Inc()

		credits, err := d.Ledger.Charge(ctx, c.AccountID, op, sent, fmt.Sprintf("campaign:%d:batch:%d", c.ID, res.Batches))
		if err != nil {
			// the messages are already out; stop before sending more
			d.Log.Error("charging batch failed",
				zap.Int("campaign_id", c.ID), zap.Int("batch", res.Batches), zap.Int("units", sent), zap.Error(err))
			res.Halted, res.HaltReason = true, err.Error()
			break
		}
		res.CreditsDeducted += credits
	}
	return res, nil
}

func (d *Dispatcher) deliver(ctx context.Context, c *model.Campaign, contact model.Contact, p provider.Provider, cfg ChannelConfig) outcome {
	send, created, err := d.Sends.CreatePending(ctx, c.ID, contact.ID)
	if err != nil {
		d.Log.Error("create delivery record failed", zap.Int("campaign_id", c.ID), zap.Int("contact_id", contact.ID), zap.Error(err))
		metrics.SendsTotal.WithLabelValues(c.Channel, "error").Inc()
		return outcomeFailed
	}
	if !created {
		return outcomeSkipped
	}

	msg, err := d.personalize(ctx, c, contact, send.ID, cfg)
	if err != nil {
		d.fail(ctx, c, send.ID, err.Error())
		return outcomeFailed
	}

	sendCtx := ctx
	if cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, cfg.SendTimeout)
		defer cancel()
	}
	result, err := p.Send(sendCtx, msg)
	if err != nil {
		d.Log.Warn("provider rejected message",
			zap.Int("campaign_id", c.ID), zap.Int("send_id", send.ID), logger.Recipient(c.Channel, msg.To), zap.Error(err))
		d.fail(ctx, c, send.ID, err.Error())
		return outcomeFailed
	}

	if err := d.Sends.MarkSent(ctx, send.ID, result.MessageID, msg.Body, d.now()); err != nil {
		d.Log.Error("recording sent message failed",
			zap.Int("send_id", send.ID), zap.String("message_id", result.MessageID), zap.Error(err))
	}
	metrics.SendsTotal.WithLabelValues(c.Channel, "sent").Inc()
	return outcomeSent
}

func (d *Dispatcher) fail(ctx context.Context, c *model.Campaign, sendID int, reason string) {
	metrics.SendsTotal.WithLabelValues(c.Channel, "failed").Inc()
	if err := d.Sends.MarkFailed(ctx, sendID, reason, d.now()); err != nil {
		d.Log.Error("recording failed message failed", zap.Int("send_id", sendID), zap.Error(err))
	}
}

func (d *Dispatcher) personalize(ctx context.Context, c *model.Campaign, contact model.Contact, sendID int, cfg ChannelConfig) (provider.Message, error) {
	fields := contact.MergeFields()
	if c.Channel == model.ChannelEmail {
		fields["unsubscribe_url"] = cfg.Tracking.Unsubscribe(sendID)
	}

	body, err := d.Templates.Personalize(c.BaseTemplate, fields)
	if err != nil {
		return provider.Message{}, err
	}
	subject, err := d.Templates.Personalize(c.Subject, fields)
	if err != nil {
		return provider.Message{}, err
	}
	if c.Channel == model.ChannelEmail {
		body = cfg.Tracking.Inject(body, sendID)
	}

	media := c.MediaURL
	if media != "" && d.Compositor != nil {
		if composed, err := d.Compositor.Compose(ctx, media, fields); err != nil {
			d.Log.Warn("media personalisation failed, using base image", zap.Int("send_id", sendID), zap.Error(err))
		} else {
			media = composed
		}
	}

	return provider.Message{
		Channel:    c.Channel,
		To:         contact.Address(c.Channel),
		Subject:    subject,
		Body:       body,
		MediaURL:   media,
		CampaignID: c.ID,
		SendID:     sendID,
	}, nil
}
