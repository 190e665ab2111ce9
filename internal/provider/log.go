package provider

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/logger"
)

// LogProvider accepts every message and only logs it. Used for local runs.
type LogProvider struct {
	channel string
	log     *zap.Logger
}

func NewLogProvider(channel string, log *zap.Logger) *LogProvider {
	return &LogProvider{channel: channel, log: log}
}

func (p *LogProvider) Channel() string { return p.channel }

func (p *LogProvider) Send(_ context.Context, msg Message) (Result, error) {
	id := uuid.NewString()
	p.log.Info("message not sent (log provider)",
		logger.Recipient(p.channel, msg.To),
		zap.Int("campaign_id", msg.CampaignID),
		zap.Int("send_id", msg.SendID),
		zap.String("message_id", id),
	)
	return Result{MessageID: id}, nil
}
