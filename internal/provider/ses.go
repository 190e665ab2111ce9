package provider

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/logger"
	"github.com/unclebandit/campaign-engine/internal/model"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESProvider sends email through AWS SES v2.
type SESProvider struct {
	client    sesAPI
	fromEmail string
	fromName  string
	log       *zap.Logger
}

func NewSESProvider(cfg aws.Config, fromEmail, fromName string, log *zap.Logger) *SESProvider {
	return &SESProvider{client: sesv2.NewFromConfig(cfg), fromEmail: fromEmail, fromName: fromName, log: log}
}

func (p *SESProvider) Channel() string { return model.ChannelEmail }

func (p *SESProvider) Send(ctx context.Context, msg Message) (Result, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", p.fromName, p.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(strconv.Itoa(msg.CampaignID))},
			{Name: aws.String("send_id"), Value: aws.String(strconv.Itoa(msg.SendID))},
		},
	}

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return Result{}, fmt.Errorf("ses send: %w", err)
	}
	id := aws.ToString(out.MessageId)
	p.log.Debug("ses accepted message", logger.Recipient(msg.Channel, msg.To), zap.String("message_id", id))
	return Result{MessageID: id}, nil
}
