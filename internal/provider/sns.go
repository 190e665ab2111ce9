package provider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/unclebandit/campaign-engine/internal/model"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSProvider sends SMS through AWS SNS direct publish. SNS has no MMS, so a
// media URL is appended to the text.
type SNSProvider struct {
	client   snsAPI
	senderID string
}

func NewSNSProvider(cfg aws.Config, senderID string) *SNSProvider {
	return &SNSProvider{client: sns.NewFromConfig(cfg), senderID: senderID}
}

func (p *SNSProvider) Channel() string { return model.ChannelSMS }

func (p *SNSProvider) Send(ctx context.Context, msg Message) (Result, error) {
	body := msg.Body
	if msg.MediaURL != "" {
		body += "\n" + msg.MediaURL
	}
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Promotional")},
	}
	if p.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(p.senderID)}
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(msg.To),
		Message:           aws.String(body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return Result{}, fmt.Errorf("sns publish: %w", err)
	}
	return Result{MessageID: aws.ToString(out.MessageId)}, nil
}
