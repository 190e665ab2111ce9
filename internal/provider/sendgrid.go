package provider

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/unclebandit/campaign-engine/internal/model"
)

type sendGridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridProvider sends email through the SendGrid v3 API.
type SendGridProvider struct {
	client    sendGridAPI
	fromEmail string
	fromName  string
}

func NewSendGridProvider(apiKey, fromEmail, fromName string) *SendGridProvider {
	return &SendGridProvider{client: sendgrid.NewSendClient(apiKey), fromEmail: fromEmail, fromName: fromName}
}

func (p *SendGridProvider) Channel() string { return model.ChannelEmail }

func (p *SendGridProvider) Send(ctx context.Context, msg Message) (Result, error) {
	from := mail.NewEmail(p.fromName, p.fromEmail)
	to := mail.NewEmail("", msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, to, "", msg.Body)
	message.SetCustomArg("campaign_id", strconv.Itoa(msg.CampaignID))
	message.SetCustomArg("send_id", strconv.Itoa(msg.SendID))

	resp, err := p.client.SendWithContext(ctx, message)
	if err != nil {
		return Result{}, fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("sendgrid returned error status %d: %s", resp.StatusCode, resp.Body)
	}
	var id string
	if v := resp.Headers["X-Message-Id"]; len(v) > 0 {
		id = v[0]
	}
	return Result{MessageID: id}, nil
}
