package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/model"
)

type fakeSES struct {
	got *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
}

func TestSESProviderSend(t *testing.T) {
	fake := &fakeSES{}
	p := &SESProvider{client: fake, fromEmail: "news@shop.test", fromName: "Shop", log: zap.NewNop()}

	res, err := p.Send(context.Background(), Message{
		Channel: model.ChannelEmail, To: "ann@example.com", Subject: "Hi", Body: "<p>Hello</p>", CampaignID: 4, SendID: 9,
	})
	require.NoError(t, err)
	assert.Equal(t, "ses-123", res.MessageID)
	assert.Equal(t, "Shop <news@shop.test>", aws.ToString(fake.got.FromEmailAddress))
	assert.Equal(t, []string{"ann@example.com"}, fake.got.Destination.ToAddresses)
	assert.Equal(t, "<p>Hello</p>", aws.ToString(fake.got.Content.Simple.Body.Html.Data))
}

func TestSESProviderSendError(t *testing.T) {
	p := &SESProvider{client: &fakeSES{err: errors.New("throttled")}, log: zap.NewNop()}
	_, err := p.Send(context.Background(), Message{To: "a@b.c"})
	assert.ErrorContains(t, err, "throttled")
}

type fakeSNS struct{ got *sns.PublishInput }

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.got = in
	return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
}

func TestSNSProviderAppendsMedia(t *testing.T) {
	fake := &fakeSNS{}
	p := &SNSProvider{client: fake, senderID: "SHOP"}

	res, err := p.Send(context.Background(), Message{To: "+14155552671", Body: "Sale today", MediaURL: "https://cdn.test/a.png"})
	require.NoError(t, err)
	assert.Equal(t, "sns-1", res.MessageID)
	assert.Equal(t, "Sale today\nhttps://cdn.test/a.png", aws.ToString(fake.got.Message))
	assert.Contains(t, fake.got.MessageAttributes, "AWS.SNS.SMS.SenderID")
}

type fakeSendGrid struct {
	resp *rest.Response
}

func (f *fakeSendGrid) SendWithContext(context.Context, *mail.SGMailV3) (*rest.Response, error) {
	return f.resp, nil
}

func TestSendGridProviderReadsMessageID(t *testing.T) {
	p := &SendGridProvider{client: &fakeSendGrid{resp: &rest.Response{
		StatusCode: 202,
		Headers:    map[string][]string{"X-Message-Id": {"sg-abc"}},
	}}}
	res, err := p.Send(context.Background(), Message{To: "ann@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "sg-abc", res.MessageID)
}

func TestSendGridProviderErrorStatus(t *testing.T) {
	p := &SendGridProvider{client: &fakeSendGrid{resp: &rest.Response{StatusCode: 401, Body: "unauthorized"}}}
	_, err := p.Send(context.Background(), Message{To: "ann@example.com"})
	assert.ErrorContains(t, err, "401")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewLogProvider(model.ChannelEmail, zap.NewNop()))
	p, err := r.For(model.ChannelEmail)
	require.NoError(t, err)
	res, err := p.Send(context.Background(), Message{To: "a@b.c"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.MessageID)

	_, err = r.For(model.ChannelSMS)
	assert.Error(t, err)
}
