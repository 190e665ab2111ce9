package provider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/config"
	"github.com/unclebandit/campaign-engine/internal/model"
)

// LoadAWS resolves the shared AWS configuration. Static keys win over the
// default credential chain when both are set.
func LoadAWS(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// Build wires the configured email and SMS providers. awsCfg is only read
// when an AWS-backed provider is selected.
func Build(cfg *config.Config, awsCfg aws.Config, log *zap.Logger) Registry {
	var email, sms Provider
	switch cfg.Email.Provider {
	case "ses":
		email = NewSESProvider(awsCfg, cfg.Email.FromEmail, cfg.Email.FromName, log)
	case "sendgrid":
		email = NewSendGridProvider(cfg.SendGrid.APIKey, cfg.Email.FromEmail, cfg.Email.FromName)
	default:
		email = NewLogProvider(model.ChannelEmail, log)
	}
	switch cfg.SMS.Provider {
	case "sns":
		sms = NewSNSProvider(awsCfg, cfg.SMS.SenderID)
	default:
		sms = NewLogProvider(model.ChannelSMS, log)
	}
	return NewRegistry(email, sms)
}

// NeedsAWS reports whether any configured component talks to AWS.
func NeedsAWS(cfg *config.Config) bool {
	return cfg.Email.Provider == "ses" || cfg.SMS.Provider == "sns" || cfg.Media.Bucket != ""
}
