// Package mailer sends invitation emails through Amazon SES. When no
// from-address is configured the mailer runs disabled: sends succeed as
// no-ops so local environments work without AWS credentials.
package mailer

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"
)

// Mailer sends emails via Amazon SES.
type Mailer struct {
	client      *sesv2.Client
	fromAddress string
	fromName    string
	enabled     bool
	logger      *zap.Logger
}

// New creates a SES mailer. An empty fromAddress returns a disabled mailer.
func New(ctx context.Context, region, fromAddress, fromName string, logger *zap.Logger) (*Mailer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fromAddress == "" {
		logger.Info("mailer disabled: EMAIL_FROM_ADDRESS not configured")
		return &Mailer{enabled: false, logger: logger}, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	logger.Info("mailer enabled", zap.String("from", fromAddress), zap.String("region", region))
	return &Mailer{
		client:      sesv2.NewFromConfig(cfg),
		fromAddress: fromAddress,
		fromName:    fromName,
		enabled:     true,
		logger:      logger,
	}, nil
}

// Enabled reports whether outbound email is configured.
func (m *Mailer) Enabled() bool { return m.enabled }

// Send delivers one HTML email. Disabled mailers log and return nil.
func (m *Mailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if !m.enabled {
		m.logger.Debug("mailer disabled, skipping send", zap.String("to", to))
		return nil
	}

	from := m.fromAddress
	if m.fromName != "" {
		from = fmt.Sprintf("%s <%s>", m.fromName, m.fromAddress)
	}

	_, err := m.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(htmlBody)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}
