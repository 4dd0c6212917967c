// Package ses implements a Provider that sends raw emails via AWS SES v2.
package ses

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	ConfigurationSet string
}

// SESProvider sends emails via the AWS SES v2 API.
type SESProvider struct {
	configurationSet string
	client           SendEmailAPI
	logger           *slog.Logger
}

// OptionFunc configures optional SESProvider settings.
type OptionFunc func(*SESProvider)

// WithLogger sets the logger. Nil keeps the default logger.
func WithLogger(logger *slog.Logger) OptionFunc {
	return func(s *SESProvider) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new SESProvider with the given configuration.
func New(ctx context.Context, cfg SESProviderConfig, options ...OptionFunc) (*SESProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet, options...), nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(client SendEmailAPI, configurationSet string, options ...OptionFunc) *SESProvider {
	s := &SESProvider{
		configurationSet: configurationSet,
		client:           client,
		logger:           slog.Default(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Send delivers raw to a single destination. The destination overrides the
// envelope recipients; the message headers are sent untouched. Failures are
// returned to the caller without retrying.
func (s *SESProvider) Send(ctx context.Context, destination string, raw []byte) (string, error) {
	input := buildRawInput(destination, raw, s.configurationSet)

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("SES SendEmail failed: %w", err)
	}

	messageID := aws.ToString(out.MessageId)
	s.logger.Debug("SES accepted message",
		"destination", destination,
		"ses_message_id", messageID,
	)
	return messageID, nil
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

// buildRawInput creates a SES SendEmailInput carrying an already serialized message.
func buildRawInput(destination string, raw []byte, configurationSet string) *sesv2.SendEmailInput {
	input := &sesv2.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{destination},
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: raw,
			},
		},
	}
	if configurationSet != "" {
		input.ConfigurationSetName = aws.String(configurationSet)
	}
	return input
}
