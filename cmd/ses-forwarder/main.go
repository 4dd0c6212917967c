// Package main is the entry point for the SES forwarder Lambda function.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/shineum/ses-forwarder-lite/internal/config"
	"github.com/shineum/ses-forwarder-lite/internal/forwarder"
	"github.com/shineum/ses-forwarder-lite/internal/logging"
	"github.com/shineum/ses-forwarder-lite/internal/provider"
	"github.com/shineum/ses-forwarder-lite/internal/provider/ses"
	"github.com/shineum/ses-forwarder-lite/internal/provider/smtp"
	"github.com/shineum/ses-forwarder-lite/internal/provider/stdout"
	"github.com/shineum/ses-forwarder-lite/internal/signer"
	s3store "github.com/shineum/ses-forwarder-lite/internal/store/s3"
)

// CLI holds the command-line flags.
type CLI struct {
	Config  string `name:"config" help:"Path to YAML configuration file." type:"path" optional:""`
	EnvFile string `name:"env-file" help:"Path to a .env file loaded before configuration." type:"path" optional:""`
	Event   string `name:"event" help:"Replay an SES event JSON file once instead of starting the Lambda runtime." type:"path" optional:""`
	DryRun  bool   `name:"dry-run" help:"Print forwarded messages to stdout instead of sending them."`
}

func main() {
	var cli CLI
	kongCtx := kong.Parse(&cli,
		kong.Name("ses-forwarder"),
		kong.Description("Forwards mail received by Amazon SES to configured destinations."),
	)

	// Variables already present in the environment win over the file.
	if cli.EnvFile != "" {
		if err := godotenv.Load(cli.EnvFile); err != nil {
			kongCtx.FatalIfErrorf(fmt.Errorf("failed to load env file: %w", err))
		}
	}

	cfg, logger, err := setup(cli, os.Stdout)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx := context.Background()
	fwd, err := buildForwarder(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize forwarder", "error", err)
		os.Exit(1)
	}

	if cli.Event != "" {
		if err := replay(ctx, fwd, cli.Event); err != nil {
			logger.Error("replay failed", "event", cli.Event, "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(fwd.HandleEvent)
}

// setup loads and validates the configuration. The returned logger is never
// nil: it follows LOG_LEVEL and LOG_FORMAT once the configuration is loaded
// and is plain JSON before that, so start-up failures match the format of
// every later line.
func setup(cli CLI, out *os.File) (*config.Config, *slog.Logger, error) {
	logger := logging.New(out, "info", logging.FormatJSON)

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return nil, logger, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger = logging.New(out, cfg.Logging.Level, cfg.Logging.Format)

	if cli.DryRun {
		cfg.Provider = config.ProviderStdout
	}
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func buildForwarder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*forwarder.Forwarder, error) {
	store, err := s3store.New(ctx, s3store.StoreConfig{Region: cfg.Storage.Region})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 store: %w", err)
	}

	prov, err := selectProvider(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	options := []forwarder.OptionFunc{forwarder.WithLogger(logger)}
	if cfg.DKIMConfigured() {
		s, err := signer.New(signer.SignerConfig{
			Domain:         cfg.DKIM.Domain,
			Selector:       cfg.DKIM.Selector,
			PrivateKeyFile: cfg.DKIM.PrivateKeyFile,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create DKIM signer: %w", err)
		}
		logger.Info("DKIM signing enabled", "domain", cfg.DKIM.Domain, "selector", cfg.DKIM.Selector)
		options = append(options, forwarder.WithSigner(s))
	}

	mapping := cfg.Mapping()
	logger.Info("starting ses-forwarder",
		"provider", prov.Name(),
		"bucket", cfg.Storage.Bucket,
		"key_prefix", cfg.Storage.KeyPrefix,
		"recipients", len(mapping),
	)

	return forwarder.New(forwarder.Options{
		Bucket:         cfg.Storage.Bucket,
		KeyPrefix:      cfg.Storage.KeyPrefix,
		VerifiedSender: cfg.Forwarder.VerifiedSender,
		SubjectPrefix:  cfg.Forwarder.SubjectPrefix,
		Forwarding:     mapping,
	}, store, prov, options...), nil
}

// selectProvider chooses the delivery backend. Validate has already
// rejected unknown names.
func selectProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderSMTP:
		logger.Info("using SMTP relay provider",
			"addr", cfg.SMTP.Addr,
			"auth_enabled", cfg.SMTPAuthEnabled(),
		)
		return smtp.New(smtp.SMTPProviderConfig{
			Addr:     cfg.SMTP.Addr,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Sender:   cfg.Forwarder.VerifiedSender,
		}, smtp.WithLogger(logger)), nil

	case config.ProviderStdout:
		logger.Info("using stdout provider")
		return stdout.New(), nil

	default:
		logger.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"configuration_set", cfg.SES.ConfigurationSet,
		)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		}, ses.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil
	}
}

// replay runs one invocation from an event file, with a generated request id
// standing in for the one the Lambda runtime would assign.
func replay(ctx context.Context, fwd *forwarder.Forwarder, path string) error {
	event, err := readEvent(path)
	if err != nil {
		return err
	}
	ctx = lambdacontext.NewContext(ctx, &lambdacontext.LambdaContext{
		AwsRequestID: uuid.NewString(),
	})
	return fwd.HandleEvent(ctx, event)
}

func readEvent(path string) (events.SimpleEmailEvent, error) {
	var event events.SimpleEmailEvent
	data, err := os.ReadFile(path)
	if err != nil {
		return event, fmt.Errorf("failed to read event file: %w", err)
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("failed to parse event file: %w", err)
	}
	return event, nil
}
