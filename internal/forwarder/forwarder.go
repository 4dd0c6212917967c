// Package forwarder relays mail received by SES: it fetches the stored raw
// message, rewrites a few headers and re-sends it to every address the
// recipient is mapped to.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/shineum/ses-forwarder-lite/internal/config"
	"github.com/shineum/ses-forwarder-lite/internal/logging"
	"github.com/shineum/ses-forwarder-lite/internal/parser"
	"github.com/shineum/ses-forwarder-lite/internal/provider"
	"github.com/shineum/ses-forwarder-lite/internal/store"
)

// EventSource is the eventSource of records delivered by an SES receipt rule.
const EventSource = "aws:ses"

var (
	// ErrNoRecords is returned for an event without records.
	ErrNoRecords = errors.New("event contains no records")

	// ErrUnexpectedEventSource is returned when the first record was not
	// produced by SES, which means the trigger is misconfigured.
	ErrUnexpectedEventSource = errors.New("unexpected event source")
)

// Options is the static forwarding configuration.
type Options struct {
	// Bucket holds the raw messages written by the receipt rule.
	Bucket string

	// KeyPrefix is prepended to the SES message id to form the object key.
	KeyPrefix string

	// VerifiedSender is written to Reply-To and Return-Path.
	VerifiedSender string

	// SubjectPrefix tags subjects that do not already contain it.
	// Empty disables tagging.
	SubjectPrefix string

	Forwarding config.ForwardMapping
}

// Signer signs a serialized message.
type Signer interface {
	Sign(raw []byte) ([]byte, error)
}

// Result summarizes one invocation.
type Result struct {
	Sent    int
	Failed  int
	Skipped int
}

// Forwarder handles SES receipt events. It holds no mutable state and may
// serve concurrent invocations.
type Forwarder struct {
	opts     Options
	fetcher  store.Fetcher
	provider provider.Provider
	signer   Signer
	logger   *slog.Logger
}

// OptionFunc configures optional Forwarder dependencies.
type OptionFunc func(*Forwarder)

// WithLogger sets the logger. A nil logger discards everything.
func WithLogger(logger *slog.Logger) OptionFunc {
	return func(f *Forwarder) {
		if logger == nil {
			logger = logging.Discard()
		}
		f.logger = logger
	}
}

// WithSigner enables signing of the outbound message.
func WithSigner(s Signer) OptionFunc {
	return func(f *Forwarder) {
		f.signer = s
	}
}

// New creates a Forwarder.
func New(opts Options, fetcher store.Fetcher, prov provider.Provider, options ...OptionFunc) *Forwarder {
	f := &Forwarder{
		opts:     opts,
		fetcher:  fetcher,
		provider: prov,
		logger:   logging.Discard(),
	}
	for _, option := range options {
		option(f)
	}
	return f
}

// HandleEvent is the Lambda entry point. Only the first record is
// processed. It fails only when the message cannot be prepared; failed sends
// are logged and do not fail the invocation.
func (f *Forwarder) HandleEvent(ctx context.Context, event events.SimpleEmailEvent) error {
	if len(event.Records) == 0 {
		return ErrNoRecords
	}
	if n := len(event.Records); n > 1 {
		f.logger.Warn("ignoring additional records", "records", n)
	}
	_, err := f.Forward(ctx, event.Records[0])
	return err
}

// Forward relays the message described by record to every destination of
// every recipient, one send per destination, in order.
func (f *Forwarder) Forward(ctx context.Context, record events.SimpleEmailRecord) (Result, error) {
	if record.EventSource != EventSource {
		return Result{}, fmt.Errorf("%w: %q", ErrUnexpectedEventSource, record.EventSource)
	}

	messageID := record.SES.Mail.MessageID
	logger := f.logger.With("message_id", messageID)
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		logger = logger.With("request_id", lc.AwsRequestID)
	}

	payload, err := f.prepare(ctx, logger, messageID)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, recipient := range record.SES.Receipt.Recipients {
		logger.Info("processing recipient", "recipient", recipient)

		destinations, ok := f.opts.Forwarding.Destinations(recipient)
		if !ok {
			logger.Warn("recipient is not found in forwarding map, skipping recipient", "recipient", recipient)
			result.Skipped++
			continue
		}

		for _, destination := range destinations {
			id, err := f.provider.Send(ctx, destination, payload)
			if err != nil {
				logger.Error("failed to forward message",
					"recipient", recipient,
					"destination", destination,
					"provider", f.provider.Name(),
					"error", err,
				)
				result.Failed++
				continue
			}
			logger.Info("forwarded message",
				"recipient", recipient,
				"destination", destination,
				"provider", f.provider.Name(),
				"provider_message_id", id,
			)
			result.Sent++
		}
	}

	logger.Info("invocation finished",
		"sent", result.Sent,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
	return result, nil
}

// prepare fetches, parses, rewrites and serializes the message. The returned
// payload is shared by every send of the invocation.
func (f *Forwarder) prepare(ctx context.Context, logger *slog.Logger, messageID string) ([]byte, error) {
	key := f.opts.KeyPrefix + messageID
	raw, err := f.fetcher.Fetch(ctx, f.opts.Bucket, key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	logger.Info("fetched message", "bucket", f.opts.Bucket, "key", key, "size", len(raw))

	msg, err := parser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	logger.Debug("parsed message",
		"keys", msg.Keys(),
		"from", parser.ParseAddressList(msg.Header.Get("From")),
	)

	sanitizeHeaders(msg)
	setRedirectHeaders(msg, f.opts.VerifiedSender)
	if subject, changed := tagSubject(msg, f.opts.SubjectPrefix); changed {
		logger.Info("tagged subject", "subject_prefix", f.opts.SubjectPrefix, "subject", subject)
	}

	payload, err := msg.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}

	if f.signer != nil {
		payload, err = f.signer.Sign(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to sign message: %w", err)
		}
	}

	return payload, nil
}
