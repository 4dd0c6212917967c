// Package smtp implements a Provider that relays raw messages through an
// SMTP server, for deployments that do not send through SES.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
)

// SMTPProviderConfig holds the configuration for creating an SMTPProvider.
type SMTPProviderConfig struct {
	// Addr is the relay host and port, e.g. "smtp.example.com:587".
	Addr string

	// Username and Password enable AUTH PLAIN when both are set.
	Username string
	Password string

	// Sender is the envelope MAIL FROM address.
	Sender string

	// TLSConfig is used for STARTTLS. Nil verifies the relay against the
	// system roots using the host part of Addr.
	TLSConfig *tls.Config
}

// SendMailFunc performs one complete SMTP transaction.
type SendMailFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// OptionFunc configures optional SMTPProvider settings.
type OptionFunc func(*SMTPProvider)

// WithLogger sets the logger. Nil keeps the default logger.
func WithLogger(logger *slog.Logger) OptionFunc {
	return func(p *SMTPProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// SMTPProvider delivers messages through an SMTP relay. STARTTLS is used
// when the relay advertises it; otherwise the transaction stays in
// plaintext.
type SMTPProvider struct {
	addr      string
	username  string
	password  string
	sender    string
	tlsConfig *tls.Config
	sendMail  SendMailFunc
	logger    *slog.Logger
}

// New creates a new SMTPProvider with the given configuration.
func New(cfg SMTPProviderConfig, options ...OptionFunc) *SMTPProvider {
	p := &SMTPProvider{
		addr:      cfg.Addr,
		username:  cfg.Username,
		password:  cfg.Password,
		sender:    cfg.Sender,
		tlsConfig: cfg.TLSConfig,
		logger:    slog.Default(),
	}
	p.sendMail = p.deliver
	for _, option := range options {
		option(p)
	}
	return p
}

// Send opens one SMTP transaction with destination as the only recipient.
func (p *SMTPProvider) Send(ctx context.Context, destination string, raw []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var auth sasl.Client
	if p.username != "" && p.password != "" {
		auth = sasl.NewPlainClient("", p.username, p.password)
	}

	err := p.sendMail(p.addr, auth, p.sender, []string{destination}, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("SMTP relay %s failed: %w", p.addr, err)
	}

	p.logger.Debug("SMTP relay accepted message",
		"relay", p.addr,
		"destination", destination,
	)
	return "", nil
}

// Name returns the provider name.
func (p *SMTPProvider) Name() string {
	return "smtp"
}

// deliver is the default SendMailFunc. Unlike gosmtp.SendMail it does not
// insist on STARTTLS.
func (p *SMTPProvider) deliver(addr string, a sasl.Client, from string, to []string, r io.Reader) error {
	c, err := gosmtp.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(p.clientTLSConfig(addr)); err != nil {
			return err
		}
	}

	if a != nil {
		if err := c.Auth(a); err != nil {
			return err
		}
	}

	if err := c.SendMail(from, to, r); err != nil {
		return err
	}
	return c.Quit()
}

func (p *SMTPProvider) clientTLSConfig(addr string) *tls.Config {
	if p.tlsConfig != nil {
		return p.tlsConfig
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return &tls.Config{ServerName: host}
}
