// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the forwarder.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultVerifiedSender is used for Reply-To and Return-Path when
// VERIFIED_FROM_EMAIL is not set.
const defaultVerifiedSender = "noreply@example.com"

// Supported delivery providers.
const (
	ProviderSES    = "ses"
	ProviderSMTP   = "smtp"
	ProviderStdout = "stdout"
)

// Environment variable names.
const (
	envTarget         = "MSG_TARGET"
	envToList         = "MSG_TO_LIST"
	envVerifiedSender = "VERIFIED_FROM_EMAIL"
	envSubjectPrefix  = "SUBJECT_PREFIX"
	envBucket         = "SES_INCOMING_BUCKET"
	envKeyPrefix      = "S3_PREFIX"
	envS3Region       = "S3_REGION"
	envProvider       = "PROVIDER"
	envSESRegion      = "SES_REGION"
	envSESAccessKeyID = "SES_ACCESS_KEY_ID"
	envSESSecretKey   = "SES_SECRET_ACCESS_KEY"
	envSESConfigSet   = "SES_CONFIGURATION_SET"
	envSMTPAddr       = "SMTP_RELAY_ADDR"
	envSMTPUsername   = "SMTP_RELAY_USERNAME"
	envSMTPPassword   = "SMTP_RELAY_PASSWORD"
	envDKIMDomain     = "DKIM_DOMAIN"
	envDKIMSelector   = "DKIM_SELECTOR"
	envDKIMPrivateKey = "DKIM_PRIVATE_KEY_FILE"
	envLogLevel       = "LOG_LEVEL"
	envLogFormat      = "LOG_FORMAT"
)

// Config holds the complete application configuration.
type Config struct {
	Provider   string          `yaml:"provider"`
	Forwarder  ForwarderConfig `yaml:"forwarder"`
	Forwarding ForwardMapping  `yaml:"forwarding"`
	Storage    StorageConfig   `yaml:"storage"`
	SES        SESConfig       `yaml:"ses"`
	SMTP       SMTPConfig      `yaml:"smtp"`
	DKIM       DKIMConfig      `yaml:"dkim"`
	Logging    LoggingConfig   `yaml:"logging"`
}

// ForwarderConfig holds the header rewriting settings and the single
// target/list pair that can be given through the environment.
type ForwarderConfig struct {
	Target         string `yaml:"target"`
	ToList         string `yaml:"to_list"`
	VerifiedSender string `yaml:"verified_sender"`
	SubjectPrefix  string `yaml:"subject_prefix"`
}

// StorageConfig locates the raw messages written by the SES receipt rule.
type StorageConfig struct {
	Bucket    string `yaml:"bucket"`
	KeyPrefix string `yaml:"key_prefix"`
	Region    string `yaml:"region"`
}

// SESConfig holds AWS SES v2 configuration. Empty credentials fall back to
// the default AWS credential chain.
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// SMTPConfig holds the outbound SMTP relay configuration.
type SMTPConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DKIMConfig enables re-signing of forwarded messages when fully set.
type DKIMConfig struct {
	Domain         string `yaml:"domain"`
	Selector       string `yaml:"selector"`
	PrivateKeyFile string `yaml:"private_key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// Validate reports every missing or inconsistent setting in one error.
func (c *Config) Validate() error {
	var missing []string

	if c.Storage.Bucket == "" {
		missing = append(missing, envBucket)
	}

	hasTarget := c.Forwarder.Target != ""
	hasList := c.Forwarder.ToList != ""
	switch {
	case hasTarget && !hasList:
		missing = append(missing, envToList)
	case !hasTarget && hasList:
		missing = append(missing, envTarget)
	case !hasTarget && !hasList && len(c.Forwarding) == 0:
		missing = append(missing, envTarget, envToList)
	}

	if c.Provider == ProviderSMTP && c.SMTP.Addr == "" {
		missing = append(missing, envSMTPAddr)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	switch c.Provider {
	case ProviderSES, ProviderSMTP, ProviderStdout:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	if c.DKIMConfigured() != c.DKIMPartiallyConfigured() {
		return fmt.Errorf("%s, %s and %s must be set together", envDKIMDomain, envDKIMSelector, envDKIMPrivateKey)
	}

	return nil
}

// Mapping returns the forwarding table: the YAML entries plus the
// MSG_TARGET/MSG_TO_LIST pair, which wins on conflict. The result is a
// fresh copy that callers may keep.
func (c *Config) Mapping() ForwardMapping {
	m := make(ForwardMapping, len(c.Forwarding)+1)
	for recipient, forwards := range c.Forwarding {
		m[recipient] = forwards
	}
	if c.Forwarder.Target != "" {
		m[c.Forwarder.Target] = c.Forwarder.ToList
	}
	return m
}

// DKIMConfigured returns true if all three DKIM settings are present.
func (c *Config) DKIMConfigured() bool {
	return c.DKIM.Domain != "" &&
		c.DKIM.Selector != "" &&
		c.DKIM.PrivateKeyFile != ""
}

// DKIMPartiallyConfigured returns true if any DKIM setting is present.
func (c *Config) DKIMPartiallyConfigured() bool {
	return c.DKIM.Domain != "" ||
		c.DKIM.Selector != "" ||
		c.DKIM.PrivateKeyFile != ""
}

// SMTPAuthEnabled returns true if both relay username and password are set.
func (c *Config) SMTPAuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Provider = ProviderSES
	c.Forwarder.VerifiedSender = defaultVerifiedSender
	c.Logging.Level = "info"
	c.Logging.Format = "json"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	setFromEnv(&c.Forwarder.Target, envTarget)
	setFromEnv(&c.Forwarder.ToList, envToList)
	setFromEnv(&c.Forwarder.VerifiedSender, envVerifiedSender)
	setFromEnv(&c.Forwarder.SubjectPrefix, envSubjectPrefix)

	setFromEnv(&c.Storage.Bucket, envBucket)
	setFromEnv(&c.Storage.KeyPrefix, envKeyPrefix)
	setFromEnv(&c.Storage.Region, envS3Region)

	if v := os.Getenv(envProvider); v != "" {
		c.Provider = strings.ToLower(v)
	}

	setFromEnv(&c.SES.Region, envSESRegion)
	setFromEnv(&c.SES.AccessKeyID, envSESAccessKeyID)
	setFromEnv(&c.SES.SecretAccessKey, envSESSecretKey)
	setFromEnv(&c.SES.ConfigurationSet, envSESConfigSet)

	setFromEnv(&c.SMTP.Addr, envSMTPAddr)
	setFromEnv(&c.SMTP.Username, envSMTPUsername)
	setFromEnv(&c.SMTP.Password, envSMTPPassword)

	setFromEnv(&c.DKIM.Domain, envDKIMDomain)
	setFromEnv(&c.DKIM.Selector, envDKIMSelector)
	setFromEnv(&c.DKIM.PrivateKeyFile, envDKIMPrivateKey)

	if v := os.Getenv(envLogLevel); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(envLogFormat); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
}

func setFromEnv(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}
