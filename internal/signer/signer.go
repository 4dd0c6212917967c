// Package signer adds a fresh DKIM-Signature to forwarded messages so that
// they authenticate for the forwarding domain.
package signer

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/emersion/go-msgauth/dkim"
)

// SignerConfig holds the configuration for creating a Signer.
type SignerConfig struct {
	Domain         string
	Selector       string
	PrivateKeyFile string
}

// Signer signs serialized messages with a single key.
type Signer struct {
	options *dkim.SignOptions
}

// New loads the PEM private key from cfg.PrivateKeyFile.
func New(cfg SignerConfig) (*Signer, error) {
	data, err := os.ReadFile(cfg.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read DKIM private key: %w", err)
	}

	key, err := ParsePrivateKey(data)
	if err != nil {
		return nil, err
	}

	return NewWithKey(cfg.Domain, cfg.Selector, key), nil
}

// NewWithKey creates a Signer from an already loaded key.
func NewWithKey(domain, selector string, key crypto.Signer) *Signer {
	return &Signer{
		options: &dkim.SignOptions{
			Domain:                 domain,
			Selector:               selector,
			Signer:                 key,
			HeaderCanonicalization: dkim.CanonicalizationRelaxed,
			BodyCanonicalization:   dkim.CanonicalizationRelaxed,
		},
	}
}

// Sign returns raw with a DKIM-Signature field prepended.
func (s *Signer) Sign(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := dkim.Sign(&buf, bytes.NewReader(raw), s.options); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return buf.Bytes(), nil
}

// ParsePrivateKey decodes an RSA (PKCS#1 or PKCS#8) or Ed25519 (PKCS#8)
// private key from PEM.
func ParsePrivateKey(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found in DKIM private key")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#1 private key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		switch key := key.(type) {
		case *rsa.PrivateKey:
			return key, nil
		case ed25519.PrivateKey:
			return key, nil
		default:
			return nil, fmt.Errorf("unsupported DKIM key type %T", key)
		}
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}
