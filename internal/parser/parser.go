// Package parser decodes raw RFC 5322 messages into email.Message values.
package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/shineum/ses-forwarder-lite/internal/email"
)

// ErrEmptyMessage is returned when there is nothing to parse.
var ErrEmptyMessage = errors.New("empty message")

// Parse splits a raw message into its header fields and body. Header fields
// keep their original bytes (casing, folding, order) so that untouched fields
// are written back exactly as received. The body is not decoded.
func Parse(raw []byte) (*email.Message, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyMessage
	}

	br := bufio.NewReader(bytes.NewReader(raw))
	h, err := textproto.ReadHeader(br)
	// A header section terminated by EOF instead of an empty line is still a
	// complete message without a body.
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse message header: %w", err)
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}

	return &email.Message{
		Header: gomail.Header{Header: message.Header{Header: h}},
		Body:   body,
	}, nil
}

// ParseAddressList splits a comma-separated address list into bare addresses.
// It is lenient: when the list is not valid RFC 5322 it falls back to a plain
// comma split, dropping empty entries.
func ParseAddressList(raw string) []string {
	if raw == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, addr.Address)
	}
	return result
}
