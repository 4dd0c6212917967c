// Package email defines the core email data model used throughout the forwarder.
package email

import (
	"bytes"
	"fmt"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// Message is a parsed email: an ordered, case-insensitive header multi-map
// plus the body exactly as it was received. Only the header is ever mutated.
type Message struct {
	Header mail.Header
	Body   []byte
}

// Subject returns the decoded Subject header. If the value cannot be decoded
// (e.g. an unknown charset) the raw header value is returned instead.
func (m *Message) Subject() string {
	subject, err := m.Header.Subject()
	if err != nil {
		return m.Header.Get("Subject")
	}
	return subject
}

// SetSubject replaces every Subject field with a single one.
// Non-ASCII values are written as RFC 2047 encoded-words.
func (m *Message) SetSubject(subject string) {
	m.Header.SetSubject(subject)
}

// Keys returns the header field names in the order they will be written.
func (m *Message) Keys() []string {
	keys := make([]string, 0, m.Header.Len())
	fields := m.Header.Fields()
	for fields.Next() {
		keys = append(keys, fields.Key())
	}
	return keys
}

// Bytes serializes the message in RFC 5322 form: header fields, an empty
// line, then the untouched body.
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, m.Header.Header.Header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	buf.Write(m.Body)
	return buf.Bytes(), nil
}
