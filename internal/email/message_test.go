package email

import (
	"strings"
	"testing"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMessage(fields [][2]string, body string) *Message {
	var h textproto.Header
	// Add prepends, so walk backwards to keep the listed order.
	for i := len(fields) - 1; i >= 0; i-- {
		h.Add(fields[i][0], fields[i][1])
	}
	return &Message{
		Header: mail.Header{Header: message.Header{Header: h}},
		Body:   []byte(body),
	}
}

func TestKeysPreservesOrderAndDuplicates(t *testing.T) {
	t.Parallel()

	msg := newMessage([][2]string{
		{"Received", "from a"},
		{"Received", "from b"},
		{"From", "alice@example.com"},
		{"Subject", "hi"},
	}, "body")

	assert.Equal(t, []string{"Received", "Received", "From", "Subject"}, msg.Keys())
}

func TestHeaderLookupIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	msg := newMessage([][2]string{{"Reply-To", "someone@example.com"}}, "")

	assert.Equal(t, "someone@example.com", msg.Header.Get("reply-to"))
	msg.Header.Del("REPLY-TO")
	assert.False(t, msg.Header.Has("Reply-To"))
}

func TestSubjectRoundtrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		subject string
	}{
		{name: "ascii", subject: "[list] Hello"},
		{name: "empty", subject: ""},
		{name: "non-ascii", subject: "[list] Grüße"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			msg := newMessage(nil, "")
			msg.SetSubject(c.subject)
			assert.Equal(t, c.subject, msg.Subject())
		})
	}
}

func TestSetSubjectKeepsASCIIVerbatim(t *testing.T) {
	t.Parallel()

	msg := newMessage([][2]string{{"Subject", "old"}, {"Subject", "older"}}, "")
	msg.SetSubject("[list] Hello")

	assert.Equal(t, "[list] Hello", msg.Header.Get("Subject"))
	assert.Equal(t, []string{"Subject"}, msg.Keys())
}

func TestBytes(t *testing.T) {
	t.Parallel()

	msg := newMessage([][2]string{
		{"From", "alice@example.com"},
		{"Subject", "Hello"},
	}, "line one\r\nline two\r\n")

	raw, err := msg.Bytes()
	require.NoError(t, err)

	want := strings.Join([]string{
		"From: alice@example.com",
		"Subject: Hello",
		"",
		"line one",
		"line two",
		"",
	}, "\r\n")
	assert.Equal(t, want, string(raw))
}
