package forwarder

import (
	"strings"

	"github.com/shineum/ses-forwarder-lite/internal/email"
)

// strippedHeaders reference the original transport path and are invalid
// once the message is re-sent from here.
var strippedHeaders = []string{
	"DKIM-Signature",
	"Sender",
	"Return-Path",
	"Reply-To",
}

func sanitizeHeaders(msg *email.Message) {
	for _, k := range strippedHeaders {
		msg.Header.Del(k)
	}
}

// setRedirectHeaders routes replies and bounces to an address the outbound
// service is allowed to use.
func setRedirectHeaders(msg *email.Message, verifiedSender string) {
	msg.Header.Set("Reply-To", verifiedSender)
	msg.Header.Set("Return-Path", verifiedSender)
}

// tagSubject prepends prefix and a space to the subject unless the subject
// already contains prefix, compared case-insensitively. A missing subject
// counts as empty. It reports the resulting subject and whether it changed.
func tagSubject(msg *email.Message, prefix string) (string, bool) {
	subject := msg.Subject()
	if prefix == "" || strings.Contains(strings.ToLower(subject), strings.ToLower(prefix)) {
		return subject, false
	}

	tagged := prefix + " " + subject
	msg.SetSubject(tagged)
	return tagged, true
}
