// Package provider defines the interface for outbound mail delivery backends.
package provider

import "context"

// Provider is the interface that delivery backends must implement.
// Each provider hands an already serialized message to the target
// service (SES, an SMTP relay, stdout).
type Provider interface {
	// Send delivers raw to exactly one destination address.
	// It returns the backend's message id, if it has one.
	Send(ctx context.Context, destination string, raw []byte) (string, error)

	// Name returns the human-readable name of this provider.
	Name() string
}
