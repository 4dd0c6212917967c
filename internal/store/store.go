// Package store defines the interface for retrieving raw inbound messages.
package store

import "context"

// Fetcher retrieves the raw bytes of a stored message.
type Fetcher interface {
	// Fetch returns the full object stored under key in bucket.
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}
