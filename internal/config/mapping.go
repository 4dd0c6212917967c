package config

import "strings"

// ForwardMapping maps a receiving address to a comma-separated list of
// destination addresses. Lookups are exact.
type ForwardMapping map[string]string

// Destinations returns the destinations configured for recipient, split on
// commas exactly as written: segments are neither trimmed nor deduplicated,
// so a trailing comma yields an empty destination. ok is false when the
// recipient is unknown or mapped to an empty value.
func (m ForwardMapping) Destinations(recipient string) (destinations []string, ok bool) {
	forwards := m[recipient]
	if forwards == "" {
		return nil, false
	}
	return strings.Split(forwards, ","), true
}
