package scheduling

import (
	"strings"
	"time"
)

const linkPlaceholder = "{deal_id}"

// IsExpired reports whether the deal's customer link is no longer usable.
// A link is still valid at exactly ExpiresAt.
func IsExpired(d Deal, now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// BuildLink interpolates dealID into the customer link template. Templates
// without a {deal_id} placeholder are treated as a base URL.
func BuildLink(template, dealID string) string {
	if strings.Contains(template, linkPlaceholder) {
		return strings.ReplaceAll(template, linkPlaceholder, dealID)
	}
	return strings.TrimRight(template, "/") + "/" + dealID
}
