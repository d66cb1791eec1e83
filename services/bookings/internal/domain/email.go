package domain

import "strings"

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail is a shape check only: one @ and a dotted domain.
func IsValidEmail(email string) bool {
	local, host, ok := strings.Cut(NormalizeEmail(email), "@")
	if !ok || strings.Contains(host, "@") {
		return false
	}
	return len(local) > 0 && len(host) > 2 && strings.Contains(host, ".")
}
