package util

import "regexp"

// nonDigitRegex matches every character that is not an ASCII digit.
var nonDigitRegex = regexp.MustCompile(`[^0-9]`)

// NormalizePhone returns the canonical sender identity for a phone-number-shaped
// string by stripping every non-digit character. It is idempotent, so
// "+1 (555) 123-4567" and "15551234567" both normalize to "15551234567".
// Transport prefixes such as "whatsapp:" are removed along with the other
// non-digits.
func NormalizePhone(raw string) string {
	return nonDigitRegex.ReplaceAllString(raw, "")
}
