// Package util provides common utility functions used across the
// mcp-auth library.
package util

// SafeTruncate safely truncates a string to maxLen characters without
// panicking. Returns the original string if it is shorter than maxLen,
// otherwise the first maxLen characters. Used when logging token
// prefixes, where only a short prefix may be shown.
//
// A negative maxLen is treated as 0 and returns an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
