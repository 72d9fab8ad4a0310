package credential

import "strings"

const (
	maskChar    = "*"
	maskVisible = 4
)

// Mask returns secret with everything but the last four characters
// replaced by '*'.  Secrets of four characters or fewer are fully masked.
// This is the only form in which a secret may reach logs, events or
// administrative summaries.
func Mask(secret string) string {
	r := []rune(secret)
	if len(r) <= maskVisible {
		return strings.Repeat(maskChar, len(r))
	}
	return strings.Repeat(maskChar, len(r)-maskVisible) + string(r[len(r)-maskVisible:])
}
