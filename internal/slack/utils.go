package slack

import "strings"

// StripMention removes a leading "<@USERID>" mention and returns the rest.
//
// For example, given "<@B123> outline my essay" it returns "outline my essay".
// Text without a leading mention is returned trimmed.
func StripMention(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "<@") {
		return trimmed
	}
	end := strings.IndexByte(trimmed, '>')
	if end < 0 {
		return trimmed
	}
	return strings.TrimSpace(trimmed[end+1:])
}
