package utils

import (
	"regexp"
	"strings"
)

var angleTokenRegex = regexp.MustCompile(`<[^<>]+>`)

// FirstAngleToken returns the first <...> substring of a header value, or the
// trimmed value when no angle-bracketed token is present. Empty input yields "".
func FirstAngleToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if match := angleTokenRegex.FindString(value); match != "" {
		return match
	}
	return value
}

// AngleTokens returns every <...> token of a header value in order.
func AngleTokens(value string) []string {
	return angleTokenRegex.FindAllString(value, -1)
}

func NormalizeMessageID(messageID string) string {
	messageID = strings.TrimSpace(messageID)
	messageID = strings.TrimPrefix(messageID, "<")
	messageID = strings.TrimSuffix(messageID, ">")
	return messageID
}
