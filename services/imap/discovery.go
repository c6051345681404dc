package imap

import (
	"strings"

	"github.com/mailfwd/y2g/interfaces"
)

var spamLikeTokens = []string{"bulk", "junk", "spam"}

var excludedTokens = []string{"sent", "draft", "trash", "deleted", "archive"}

// DiscoverMailboxes lists the server's mailboxes and filters them down to the
// set worth watching: INBOX plus spam-like folders.
func DiscoverMailboxes(c interfaces.IMAPClient) ([]string, error) {
	names, err := c.ListMailboxes()
	if err != nil {
		return nil, err
	}
	return FilterWatchable(names), nil
}

// FilterWatchable keeps INBOX and any folder whose name suggests bulk or spam
// delivery, unless the name also matches an excluded folder class. Order is
// preserved and INBOX always comes first.
func FilterWatchable(names []string) []string {
	result := []string{"INBOX"}
	seen := map[string]bool{"INBOX": true}

	for _, name := range names {
		if seen[name] || strings.EqualFold(name, "INBOX") {
			continue
		}
		lower := strings.ToLower(name)

		if containsAny(lower, excludedTokens) {
			continue
		}
		if containsAny(lower, spamLikeTokens) {
			result = append(result, name)
			seen[name] = true
		}
	}

	return result
}

func containsAny(s string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}
