package imap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterWatchable_KeepsInboxAndSpamFolders(t *testing.T) {
	// Arrange
	names := []string{"INBOX", "Bulk Mail", "Junk", "Sent", "Draft", "Trash", "Archive", "Notes"}

	// Act
	watchable := FilterWatchable(names)

	// Assert
	assert.Equal(t, []string{"INBOX", "Bulk Mail", "Junk"}, watchable)
}

func TestFilterWatchable_ExclusionWinsOverSpamToken(t *testing.T) {
	// Arrange: "junk" and "deleted" both match; the exclusion wins
	names := []string{"Deleted Junk"}

	// Act
	watchable := FilterWatchable(names)

	// Assert
	assert.Equal(t, []string{"INBOX"}, watchable)
}

func TestFilterWatchable_AlwaysIncludesInbox(t *testing.T) {
	// Act
	watchable := FilterWatchable(nil)

	// Assert
	assert.Equal(t, []string{"INBOX"}, watchable)
}

func TestFilterWatchable_DedupesPreservingOrder(t *testing.T) {
	// Arrange
	names := []string{"Spam", "Bulk", "Spam"}

	// Act
	watchable := FilterWatchable(names)

	// Assert
	assert.Equal(t, []string{"INBOX", "Spam", "Bulk"}, watchable)
}
