package interfaces

import (
	"context"
	"time"
)

// FetchedMessage is the raw RFC822 payload of a single UID together with the
// metadata captured at fetch time.
type FetchedMessage struct {
	UID          uint32
	Raw          []byte
	Flags        []string
	InternalDate time.Time
}

// IMAPClient is one authenticated IMAP connection. Select establishes the
// active mailbox for the search and fetch operations; DeleteUID performs its
// own read-write select and verifies UIDVALIDITY before expunging.
type IMAPClient interface {
	ListMailboxes() ([]string, error)
	Select(mailbox string, readOnly bool) (uint32, error)
	SearchSince(lastSeenUID uint32) ([]uint32, error)
	SearchAll() ([]uint32, error)
	FetchMessage(uid uint32) (*FetchedMessage, error)
	DeleteUID(mailbox string, uidvalidity, uid uint32) error
	SupportsIdle() (bool, error)
	IdleWait(timeout time.Duration) (bool, error)
	Noop() error
	Logout() error
}

// IMAPClientFactory dials and authenticates a fresh connection.
type IMAPClientFactory func(ctx context.Context) (IMAPClient, error)
