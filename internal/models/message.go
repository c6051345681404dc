package models

import (
	"time"

	"github.com/mailfwd/y2g/internal/enum"
)

// Message is one forwarded email, identified by (account, mailbox,
// uidvalidity, uid). The row carries the full delivery state machine plus the
// separately-counted source deletion retry state.
type Message struct {
	ID           uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	AccountID    uint64     `gorm:"column:account_id;uniqueIndex:uq_messages_identity;not null"`
	MailboxName  string     `gorm:"column:mailbox_name;type:varchar(255);uniqueIndex:uq_messages_identity;not null"`
	UIDValidity  uint32     `gorm:"column:uidvalidity;uniqueIndex:uq_messages_identity;not null"`
	UID          uint32     `gorm:"column:uid;uniqueIndex:uq_messages_identity;not null"`
	MessageID    *string    `gorm:"column:message_id;type:varchar(998);index"`
	RFC822SHA256 string     `gorm:"column:rfc822_sha256;type:varchar(64);not null"`
	InternalDate *time.Time `gorm:"column:imap_internaldate;type:timestamp"`
	IMAPFlags    StringList `gorm:"column:imap_flags;type:text"`

	State         enum.MessageState `gorm:"column:state;type:varchar(20);index;not null"`
	AttemptCount  int               `gorm:"column:attempt_count;not null;default:0"`
	NextAttemptAt *time.Time        `gorm:"column:next_attempt_at;type:timestamp;index"`
	LastError     *string           `gorm:"column:last_error;type:text"`

	GmailMessageID *string `gorm:"column:gmail_message_id;type:varchar(255)"`
	GmailThreadID  *string `gorm:"column:gmail_thread_id;type:varchar(255)"`

	YahooDeletedAt           *time.Time `gorm:"column:yahoo_deleted_at;type:timestamp"`
	YahooDeleteAttemptCount  int        `gorm:"column:yahoo_delete_attempt_count;not null;default:0"`
	YahooDeleteNextAttemptAt *time.Time `gorm:"column:yahoo_delete_next_attempt_at;type:timestamp;index"`
	YahooDeleteLastError     *string    `gorm:"column:yahoo_delete_last_error;type:text"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;not null"`
}

func (Message) TableName() string {
	return "messages"
}

// CorrelationID renders the identity used on every log line for this message.
func (m *Message) CorrelationID() string {
	return CorrelationID(m.MailboxName, m.UIDValidity, m.UID)
}
