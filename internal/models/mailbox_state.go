package models

import (
	"time"
)

// MailboxState tracks the per-mailbox sync cursor. LastSeenUID is only
// meaningful together with UIDValidity; a UIDVALIDITY change resets the cursor.
type MailboxState struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	AccountID   uint64    `gorm:"column:account_id;uniqueIndex:uq_mailboxes_account_name;not null"`
	Name        string    `gorm:"column:name;type:varchar(255);uniqueIndex:uq_mailboxes_account_name;not null"`
	UIDValidity uint32    `gorm:"column:uidvalidity;not null"`
	LastSeenUID uint32    `gorm:"column:last_seen_uid;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamp;not null"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamp;not null"`
}

func (MailboxState) TableName() string {
	return "mailboxes"
}
