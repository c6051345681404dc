package models

import (
	"time"
)

// GmailLabel caches the Gmail label id resolved for a label name.
type GmailLabel struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	AccountID uint64    `gorm:"column:account_id;uniqueIndex:uq_gmail_labels_account_name;not null"`
	LabelName string    `gorm:"column:label_name;type:varchar(255);uniqueIndex:uq_gmail_labels_account_name;not null"`
	LabelID   string    `gorm:"column:label_id;type:varchar(255);not null"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;not null"`
}

func (GmailLabel) TableName() string {
	return "gmail_labels"
}
