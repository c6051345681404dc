package models

import (
	"time"
)

// Account pairs a Yahoo source address with the Gmail user it forwards into.
type Account struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	YahooEmail string    `gorm:"column:yahoo_email;type:varchar(255);uniqueIndex;not null"`
	GmailUser  string    `gorm:"column:gmail_user;type:varchar(255);not null"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamp;not null"`
}

func (Account) TableName() string {
	return "accounts"
}
