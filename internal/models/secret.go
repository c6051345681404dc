package models

import (
	"time"
)

// Secret is an AES-GCM encrypted value. CreatedAt is replaced on every write
// and doubles as the rotation signal watched by the credential broker.
type Secret struct {
	Key        string    `gorm:"column:key;type:varchar(100);primaryKey"`
	Ciphertext []byte    `gorm:"column:ciphertext;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamp;not null"`
}

func (Secret) TableName() string {
	return "secrets"
}
