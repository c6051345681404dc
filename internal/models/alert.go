package models

import (
	"time"

	"github.com/mailfwd/y2g/internal/enum"
)

// Alert records every notification attempt, successful or not.
type Alert struct {
	ID        uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	Kind      enum.AlertKind `gorm:"column:kind;type:varchar(50);index;not null"`
	Title     string         `gorm:"column:title;type:varchar(255);not null"`
	Message   string         `gorm:"column:message;type:text;not null"`
	Success   bool           `gorm:"column:success;not null"`
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;index;not null"`
}

func (Alert) TableName() string {
	return "alerts"
}
