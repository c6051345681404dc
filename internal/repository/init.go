package repository

import (
	"gorm.io/gorm"

	"github.com/mailfwd/y2g/interfaces"
	"github.com/mailfwd/y2g/internal/models"
)

type Repositories struct {
	AccountRepository      interfaces.AccountRepository
	MailboxStateRepository interfaces.MailboxStateRepository
	MessageRepository      interfaces.MessageRepository
	SecretRepository       interfaces.SecretRepository
	AlertRepository        interfaces.AlertRepository
	GmailLabelRepository   interfaces.GmailLabelRepository
}

func InitRepositories(db *gorm.DB, masterKey []byte) *Repositories {
	return &Repositories{
		AccountRepository:      NewAccountRepository(db),
		MailboxStateRepository: NewMailboxStateRepository(db),
		MessageRepository:      NewMessageRepository(db),
		SecretRepository:       NewSecretRepository(db, masterKey),
		AlertRepository:        NewAlertRepository(db),
		GmailLabelRepository:   NewGmailLabelRepository(db),
	}
}

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.MailboxState{},
		&models.Message{},
		&models.Secret{},
		&models.Alert{},
		&models.GmailLabel{},
	)
}
