package interfaces

import (
	"context"
	"time"

	"github.com/mailfwd/y2g/internal/enum"
	"github.com/mailfwd/y2g/internal/models"
)

type AccountRepository interface {
	Ensure(ctx context.Context, yahooEmail, gmailUser string) (*models.Account, error)
}

type MailboxStateRepository interface {
	Get(ctx context.Context, accountID uint64, name string) (*models.MailboxState, error)
	Save(ctx context.Context, state *models.MailboxState) error
	UpdateCursor(ctx context.Context, accountID uint64, name string, uidvalidity, lastSeenUID uint32) error
	ResetForUIDValidity(ctx context.Context, accountID uint64, name string, uidvalidity uint32) error
}

type MessageRepository interface {
	// Store inserts the row unless the (account, mailbox, uidvalidity, uid)
	// identity already exists. Returns true when a row was created.
	Store(ctx context.Context, msg *models.Message) (bool, error)
	GetByID(ctx context.Context, id uint64) (*models.Message, error)

	AcquireInsertLease(ctx context.Context, id uint64, now time.Time) (bool, error)
	MarkInserted(ctx context.Context, id uint64, gmailMessageID, gmailThreadID string) error
	MarkFailedRetry(ctx context.Context, id uint64, lastError string, nextAttemptAt time.Time) error
	MarkFailedPerm(ctx context.Context, id uint64, lastError string) error
	RecoverStuckInsertions(ctx context.Context, olderThan time.Time) (int64, error)

	SelectDueInsertions(ctx context.Context, now time.Time, limit int) ([]*models.Message, error)
	SelectDueDeletions(ctx context.Context, now time.Time, limit int) ([]*models.Message, error)
	MarkYahooDeleted(ctx context.Context, id uint64) error
	MarkYahooDeleteFailed(ctx context.Context, id uint64, lastError string, nextAttemptAt time.Time) error

	CountByState(ctx context.Context) (map[enum.MessageState]int64, error)
	LastInserted(ctx context.Context) (*models.Message, error)
	LastYahooDeleted(ctx context.Context) (*models.Message, error)
	LastErrored(ctx context.Context) (*models.Message, error)
}

type SecretRepository interface {
	Set(ctx context.Context, key, plaintext string) error
	Get(ctx context.Context, key string) (string, error)
	CreatedAt(ctx context.Context, key string) (*time.Time, error)
}

type AlertRepository interface {
	Record(ctx context.Context, alert *models.Alert) error
	LastSuccessAt(ctx context.Context, kind enum.AlertKind) (*time.Time, error)
	Recent(ctx context.Context, limit int) ([]*models.Alert, error)
}

type GmailLabelRepository interface {
	Get(ctx context.Context, accountID uint64, name string) (*models.GmailLabel, error)
	Save(ctx context.Context, accountID uint64, name, labelID string) error
}
