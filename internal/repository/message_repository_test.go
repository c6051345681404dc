package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mailfwd/y2g/internal/enum"
	"github.com/mailfwd/y2g/internal/models"
	"github.com/mailfwd/y2g/internal/utils"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// every pooled connection to :memory: is a distinct database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, MigrateDB(db))
	return db
}

func storeMessage(t *testing.T, repo *messageRepository, uid uint32) *models.Message {
	t.Helper()
	msg := &models.Message{
		AccountID:    1,
		MailboxName:  "INBOX",
		UIDValidity:  7,
		UID:          uid,
		RFC822SHA256: "abc123",
		State:        enum.MessageStateFetched,
		IMAPFlags:    models.StringList{},
	}
	created, err := repo.Store(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, created)
	return msg
}

func TestMessageRepository_StoreIsIdempotent(t *testing.T) {
	// Arrange
	repo := NewMessageRepository(testDB(t)).(*messageRepository)
	storeMessage(t, repo, 42)

	// Act
	created, err := repo.Store(context.Background(), &models.Message{
		AccountID:    1,
		MailboxName:  "INBOX",
		UIDValidity:  7,
		UID:          42,
		RFC822SHA256: "other",
		State:        enum.MessageStateFetched,
	})

	// Assert
	require.NoError(t, err)
	assert.False(t, created)
}

func TestMessageRepository_LeaseWonOnce(t *testing.T) {
	// Arrange
	repo := NewMessageRepository(testDB(t)).(*messageRepository)
	msg := storeMessage(t, repo, 1)
	now := utils.Now()

	// Act
	first, err := repo.AcquireInsertLease(context.Background(), msg.ID, now)
	require.NoError(t, err)
	second, err := repo.AcquireInsertLease(context.Background(), msg.ID, now)
	require.NoError(t, err)

	// Assert
	assert.True(t, first)
	assert.False(t, second)

	got, err := repo.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.MessageStateInserting, got.State)
}

func TestMessageRepository_LeaseRespectsNextAttemptAt(t *testing.T) {
	// Arrange
	repo := NewMessageRepository(testDB(t)).(*messageRepository)
	msg := storeMessage(t, repo, 2)
	now := utils.Now()

	require.NoError(t, repo.MarkFailedRetry(context.Background(), msg.ID, "boom", now.Add(time.Hour)))

	// Act
	leased, err := repo.AcquireInsertLease(context.Background(), msg.ID, now)
	require.NoError(t, err)

	// Assert
	assert.False(t, leased)

	// Once the backoff elapses the lease can be taken again
	leased, err = repo.AcquireInsertLease(context.Background(), msg.ID, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, leased)
}

func TestMessageRepository_MarkFailedRetryIncrementsAttempts(t *testing.T) {
	// Arrange
	repo := NewMessageRepository(testDB(t)).(*messageRepository)
	msg := storeMessage(t, repo, 3)
	now := utils.Now()

	// Act
	require.NoError(t, repo.MarkFailedRetry(context.Background(), msg.ID, "first", now))
	require.NoError(t, repo.MarkFailedRetry(context.Background(), msg.ID, "second", now))

	// Assert
	got, err := repo.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, "second", utils.GetOrDefault(got.LastError, ""))
}

func TestMessageRepository_RecoverStuckInsertions(t *testing.T) {
	// Arrange
	repo := NewMessageRepository(testDB(t)).(*messageRepository)
	stuck := storeMessage(t, repo, 4)
	fresh := storeMessage(t, repo, 5)
	now := utils.Now()

	leased, err := repo.AcquireInsertLease(context.Background(), stuck.ID, now.Add(-20*time.Minute))
	require.NoError(t, err)
	require.True(t, leased)
	leased, err = repo.AcquireInsertLease(context.Background(), fresh.ID, now)
	require.NoError(t, err)
	require.True(t, leased)

	// Act
	recovered, err := repo.RecoverStuckInsertions(context.Background(), now.Add(-leaseTimeout))
	require.NoError(t, err)

	// Assert
	assert.Equal(t, int64(1), recovered)

	got, err := repo.GetByID(context.Background(), stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.MessageStateFailedRetry, got.State)
	assert.Equal(t, "lease_timeout", utils.GetOrDefault(got.LastError, ""))
	assert.Equal(t, 1, got.AttemptCount)

	got, err = repo.GetByID(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.MessageStateInserting, got.State)
}

func TestMessageRepository_SelectDueInsertionsOrdering(t *testing.T) {
	// Arrange
	repo := NewMessageRepository(testDB(t)).(*messageRepository)
	now := utils.Now()

	scheduled := storeMessage(t, repo, 10)
	require.NoError(t, repo.MarkFailedRetry(context.Background(), scheduled.ID, "x", now.Add(-time.Minute)))
	neverTried := storeMessage(t, repo, 11)
	future := storeMessage(t, repo, 12)
	require.NoError(t, repo.MarkFailedRetry(context.Background(), future.ID, "x", now.Add(time.Hour)))

	// Act
	due, err := repo.SelectDueInsertions(context.Background(), now, 50)
	require.NoError(t, err)

	// Assert: NULL next_attempt_at first, future rows excluded
	require.Len(t, due, 2)
	assert.Equal(t, neverTried.ID, due[0].ID)
	assert.Equal(t, scheduled.ID, due[1].ID)
}

func TestMessageRepository_SelectDueDeletions(t *testing.T) {
	// Arrange
	repo := NewMessageRepository(testDB(t)).(*messageRepository)
	now := utils.Now()

	delivered := storeMessage(t, repo, 20)
	require.NoError(t, repo.MarkInserted(context.Background(), delivered.ID, "g-msg", "g-thread"))

	pending := storeMessage(t, repo, 21)
	_ = pending

	deleted := storeMessage(t, repo, 22)
	require.NoError(t, repo.MarkInserted(context.Background(), deleted.ID, "g-msg-2", "g-thread-2"))
	require.NoError(t, repo.MarkYahooDeleted(context.Background(), deleted.ID))

	// Act
	due, err := repo.SelectDueDeletions(context.Background(), now, 50)
	require.NoError(t, err)

	// Assert
	require.Len(t, due, 1)
	assert.Equal(t, delivered.ID, due[0].ID)
}

func TestMessageRepository_DeletionBackoffCounterIsSeparate(t *testing.T) {
	// Arrange
	repo := NewMessageRepository(testDB(t)).(*messageRepository)
	now := utils.Now()

	msg := storeMessage(t, repo, 30)
	require.NoError(t, repo.MarkInserted(context.Background(), msg.ID, "g-msg", "g-thread"))

	// Act
	require.NoError(t, repo.MarkYahooDeleteFailed(context.Background(), msg.ID, "imap down", now.Add(time.Minute)))

	// Assert
	got, err := repo.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Equal(t, 1, got.YahooDeleteAttemptCount)
	assert.Equal(t, enum.MessageStateInserted, got.State)

	due, err := repo.SelectDueDeletions(context.Background(), now, 50)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestMessageRepository_CountByState(t *testing.T) {
	// Arrange
	repo := NewMessageRepository(testDB(t)).(*messageRepository)
	storeMessage(t, repo, 40)
	inserted := storeMessage(t, repo, 41)
	require.NoError(t, repo.MarkInserted(context.Background(), inserted.ID, "g", "t"))

	// Act
	counts, err := repo.CountByState(context.Background())
	require.NoError(t, err)

	// Assert
	assert.Equal(t, int64(1), counts[enum.MessageStateFetched])
	assert.Equal(t, int64(1), counts[enum.MessageStateInserted])
}
