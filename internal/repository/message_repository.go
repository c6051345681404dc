package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mailfwd/y2g/interfaces"
	"github.com/mailfwd/y2g/internal/enum"
	"github.com/mailfwd/y2g/internal/models"
	"github.com/mailfwd/y2g/internal/tracing"
	"github.com/mailfwd/y2g/internal/utils"
)

const leaseTimeout = 10 * time.Minute

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) interfaces.MessageRepository {
	return &messageRepository{db: db}
}

// Store inserts a newly fetched message unless its identity already exists.
func (r *messageRepository) Store(ctx context.Context, msg *models.Message) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.Store")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagMailbox(span, msg.MailboxName)

	now := utils.Now()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "account_id"},
				{Name: "mailbox_name"},
				{Name: "uidvalidity"},
				{Name: "uid"},
			},
			DoNothing: true,
		}).
		Create(msg)

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, fmt.Errorf("failed to store message: %w", result.Error)
	}

	return result.RowsAffected == 1, nil
}

func (r *messageRepository) GetByID(ctx context.Context, id uint64) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	var msg models.Message
	result := r.db.WithContext(ctx).First(&msg, id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get message: %w", result.Error)
	}

	return &msg, nil
}

// AcquireInsertLease transitions the row to INSERTING if and only if it is
// currently due. Exactly one worker can win the conditional update.
func (r *messageRepository) AcquireInsertLease(ctx context.Context, id uint64, now time.Time) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.AcquireInsertLease")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND state IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
			id,
			[]enum.MessageState{enum.MessageStateFetched, enum.MessageStateFailedRetry},
			now).
		Updates(map[string]interface{}{
			"state":      enum.MessageStateInserting,
			"updated_at": now,
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, fmt.Errorf("failed to acquire lease: %w", result.Error)
	}

	return result.RowsAffected == 1, nil
}

func (r *messageRepository) MarkInserted(ctx context.Context, id uint64, gmailMessageID, gmailThreadID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.MarkInserted")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":            enum.MessageStateInserted,
			"gmail_message_id": gmailMessageID,
			"gmail_thread_id":  gmailThreadID,
			"last_error":       nil,
			"next_attempt_at":  nil,
			"updated_at":       utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to mark inserted: %w", result.Error)
	}

	return nil
}

func (r *messageRepository) MarkFailedRetry(ctx context.Context, id uint64, lastError string, nextAttemptAt time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.MarkFailedRetry")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":           enum.MessageStateFailedRetry,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"next_attempt_at": nextAttemptAt,
			"last_error":      lastError,
			"updated_at":      utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to mark failed_retry: %w", result.Error)
	}

	return nil
}

func (r *messageRepository) MarkFailedPerm(ctx context.Context, id uint64, lastError string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.MarkFailedPerm")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":           enum.MessageStateFailedPerm,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"next_attempt_at": nil,
			"last_error":      lastError,
			"updated_at":      utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to mark failed_perm: %w", result.Error)
	}

	return nil
}

// RecoverStuckInsertions sweeps INSERTING rows whose lease expired back to
// FAILED_RETRY so a crashed worker cannot strand them.
func (r *messageRepository) RecoverStuckInsertions(ctx context.Context, olderThan time.Time) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.RecoverStuckInsertions")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("state = ? AND updated_at <= ?", enum.MessageStateInserting, olderThan).
		Updates(map[string]interface{}{
			"state":           enum.MessageStateFailedRetry,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"next_attempt_at": nil,
			"last_error":      "lease_timeout",
			"updated_at":      utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, fmt.Errorf("failed to recover stuck insertions: %w", result.Error)
	}

	span.LogFields(tracingLog.Int64("recovered", result.RowsAffected))
	return result.RowsAffected, nil
}

// SelectDueInsertions returns due delivery work, never-attempted rows first.
func (r *messageRepository) SelectDueInsertions(ctx context.Context, now time.Time, limit int) ([]*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.SelectDueInsertions")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	var msgs []*models.Message
	err := r.db.WithContext(ctx).
		Where("state IN ?", []enum.MessageState{enum.MessageStateFetched, enum.MessageStateFailedRetry}).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("(next_attempt_at IS NULL) DESC, next_attempt_at ASC, created_at ASC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to select due insertions: %w", err)
	}

	span.LogFields(tracingLog.Int("count", len(msgs)))
	return msgs, nil
}

// SelectDueDeletions returns delivered rows whose source copy still needs
// removing and whose deletion backoff has elapsed.
func (r *messageRepository) SelectDueDeletions(ctx context.Context, now time.Time, limit int) ([]*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.SelectDueDeletions")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	var msgs []*models.Message
	err := r.db.WithContext(ctx).
		Where("state = ? AND gmail_message_id IS NOT NULL AND yahoo_deleted_at IS NULL", enum.MessageStateInserted).
		Where("yahoo_delete_next_attempt_at IS NULL OR yahoo_delete_next_attempt_at <= ?", now).
		Order("(yahoo_delete_next_attempt_at IS NULL) DESC, yahoo_delete_next_attempt_at ASC, updated_at ASC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to select due deletions: %w", err)
	}

	span.LogFields(tracingLog.Int("count", len(msgs)))
	return msgs, nil
}

func (r *messageRepository) MarkYahooDeleted(ctx context.Context, id uint64) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.MarkYahooDeleted")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	now := utils.Now()
	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"yahoo_deleted_at":             now,
			"yahoo_delete_next_attempt_at": nil,
			"yahoo_delete_last_error":      nil,
			"updated_at":                   now,
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to mark yahoo deleted: %w", result.Error)
	}

	return nil
}

func (r *messageRepository) MarkYahooDeleteFailed(ctx context.Context, id uint64, lastError string, nextAttemptAt time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.MarkYahooDeleteFailed")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"yahoo_delete_attempt_count":   gorm.Expr("yahoo_delete_attempt_count + 1"),
			"yahoo_delete_next_attempt_at": nextAttemptAt,
			"yahoo_delete_last_error":      lastError,
			"updated_at":                   utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to mark yahoo delete failed: %w", result.Error)
	}

	return nil
}

func (r *messageRepository) CountByState(ctx context.Context) (map[enum.MessageState]int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.CountByState")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	var rows []struct {
		State enum.MessageState
		Count int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Select("state, count(*) as count").
		Group("state").
		Find(&rows).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to count by state: %w", err)
	}

	counts := make(map[enum.MessageState]int64, len(rows))
	for _, row := range rows {
		counts[row.State] = row.Count
	}
	return counts, nil
}

func (r *messageRepository) LastInserted(ctx context.Context) (*models.Message, error) {
	return r.firstWhere(ctx, "messageRepository.LastInserted",
		"state = ?", []interface{}{enum.MessageStateInserted}, "updated_at DESC")
}

func (r *messageRepository) LastYahooDeleted(ctx context.Context) (*models.Message, error) {
	return r.firstWhere(ctx, "messageRepository.LastYahooDeleted",
		"yahoo_deleted_at IS NOT NULL", nil, "yahoo_deleted_at DESC")
}

func (r *messageRepository) LastErrored(ctx context.Context) (*models.Message, error) {
	return r.firstWhere(ctx, "messageRepository.LastErrored",
		"last_error IS NOT NULL", nil, "updated_at DESC")
}

func (r *messageRepository) firstWhere(ctx context.Context, operation, query string, args []interface{}, order string) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, operation)
	defer span.Finish()
	tracing.TagComponentRepository(span)

	var msg models.Message
	result := r.db.WithContext(ctx).
		Where(query, args...).
		Order(order).
		First(&msg)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to query message: %w", result.Error)
	}

	return &msg, nil
}

// LeaseTimeout is the window after which an INSERTING row is considered
// abandoned by its worker.
func LeaseTimeout() time.Duration {
	return leaseTimeout
}
