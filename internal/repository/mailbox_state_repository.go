package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailfwd/y2g/interfaces"
	"github.com/mailfwd/y2g/internal/models"
	"github.com/mailfwd/y2g/internal/tracing"
	"github.com/mailfwd/y2g/internal/utils"
)

type mailboxStateRepository struct {
	db *gorm.DB
}

func NewMailboxStateRepository(db *gorm.DB) interfaces.MailboxStateRepository {
	return &mailboxStateRepository{db: db}
}

// Get retrieves the sync cursor for a mailbox
func (r *mailboxStateRepository) Get(ctx context.Context, accountID uint64, name string) (*models.MailboxState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxStateRepository.Get")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagMailbox(span, name)

	var state models.MailboxState
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND name = ?", accountID, name).
		First(&state)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil // No cursor yet
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get mailbox state: %w", result.Error)
	}

	return &state, nil
}

// Save upserts the sync cursor for a mailbox
func (r *mailboxStateRepository) Save(ctx context.Context, state *models.MailboxState) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxStateRepository.Save")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagMailbox(span, state.Name)

	now := utils.Now()

	// Try to update first
	result := r.db.WithContext(ctx).
		Model(&models.MailboxState{}).
		Where("account_id = ? AND name = ?", state.AccountID, state.Name).
		Updates(map[string]interface{}{
			"uidvalidity":   state.UIDValidity,
			"last_seen_uid": state.LastSeenUID,
			"updated_at":    now,
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save mailbox state: %w", result.Error)
	}

	// If no record was updated, create a new one
	if result.RowsAffected == 0 {
		state.CreatedAt = now
		state.UpdatedAt = now
		if err := r.db.WithContext(ctx).Create(state).Error; err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to create mailbox state: %w", err)
		}
	}

	return nil
}

// UpdateCursor advances the cursor after a batch was durably recorded
func (r *mailboxStateRepository) UpdateCursor(ctx context.Context, accountID uint64, name string, uidvalidity, lastSeenUID uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxStateRepository.UpdateCursor")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagMailbox(span, name)

	result := r.db.WithContext(ctx).
		Model(&models.MailboxState{}).
		Where("account_id = ? AND name = ?", accountID, name).
		Updates(map[string]interface{}{
			"uidvalidity":   uidvalidity,
			"last_seen_uid": lastSeenUID,
			"updated_at":    utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update cursor: %w", result.Error)
	}

	return nil
}

// ResetForUIDValidity records a new UIDVALIDITY and rewinds the cursor to 0
// in a single update, so no UID of the new generation can be skipped.
func (r *mailboxStateRepository) ResetForUIDValidity(ctx context.Context, accountID uint64, name string, uidvalidity uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxStateRepository.ResetForUIDValidity")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagMailbox(span, name)

	result := r.db.WithContext(ctx).
		Model(&models.MailboxState{}).
		Where("account_id = ? AND name = ?", accountID, name).
		Updates(map[string]interface{}{
			"uidvalidity":   uidvalidity,
			"last_seen_uid": 0,
			"updated_at":    utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to reset mailbox state: %w", result.Error)
	}

	return nil
}
