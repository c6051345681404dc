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

type gmailLabelRepository struct {
	db *gorm.DB
}

func NewGmailLabelRepository(db *gorm.DB) interfaces.GmailLabelRepository {
	return &gmailLabelRepository{db: db}
}

func (r *gmailLabelRepository) Get(ctx context.Context, accountID uint64, name string) (*models.GmailLabel, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailLabelRepository.Get")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	var label models.GmailLabel
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND label_name = ?", accountID, name).
		First(&label)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get gmail label: %w", result.Error)
	}

	return &label, nil
}

func (r *gmailLabelRepository) Save(ctx context.Context, accountID uint64, name, labelID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailLabelRepository.Save")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	now := utils.Now()

	// Try to update first
	result := r.db.WithContext(ctx).
		Model(&models.GmailLabel{}).
		Where("account_id = ? AND label_name = ?", accountID, name).
		Updates(map[string]interface{}{
			"label_id":   labelID,
			"updated_at": now,
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save gmail label: %w", result.Error)
	}

	// If no record was updated, create a new one
	if result.RowsAffected == 0 {
		label := models.GmailLabel{
			AccountID: accountID,
			LabelName: name,
			LabelID:   labelID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.db.WithContext(ctx).Create(&label).Error; err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to create gmail label: %w", err)
		}
	}

	return nil
}
