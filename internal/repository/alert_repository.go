package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailfwd/y2g/interfaces"
	"github.com/mailfwd/y2g/internal/enum"
	"github.com/mailfwd/y2g/internal/models"
	"github.com/mailfwd/y2g/internal/tracing"
	"github.com/mailfwd/y2g/internal/utils"
)

type alertRepository struct {
	db *gorm.DB
}

func NewAlertRepository(db *gorm.DB) interfaces.AlertRepository {
	return &alertRepository{db: db}
}

func (r *alertRepository) Record(ctx context.Context, alert *models.Alert) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "alertRepository.Record")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	alert.CreatedAt = utils.Now()
	if err := r.db.WithContext(ctx).Create(alert).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to record alert: %w", err)
	}

	return nil
}

// LastSuccessAt returns the time of the most recent successfully delivered
// alert of the kind. Failed attempts do not arm the cooldown.
func (r *alertRepository) LastSuccessAt(ctx context.Context, kind enum.AlertKind) (*time.Time, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "alertRepository.LastSuccessAt")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	var alert models.Alert
	result := r.db.WithContext(ctx).
		Where("kind = ? AND success = ?", kind, true).
		Order("created_at DESC").
		First(&alert)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get last alert: %w", result.Error)
	}

	return &alert.CreatedAt, nil
}

func (r *alertRepository) Recent(ctx context.Context, limit int) ([]*models.Alert, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "alertRepository.Recent")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	var alerts []*models.Alert
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get recent alerts: %w", err)
	}

	return alerts, nil
}
