package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	y2g_errors "github.com/mailfwd/y2g/errors"
	"github.com/mailfwd/y2g/interfaces"
	"github.com/mailfwd/y2g/internal/crypto"
	"github.com/mailfwd/y2g/internal/models"
	"github.com/mailfwd/y2g/internal/tracing"
	"github.com/mailfwd/y2g/internal/utils"
)

type secretRepository struct {
	db        *gorm.DB
	masterKey []byte
}

// NewSecretRepository stores values AES-GCM encrypted under the master key.
func NewSecretRepository(db *gorm.DB, masterKey []byte) interfaces.SecretRepository {
	return &secretRepository{db: db, masterKey: masterKey}
}

// Set upserts the secret. created_at is replaced on every write; the
// credential broker uses it to detect external rotation.
func (r *secretRepository) Set(ctx context.Context, key, plaintext string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "secretRepository.Set")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	ciphertext, err := crypto.Encrypt(r.masterKey, []byte(plaintext))
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	now := utils.Now()

	// Try to update first
	result := r.db.WithContext(ctx).
		Model(&models.Secret{}).
		Where("key = ?", key).
		Updates(map[string]interface{}{
			"ciphertext": ciphertext,
			"created_at": now,
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save secret: %w", result.Error)
	}

	// If no record was updated, create a new one
	if result.RowsAffected == 0 {
		secret := models.Secret{Key: key, Ciphertext: ciphertext, CreatedAt: now}
		if err := r.db.WithContext(ctx).Create(&secret).Error; err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to create secret: %w", err)
		}
	}

	return nil
}

func (r *secretRepository) Get(ctx context.Context, key string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "secretRepository.Get")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	var secret models.Secret
	result := r.db.WithContext(ctx).
		Where("key = ?", key).
		First(&secret)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return "", y2g_errors.ErrSecretNotFound
		}
		tracing.TraceErr(span, result.Error)
		return "", fmt.Errorf("failed to get secret: %w", result.Error)
	}

	plaintext, err := crypto.Decrypt(r.masterKey, secret.Ciphertext)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", fmt.Errorf("failed to decrypt secret %s: %w", key, err)
	}

	return string(plaintext), nil
}

func (r *secretRepository) CreatedAt(ctx context.Context, key string) (*time.Time, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "secretRepository.CreatedAt")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	var secret models.Secret
	result := r.db.WithContext(ctx).
		Select("key", "created_at").
		Where("key = ?", key).
		First(&secret)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get secret created_at: %w", result.Error)
	}

	return &secret.CreatedAt, nil
}
