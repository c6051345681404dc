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

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) interfaces.AccountRepository {
	return &accountRepository{db: db}
}

// Ensure returns the account row for the Yahoo address, creating it on first
// run and updating the Gmail user when the configuration changed.
func (r *accountRepository) Ensure(ctx context.Context, yahooEmail, gmailUser string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Ensure")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagAccount(span, yahooEmail)

	var account models.Account
	result := r.db.WithContext(ctx).
		Where("yahoo_email = ?", yahooEmail).
		First(&account)

	if result.Error != nil {
		if result.Error != gorm.ErrRecordNotFound {
			tracing.TraceErr(span, result.Error)
			return nil, fmt.Errorf("failed to get account: %w", result.Error)
		}

		account = models.Account{
			YahooEmail: yahooEmail,
			GmailUser:  gmailUser,
			CreatedAt:  utils.Now(),
		}
		if err := r.db.WithContext(ctx).Create(&account).Error; err != nil {
			tracing.TraceErr(span, err)
			return nil, fmt.Errorf("failed to create account: %w", err)
		}
		return &account, nil
	}

	if account.GmailUser != gmailUser {
		if err := r.db.WithContext(ctx).
			Model(&account).
			Update("gmail_user", gmailUser).Error; err != nil {
			tracing.TraceErr(span, err)
			return nil, fmt.Errorf("failed to update account: %w", err)
		}
		account.GmailUser = gmailUser
	}

	return &account, nil
}
