package interfaces

import (
	"context"
	"time"
)

// GmailDelivery wraps the destination API calls used by the forwarding path.
type GmailDelivery interface {
	ImportRawMessage(ctx context.Context, raw []byte, labelIDs []string, threadID string) (string, string, error)
	FindThreadByMessageID(ctx context.Context, messageID string) (string, error)
	EnsureLabel(ctx context.Context, name string) (string, error)
	SystemLabelIDs(ctx context.Context, names []string) (map[string]string, error)
}

// TokenStatus summarizes the stored Gmail credential for the admin surface.
type TokenStatus struct {
	Present               bool
	Valid                 bool
	Expiry                *time.Time
	LastRefreshAt         *time.Time
	RefreshTokenUpdatedAt *time.Time
}

// GmailServiceManager is the credential broker. GetService returns a ready
// delivery client, refreshing or reloading the underlying token as needed;
// the error is an OAuthError when no usable credential exists.
type GmailServiceManager interface {
	GetService(ctx context.Context) (GmailDelivery, error)
	AuthURL() string
	ExchangeCode(ctx context.Context, code string) error
	TokenStatus(ctx context.Context) TokenStatus
}
