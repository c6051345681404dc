package gmail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	y2g_errors "github.com/mailfwd/y2g/errors"
	"github.com/mailfwd/y2g/interfaces"
	"github.com/mailfwd/y2g/internal/enum"
	"github.com/mailfwd/y2g/internal/logger"
	"github.com/mailfwd/y2g/internal/utils"
)

type serviceManager struct {
	log       logger.Logger
	secrets   interfaces.SecretRepository
	labels    interfaces.GmailLabelRepository
	conf      *oauth2.Config
	user      string
	accountID uint64

	mu sync.Mutex
	// cached service and the secret row timestamp it was built from; a
	// different timestamp in the store means the token was rotated on disk
	cached          interfaces.GmailDelivery
	cachedBundle    *TokenBundle
	cachedCreatedAt *time.Time
}

// NewServiceManager returns the credential broker for one destination
// account. It caches the API service and rebuilds it when the stored token
// rotates underneath it or the access token expires.
func NewServiceManager(log logger.Logger, secrets interfaces.SecretRepository, labels interfaces.GmailLabelRepository, conf *oauth2.Config, user string, accountID uint64) interfaces.GmailServiceManager {
	return &serviceManager{
		log:       log,
		secrets:   secrets,
		labels:    labels,
		conf:      conf,
		user:      user,
		accountID: accountID,
	}
}

func (m *serviceManager) GetService(ctx context.Context) (interfaces.GmailDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	createdAt, err := m.secrets.CreatedAt(ctx, SecretKeyOAuthTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to check stored token: %w", err)
	}
	if createdAt == nil {
		return nil, y2g_errors.NewOAuthError(enum.AlertOAuthMissing, "no stored gmail token, authorize via the admin page or the oauth command", nil)
	}

	if m.cached != nil && m.cachedCreatedAt != nil && m.cachedCreatedAt.Equal(*createdAt) &&
		m.cachedBundle.AccessTokenValid(utils.Now()) {
		return m.cached, nil
	}

	rotated := m.cachedCreatedAt != nil && !m.cachedCreatedAt.Equal(*createdAt)

	serialized, err := m.secrets.Get(ctx, SecretKeyOAuthTokens)
	if err != nil {
		if errors.Is(err, y2g_errors.ErrSecretNotFound) {
			return nil, y2g_errors.NewOAuthError(enum.AlertOAuthMissing, "no stored gmail token", err)
		}
		return nil, fmt.Errorf("failed to load stored token: %w", err)
	}
	bundle, err := ParseTokenBundle(serialized)
	if err != nil {
		return nil, y2g_errors.NewOAuthError(enum.AlertOAuthInvalid, "stored gmail token is not parseable", err)
	}

	// A token issued to a different client or without every required scope
	// cannot be refreshed into a usable one; the operator must re-authorize.
	if bundle.ClientID != "" && bundle.ClientID != m.conf.ClientID {
		return nil, y2g_errors.NewOAuthError(enum.AlertOAuthClientMismatch,
			"stored gmail token was issued to a different oauth client, re-authorize", nil)
	}
	if missing := bundle.MissingScopes(m.conf.Scopes); len(missing) > 0 {
		return nil, y2g_errors.NewOAuthError(enum.AlertOAuthScopeInsufficient,
			fmt.Sprintf("stored gmail token lacks scopes: %s", strings.Join(missing, " ")), nil)
	}

	if rotated {
		m.log.Event("oauth_reloaded", "stored gmail token changed, reloading", "")
	}

	if !bundle.AccessTokenValid(utils.Now()) {
		bundle, createdAt, err = m.refresh(ctx, bundle)
		if err != nil {
			return nil, err
		}
	}

	svc, err := gmailapi.NewService(ctx,
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bundle.AccessToken})))
	if err != nil {
		return nil, fmt.Errorf("failed to build gmail service: %w", err)
	}

	m.cached = NewDeliveryClient(svc, m.user, m.accountID, m.labels, m.log)
	m.cachedBundle = bundle
	m.cachedCreatedAt = createdAt
	return m.cached, nil
}

// refresh exchanges the refresh token for a new access token and persists the
// updated bundle, tracking when the access and refresh tokens last changed.
func (m *serviceManager) refresh(ctx context.Context, bundle *TokenBundle) (*TokenBundle, *time.Time, error) {
	if bundle.RefreshToken == "" {
		return nil, nil, y2g_errors.NewOAuthError(enum.AlertOAuthInvalid, "access token expired and no refresh token stored", nil)
	}

	token, err := m.conf.TokenSource(ctx, bundle.OAuth2Token()).Token()
	if err != nil {
		kind := ClassifyOAuthError(err)
		return nil, nil, y2g_errors.NewOAuthError(kind, "token refresh failed", err)
	}

	now := utils.Now()
	bundle.AccessToken = token.AccessToken
	bundle.Expiry = &token.Expiry
	bundle.LastAccessTokenRefreshAt = &now
	if token.RefreshToken != "" && token.RefreshToken != bundle.RefreshToken {
		bundle.RefreshToken = token.RefreshToken
		bundle.RefreshTokenUpdatedAt = &now
	}

	serialized, err := bundle.Serialize()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize refreshed token: %w", err)
	}
	if err := m.secrets.Set(ctx, SecretKeyOAuthTokens, serialized); err != nil {
		return nil, nil, fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	createdAt, err := m.secrets.CreatedAt(ctx, SecretKeyOAuthTokens)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reread stored token: %w", err)
	}

	m.log.Infof("Refreshed gmail access token, expires %s", token.Expiry.Format(time.RFC3339))
	return bundle, createdAt, nil
}

func (m *serviceManager) AuthURL() string {
	return AuthCodeURL(m.conf)
}

// ExchangeCode trades an authorization code (or a pasted redirect URL) for
// tokens and stores them, replacing any previous credential.
func (m *serviceManager) ExchangeCode(ctx context.Context, code string) error {
	token, err := m.conf.Exchange(ctx, ParseAuthCode(code))
	if err != nil {
		kind := ClassifyOAuthError(err)
		return y2g_errors.NewOAuthError(kind, "authorization code exchange failed", err)
	}

	now := utils.Now()
	bundle := &TokenBundle{
		AccessToken:              token.AccessToken,
		RefreshToken:             token.RefreshToken,
		TokenURI:                 m.conf.Endpoint.TokenURL,
		ClientID:                 m.conf.ClientID,
		ClientSecret:             m.conf.ClientSecret,
		Scopes:                   m.conf.Scopes,
		Expiry:                   &token.Expiry,
		LastAccessTokenRefreshAt: &now,
	}
	if token.RefreshToken != "" {
		bundle.RefreshTokenUpdatedAt = &now
	}

	serialized, err := bundle.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize token: %w", err)
	}
	if err := m.secrets.Set(ctx, SecretKeyOAuthTokens, serialized); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	m.mu.Lock()
	m.cached = nil
	m.cachedBundle = nil
	m.cachedCreatedAt = nil
	m.mu.Unlock()

	m.log.Info("Stored new gmail oauth tokens")
	return nil
}

func (m *serviceManager) TokenStatus(ctx context.Context) interfaces.TokenStatus {
	var status interfaces.TokenStatus

	serialized, err := m.secrets.Get(ctx, SecretKeyOAuthTokens)
	if err != nil {
		return status
	}
	status.Present = true

	bundle, err := ParseTokenBundle(serialized)
	if err != nil {
		return status
	}

	status.Expiry = bundle.Expiry
	status.LastRefreshAt = bundle.LastAccessTokenRefreshAt
	status.RefreshTokenUpdatedAt = bundle.RefreshTokenUpdatedAt
	status.Valid = bundle.RefreshToken != "" || bundle.AccessTokenValid(utils.Now())
	return status
}
