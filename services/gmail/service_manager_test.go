package gmail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	y2g_errors "github.com/mailfwd/y2g/errors"
	"github.com/mailfwd/y2g/interfaces"
	"github.com/mailfwd/y2g/internal/enum"
	"github.com/mailfwd/y2g/internal/logger"
	"github.com/mailfwd/y2g/internal/models"
	"github.com/mailfwd/y2g/internal/utils"
)

type fakeSecrets struct {
	values    map[string]string
	createdAt map[string]time.Time
}

func newFakeSecrets() *fakeSecrets {
	return &fakeSecrets{
		values:    map[string]string{},
		createdAt: map[string]time.Time{},
	}
}

func (f *fakeSecrets) Set(_ context.Context, key, plaintext string) error {
	f.values[key] = plaintext
	f.createdAt[key] = utils.Now()
	return nil
}

func (f *fakeSecrets) Get(_ context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", y2g_errors.ErrSecretNotFound
	}
	return v, nil
}

func (f *fakeSecrets) CreatedAt(_ context.Context, key string) (*time.Time, error) {
	t, ok := f.createdAt[key]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

type fakeLabels struct{}

func (f *fakeLabels) Get(context.Context, uint64, string) (*models.GmailLabel, error) {
	return nil, nil
}
func (f *fakeLabels) Save(context.Context, uint64, string, string) error { return nil }

func managerLogger() logger.Logger {
	l := logger.NewAppLogger(&logger.Config{LogLevel: "error", DevMode: true})
	l.InitLogger()
	return l
}

func newTestManager(secrets *fakeSecrets) interfaces.GmailServiceManager {
	conf := NewOAuthConfig("client-1", "secret-1", "http://localhost/cb")
	return NewServiceManager(managerLogger(), secrets, &fakeLabels{}, conf, "me", 1)
}

func storeBundle(t *testing.T, secrets *fakeSecrets, bundle *TokenBundle) {
	t.Helper()
	serialized, err := bundle.Serialize()
	require.NoError(t, err)
	require.NoError(t, secrets.Set(context.Background(), SecretKeyOAuthTokens, serialized))
}

func validBundle() *TokenBundle {
	expiry := utils.Now().Add(time.Hour)
	return &TokenBundle{
		AccessToken:  "at",
		RefreshToken: "rt",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Scopes:       Scopes,
		Expiry:       &expiry,
	}
}

func TestServiceManager_NoStoredTokenIsOAuthMissing(t *testing.T) {
	// Arrange
	m := newTestManager(newFakeSecrets())

	// Act
	delivery, err := m.GetService(context.Background())

	// Assert
	assert.Nil(t, delivery)
	oauthErr := y2g_errors.AsOAuthError(err)
	require.NotNil(t, oauthErr)
	assert.Equal(t, enum.AlertOAuthMissing, oauthErr.Kind)
}

func TestServiceManager_ValidBundleBuildsService(t *testing.T) {
	// Arrange
	secrets := newFakeSecrets()
	storeBundle(t, secrets, validBundle())
	m := newTestManager(secrets)

	// Act
	delivery, err := m.GetService(context.Background())

	// Assert
	require.NoError(t, err)
	assert.NotNil(t, delivery)
}

func TestServiceManager_ClientMismatchIsRejected(t *testing.T) {
	// Arrange: the stored token belongs to some other oauth client
	secrets := newFakeSecrets()
	bundle := validBundle()
	bundle.ClientID = "client-2"
	storeBundle(t, secrets, bundle)
	m := newTestManager(secrets)

	// Act
	delivery, err := m.GetService(context.Background())

	// Assert
	assert.Nil(t, delivery)
	oauthErr := y2g_errors.AsOAuthError(err)
	require.NotNil(t, oauthErr)
	assert.Equal(t, enum.AlertOAuthClientMismatch, oauthErr.Kind)
}

func TestServiceManager_MissingScopeIsRejected(t *testing.T) {
	// Arrange: the stored grant covers only part of what delivery needs
	secrets := newFakeSecrets()
	bundle := validBundle()
	bundle.Scopes = Scopes[:1]
	storeBundle(t, secrets, bundle)
	m := newTestManager(secrets)

	// Act
	delivery, err := m.GetService(context.Background())

	// Assert
	assert.Nil(t, delivery)
	oauthErr := y2g_errors.AsOAuthError(err)
	require.NotNil(t, oauthErr)
	assert.Equal(t, enum.AlertOAuthScopeInsufficient, oauthErr.Kind)
	assert.Contains(t, oauthErr.Msg, "lacks scopes")
}

func TestTokenBundle_MissingScopes(t *testing.T) {
	// Arrange
	bundle := &TokenBundle{Scopes: []string{"a", "b"}}

	// Act / Assert
	assert.Empty(t, bundle.MissingScopes([]string{"a", "b"}))
	assert.Equal(t, []string{"c"}, bundle.MissingScopes([]string{"a", "c"}))
}
