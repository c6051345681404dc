package gmail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailfwd/y2g/internal/utils"
)

func TestParseAuthCode_BareCode(t *testing.T) {
	// Act
	code := ParseAuthCode("  4/0AbCdEf  ")

	// Assert
	assert.Equal(t, "4/0AbCdEf", code)
}

func TestParseAuthCode_PastedRedirectURL(t *testing.T) {
	// Act
	code := ParseAuthCode("http://localhost:8080/callback?state=state&code=4%2F0AbCdEf&scope=email")

	// Assert
	assert.Equal(t, "4/0AbCdEf", code)
}

func TestAuthCodeURL_RequestsOfflineAccessWithConsent(t *testing.T) {
	// Arrange
	conf := NewOAuthConfig("client-id", "client-secret", "http://localhost:8080/callback")

	// Act
	authURL := AuthCodeURL(conf)

	// Assert
	assert.Contains(t, authURL, "access_type=offline")
	assert.Contains(t, authURL, "prompt=consent")
	assert.Contains(t, authURL, "client_id=client-id")
}

func TestTokenBundle_SerializeRoundTrip(t *testing.T) {
	// Arrange
	now := utils.Now().Truncate(time.Second)
	bundle := &TokenBundle{
		AccessToken:              "at",
		RefreshToken:             "rt",
		TokenURI:                 "https://oauth2.googleapis.com/token",
		ClientID:                 "cid",
		ClientSecret:             "cs",
		Scopes:                   Scopes,
		Expiry:                   &now,
		LastAccessTokenRefreshAt: &now,
	}

	// Act
	serialized, err := bundle.Serialize()
	require.NoError(t, err)
	parsed, err := ParseTokenBundle(serialized)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, bundle.AccessToken, parsed.AccessToken)
	assert.Equal(t, bundle.RefreshToken, parsed.RefreshToken)
	assert.True(t, parsed.Expiry.Equal(now))
	assert.Nil(t, parsed.RefreshTokenUpdatedAt)
	assert.Contains(t, serialized, `"token":"at"`)
	assert.Contains(t, serialized, `"token_uri"`)
}

func TestTokenBundle_AccessTokenValid(t *testing.T) {
	// Arrange
	now := utils.Now()
	soon := now.Add(30 * time.Second)
	later := now.Add(time.Hour)

	// Assert
	assert.False(t, (&TokenBundle{}).AccessTokenValid(now))
	assert.False(t, (&TokenBundle{AccessToken: "at", Expiry: &soon}).AccessTokenValid(now))
	assert.True(t, (&TokenBundle{AccessToken: "at", Expiry: &later}).AccessTokenValid(now))
	assert.True(t, (&TokenBundle{AccessToken: "at"}).AccessTokenValid(now))
}
