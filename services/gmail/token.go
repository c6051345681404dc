package gmail

import (
	"encoding/json"
	"time"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
)

// SecretKeyOAuthTokens is the secret store key holding the serialized bundle.
const SecretKeyOAuthTokens = "gmail_oauth_tokens"

// Scopes requested during authorization.
var Scopes = []string{
	gmailapi.GmailInsertScope,
	gmailapi.GmailLabelsScope,
	gmailapi.GmailReadonlyScope,
}

// TokenBundle is the stored credential. The json field names are the wire
// format in the secret store, so they never change.
type TokenBundle struct {
	AccessToken  string     `json:"token"`
	RefreshToken string     `json:"refresh_token"`
	TokenURI     string     `json:"token_uri"`
	ClientID     string     `json:"client_id"`
	ClientSecret string     `json:"client_secret"`
	Scopes       []string   `json:"scopes"`
	Expiry       *time.Time `json:"expiry,omitempty"`

	LastAccessTokenRefreshAt *time.Time `json:"last_access_token_refresh_at,omitempty"`
	RefreshTokenUpdatedAt    *time.Time `json:"refresh_token_updated_at,omitempty"`
}

func ParseTokenBundle(serialized string) (*TokenBundle, error) {
	var bundle TokenBundle
	if err := json.Unmarshal([]byte(serialized), &bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (b *TokenBundle) Serialize() (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// MissingScopes returns the required scopes the bundle was not granted.
func (b *TokenBundle) MissingScopes(required []string) []string {
	granted := make(map[string]struct{}, len(b.Scopes))
	for _, scope := range b.Scopes {
		granted[scope] = struct{}{}
	}

	var missing []string
	for _, scope := range required {
		if _, ok := granted[scope]; !ok {
			missing = append(missing, scope)
		}
	}
	return missing
}

// OAuth2Token converts the bundle into the form the oauth2 package refreshes.
func (b *TokenBundle) OAuth2Token() *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  b.AccessToken,
		RefreshToken: b.RefreshToken,
		TokenType:    "Bearer",
	}
	if b.Expiry != nil {
		token.Expiry = *b.Expiry
	}
	return token
}

// AccessTokenValid reports whether the access token can still be used at the
// given time, with a safety margin against clock drift and in-flight requests.
func (b *TokenBundle) AccessTokenValid(now time.Time) bool {
	if b.AccessToken == "" {
		return false
	}
	if b.Expiry == nil {
		return true
	}
	return now.Add(time.Minute).Before(*b.Expiry)
}
