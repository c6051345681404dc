package gmail

import (
	"net/url"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// NewOAuthConfig builds the authorization config for the destination account.
func NewOAuthConfig(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
	}
}

// AuthCodeURL returns the consent URL. Offline access and a forced consent
// prompt make Google return a refresh token even for re-authorizations.
func AuthCodeURL(conf *oauth2.Config) string {
	state, err := gonanoid.New()
	if err != nil {
		state = "state"
	}
	return conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// ParseAuthCode accepts either a bare authorization code or the full redirect
// URL the operator pasted and returns the code.
func ParseAuthCode(input string) string {
	input = strings.TrimSpace(input)
	if u, err := url.Parse(input); err == nil && u.Scheme != "" {
		if code := u.Query().Get("code"); code != "" {
			return code
		}
	}
	return input
}
