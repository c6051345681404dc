package gmail

import (
	"errors"
	"strings"

	"google.golang.org/api/googleapi"

	"github.com/mailfwd/y2g/internal/enum"
)

// DeliveryErrorClass is the retry decision for one failed API call. OAuthKind
// is set when the failure points at the credential rather than the message.
type DeliveryErrorClass struct {
	Retryable bool
	OAuthKind enum.AlertKind
}

// ClassifyDeliveryError maps an import/lookup error onto the state machine:
// rate limits and server errors retry, credential errors retry and alert, and
// every other client error is permanent. Transport failures retry.
func ClassifyDeliveryError(err error) DeliveryErrorClass {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403:
			return DeliveryErrorClass{Retryable: true, OAuthKind: enum.AlertOAuthInvalid}
		case apiErr.Code == 429 || apiErr.Code >= 500:
			return DeliveryErrorClass{Retryable: true}
		case apiErr.Code >= 400:
			return DeliveryErrorClass{Retryable: false}
		}
	}
	return DeliveryErrorClass{Retryable: true}
}

// ClassifyOAuthError maps a token refresh or exchange failure onto the alert
// kind that tells the operator what to fix.
func ClassifyOAuthError(err error) enum.AlertKind {
	text := err.Error()
	switch {
	case strings.Contains(text, "invalid_grant"):
		return enum.AlertOAuthInvalidGrant
	case strings.Contains(text, "invalid_client"):
		return enum.AlertOAuthClientMismatch
	case strings.Contains(text, "ACCESS_TOKEN_SCOPE_INSUFFICIENT"):
		return enum.AlertOAuthScopeInsufficient
	default:
		return enum.AlertOAuthInvalid
	}
}
