package enum

type AlertKind string

const (
	AlertOAuthMissing           AlertKind = "oauth_missing"
	AlertOAuthInvalid           AlertKind = "oauth_invalid"
	AlertOAuthInvalidGrant      AlertKind = "oauth_invalid_grant"
	AlertOAuthClientMismatch    AlertKind = "oauth_client_mismatch"
	AlertOAuthScopeInsufficient AlertKind = "oauth_scope_insufficient"
	AlertFailedPerm             AlertKind = "failed_perm"
)

func (t AlertKind) String() string {
	return string(t)
}
