package auth

import "errors"

var (
	// ErrInvalidGrant means the identity provider rejected the authorization
	// code or PKCE verifier. Not recoverable by retry; a new login flow is
	// needed.
	ErrInvalidGrant = errors.New("authorization code or verifier rejected")

	// ErrRefreshExpired means the refresh token itself was rejected. The
	// stored session is dead and a full interactive login is required.
	ErrRefreshExpired = errors.New("refresh token expired or revoked")

	// ErrAuthenticationFailed means the primary username/password step was
	// rejected by the identity provider.
	ErrAuthenticationFailed = errors.New("username or password rejected")
)
