package auth

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// AuthorizationRequest is the transient state of one login flow: the PKCE
// verifier pair plus the URL the user (or the headless flow) must visit.
// The verifier lives only for the duration of the flow and is never persisted.
type AuthorizationRequest struct {
	URL       string
	State     string
	Nonce     string
	Verifier  string
	Challenge string
}

// newAuthorizationRequest generates a fresh PKCE verifier, its S256 challenge
// and CSRF state, and builds the authorization URL. oauth2.GenerateVerifier
// produces a 43-character crypto-random verifier per RFC 7636.
func newAuthorizationRequest(authorizeURL, clientID, redirectURI string) *AuthorizationRequest {
	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)
	state := uuid.NewString()
	nonce := uuid.NewString()

	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("response_type", "code")
	q.Set("scope", "openid profile email offline_access")
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("nonce", nonce)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")

	return &AuthorizationRequest{
		URL:       fmt.Sprintf("%s?%s", authorizeURL, q.Encode()),
		State:     state,
		Nonce:     nonce,
		Verifier:  verifier,
		Challenge: challenge,
	}
}
