package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seventhstretch/mlbv/internal/httpx"
)

const (
	defaultAuthnURL     = "https://ids.mlb.com/api/v1/authn"
	defaultAuthorizeURL = "https://ids.mlb.com/oauth2/aus1m088yK07noBfh356/v1/authorize"
	defaultTokenURL     = "https://ids.mlb.com/oauth2/aus1m088yK07noBfh356/v1/token"
	defaultOktaJSURL    = "https://www.mlbstatic.com/mlb.com/vendor/mlb-okta/mlb-okta.js"
	defaultRedirectURI  = "https://www.mlb.com/login"

	// Applied only when the provider omits expires_in. Deliberately short so
	// a stale assumption forces a refresh rather than a mid-stream 401.
	defaultTokenLifetime = 5 * time.Minute
)

// clientIDPattern extracts the production client id from the mlb-okta.js bundle.
var clientIDPattern = regexp.MustCompile(`production:\{clientId:"([^"]+)",`)

// authCodePattern captures the authorization code out of the okta_post_message
// response document: data.code = '...';
var authCodePattern = regexp.MustCompile(`data\.code\s*=\s*'([^']+)'`)

// IdentityClient drives the PKCE authorization-code flow against the MLB
// identity provider: primary authn, authorization-code capture, token
// exchange, and refresh.
type IdentityClient struct {
	http   *httpx.Client
	logger *slog.Logger

	authnURL     string
	authorizeURL string
	tokenURL     string
	oktaJSURL    string
	redirectURI  string

	clientID string // resolved lazily from the okta bundle when empty
}

// IdentityConfig configures an IdentityClient. Zero values take the
// production MLB endpoints; tests point the URLs at httptest servers.
type IdentityConfig struct {
	HTTP         *httpx.Client
	Logger       *slog.Logger
	AuthnURL     string
	AuthorizeURL string
	TokenURL     string
	OktaJSURL    string
	RedirectURI  string
	ClientID     string
}

// NewIdentityClient creates a new identity client.
func NewIdentityClient(cfg IdentityConfig) *IdentityClient {
	if cfg.HTTP == nil {
		cfg.HTTP = httpx.NewClient(httpx.DefaultClientConfig())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AuthnURL == "" {
		cfg.AuthnURL = defaultAuthnURL
	}
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = defaultAuthorizeURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.OktaJSURL == "" {
		cfg.OktaJSURL = defaultOktaJSURL
	}
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = defaultRedirectURI
	}

	return &IdentityClient{
		http:         cfg.HTTP,
		logger:       cfg.Logger,
		authnURL:     cfg.AuthnURL,
		authorizeURL: cfg.AuthorizeURL,
		tokenURL:     cfg.TokenURL,
		oktaJSURL:    cfg.OktaJSURL,
		redirectURI:  cfg.RedirectURI,
		clientID:     cfg.ClientID,
	}
}

// BeginLogin resolves the OAuth client id and generates the PKCE material and
// authorization URL for a new login flow. The returned request holds the
// verifier transiently; it is never written to disk.
func (c *IdentityClient) BeginLogin(ctx context.Context) (*AuthorizationRequest, error) {
	clientID, err := c.resolveClientID(ctx)
	if err != nil {
		return nil, err
	}

	req := newAuthorizationRequest(c.authorizeURL, clientID, c.redirectURI)
	c.logger.Debug("login flow started", "state", req.State)
	return req, nil
}

// Login runs the whole headless flow: primary authn with the configured
// account, PKCE authorization, code capture, and token exchange.
func (c *IdentityClient) Login(ctx context.Context, username, password string) (*Credentials, error) {
	sessionToken, err := c.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}

	req, err := c.BeginLogin(ctx)
	if err != nil {
		return nil, err
	}

	code, err := c.FetchAuthorizationCode(ctx, sessionToken, req)
	if err != nil {
		return nil, err
	}

	return c.CompleteLogin(ctx, code, req.Verifier)
}

// Authenticate performs the primary username/password step and returns the
// short-lived session token used to drive the authorization endpoint without
// a browser.
func (c *IdentityClient) Authenticate(ctx context.Context, username, password string) (string, error) {
	body := map[string]any{
		"username": username,
		"password": password,
		"options": map[string]any{
			"multiOptionalFactorEnroll": false,
			"warnBeforePasswordExpired": true,
		},
	}

	resp, err := c.http.Post(ctx, c.authnURL, body, map[string]string{
		"Content-Type": "application/json",
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return "", ErrAuthenticationFailed
	}
	if resp.StatusCode() >= 400 {
		return "", fmt.Errorf("authn endpoint returned status %d", resp.StatusCode())
	}

	var authn struct {
		SessionToken string `json:"sessionToken"`
		Status       string `json:"status"`
	}
	if err := json.Unmarshal(resp.Body(), &authn); err != nil {
		return "", fmt.Errorf("failed to parse authn response: %w", err)
	}
	if authn.SessionToken == "" {
		return "", fmt.Errorf("authn response missing session token (status %q)", authn.Status)
	}

	return authn.SessionToken, nil
}

// FetchAuthorizationCode drives the authorization endpoint with the session
// token from Authenticate and scrapes the code out of the okta_post_message
// response document.
func (c *IdentityClient) FetchAuthorizationCode(ctx context.Context, sessionToken string, req *AuthorizationRequest) (string, error) {
	clientID, err := c.resolveClientID(ctx)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("response_type", "code")
	q.Set("response_mode", "okta_post_message")
	q.Set("scope", "openid profile email offline_access")
	q.Set("redirect_uri", c.redirectURI)
	q.Set("state", req.State)
	q.Set("nonce", req.Nonce)
	q.Set("code_challenge", req.Challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("sessionToken", sessionToken)

	resp, err := c.http.Get(ctx, c.authorizeURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	m := authCodePattern.FindSubmatch(resp.Body())
	if m == nil {
		return "", fmt.Errorf("authorization code not found in authorize response")
	}

	code, err := unescapeJS(string(m[1]))
	if err != nil {
		return "", fmt.Errorf("failed to unescape authorization code: %w", err)
	}
	return code, nil
}

// CompleteLogin exchanges the authorization code and PKCE verifier for the
// token pair. A fresh device id is minted; Refresh preserves it afterwards.
func (c *IdentityClient) CompleteLogin(ctx context.Context, code, verifier string) (*Credentials, error) {
	clientID, err := c.resolveClientID(ctx)
	if err != nil {
		return nil, err
	}

	creds, err := c.tokenRequest(ctx, map[string]string{
		"client_id":     clientID,
		"redirect_uri":  c.redirectURI,
		"grant_type":    "authorization_code",
		"code":          code,
		"code_verifier": verifier,
	})
	if err != nil {
		return nil, err
	}

	creds.DeviceID = uuid.NewString()
	return creds, nil
}

// Refresh mints a new access token from the refresh token without user
// interaction. ErrRefreshExpired means the caller must run a full login.
func (c *IdentityClient) Refresh(ctx context.Context, creds *Credentials) (*Credentials, error) {
	if creds == nil || creds.RefreshToken == "" {
		return nil, ErrRefreshExpired
	}

	clientID, err := c.resolveClientID(ctx)
	if err != nil {
		return nil, err
	}

	next, err := c.tokenRequest(ctx, map[string]string{
		"client_id":     clientID,
		"redirect_uri":  c.redirectURI,
		"grant_type":    "refresh_token",
		"refresh_token": creds.RefreshToken,
		"scope":         "openid profile email offline_access",
	})
	if err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			// A rejected refresh token is terminal for this session.
			return nil, ErrRefreshExpired
		}
		return nil, err
	}

	next.DeviceID = creds.DeviceID
	if next.RefreshToken == "" {
		// Okta rotates refresh tokens but may omit one on this grant; the
		// previous token stays valid in that case.
		next.RefreshToken = creds.RefreshToken
	}
	return next, nil
}

// tokenRequest posts to the token endpoint and maps the response to
// Credentials, distinguishing grant rejection from transport failure.
func (c *IdentityClient) tokenRequest(ctx context.Context, form map[string]string) (*Credentials, error) {
	resp, err := c.http.PostForm(ctx, c.tokenURL, form, map[string]string{
		"Accept": "application/json",
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() >= 400 {
		var oktaErr struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		if jsonErr := json.Unmarshal(resp.Body(), &oktaErr); jsonErr == nil && oktaErr.Error == "invalid_grant" {
			c.logger.Debug("token endpoint rejected grant", "description", oktaErr.Description)
			return nil, ErrInvalidGrant
		}
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode())
	}

	var tok struct {
		TokenType    string `json:"token_type"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
		ExpiresIn    int    `json:"expires_in"`
		Scope        string `json:"scope"`
	}
	if err := json.Unmarshal(resp.Body(), &tok); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access token")
	}

	lifetime := defaultTokenLifetime
	if tok.ExpiresIn > 0 {
		lifetime = time.Duration(tok.ExpiresIn) * time.Second
	} else {
		c.logger.Warn("token response omitted expires_in; assuming short lifetime",
			"lifetime", defaultTokenLifetime)
	}

	return &Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    time.Now().Add(lifetime),
	}, nil
}

// resolveClientID scrapes the OAuth client id from the public okta bundle the
// first time it is needed, then caches it for the process lifetime.
func (c *IdentityClient) resolveClientID(ctx context.Context) (string, error) {
	if c.clientID != "" {
		return c.clientID, nil
	}

	resp, err := c.http.Get(ctx, c.oktaJSURL, nil)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() >= 400 {
		return "", fmt.Errorf("okta bundle fetch returned status %d", resp.StatusCode())
	}

	m := clientIDPattern.FindSubmatch(resp.Body())
	if m == nil {
		return "", fmt.Errorf("client id not found in okta bundle")
	}

	c.clientID = string(m[1])
	c.logger.Debug("resolved oauth client id")
	return c.clientID, nil
}

// unescapeJS decodes JavaScript string escapes (\xHH, \uHHHH, \\) that Okta
// applies to the embedded authorization code.
func unescapeJS(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	// strconv.Unquote handles \xHH and \uHHHH once the string is wrapped in
	// double quotes; escaped single quotes are not valid Go syntax.
	s = strings.ReplaceAll(s, `\'`, `'`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	unquoted, err := strconv.Unquote(`"` + s + `"`)
	if err != nil {
		return "", err
	}
	return unquoted, nil
}

