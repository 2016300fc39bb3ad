// Package entitlement exchanges an identity access token for a content
// session against the MLB media gateway, mapping subscription entitlements
// to the capability flags the rest of the pipeline checks.
package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/seventhstretch/mlbv/internal/auth"
	"github.com/seventhstretch/mlbv/internal/httpx"
)

const defaultGatewayURL = "https://media-gateway.mlb.com/graphql"

var (
	// ErrUnauthorized means the gateway rejected the identity token. The
	// session layer refreshes and retries once; this client never does.
	ErrUnauthorized = errors.New("identity token rejected by media gateway")

	// ErrNoSubscription means the account lacks the entitlement needed for
	// the requested capability. Re-authenticating cannot fix this.
	ErrNoSubscription = errors.New("account has no subscription for this content")
)

// Capability is an account-level right to a class of content.
type Capability string

const (
	CapabilityLive    Capability = "live"
	CapabilityArchive Capability = "archive"
)

// ContentSession is the content-scoped session derived from the identity
/// token: the gateway session/device identifiers plus the entitlement flags.
// It is owned by the session manager and never persisted.
type ContentSession struct {
	AccessToken string
	SessionID   string
	DeviceID    string
	ExpiresAt   time.Time
	Flags       map[Capability]bool
}

// Has reports whether the session grants the capability.
func (s *ContentSession) Has(c Capability) bool {
	return s != nil && s.Flags[c]
}

const initSessionQuery = `mutation initSession($device: InitSessionInput!, $clientType: ClientType!) {
    initSession(device: $device, clientType: $clientType) {
        deviceId
        sessionId
        entitlements {
            code
        }
        location {
            countryCode
            zipCode
        }
        clientExperience
        features
    }
}`

// Client talks to the media gateway session endpoint.
type Client struct {
	http       *httpx.Client
	logger     *slog.Logger
	gatewayURL string
}

// Config configures an entitlement client; zero values take production
// defaults.
type Config struct {
	HTTP       *httpx.Client
	Logger     *slog.Logger
	GatewayURL string
}

// NewClient creates a new entitlement client.
func NewClient(cfg Config) *Client {
	if cfg.HTTP == nil {
		cfg.HTTP = httpx.NewClient(httpx.DefaultClientConfig())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = defaultGatewayURL
	}
	return &Client{http: cfg.HTTP, logger: cfg.Logger, gatewayURL: cfg.GatewayURL}
}

// Exchange initializes a gateway session with the identity access token and
// device metadata. The content session inherits the identity token's expiry:
// the bearer dies with it, so they go stale together.
func (c *Client) Exchange(ctx context.Context, creds *auth.Credentials) (*ContentSession, error) {
	body := map[string]any{
		"operationName": "initSession",
		"query":         initSessionQuery,
		"variables": map[string]any{
			"device": map[string]any{
				"appVersion":      "7.8.2",
				"deviceFamily":    "desktop",
				"knownDeviceId":   creds.DeviceID,
				"languagePreference": "ENGLISH",
				"manufacturer":    "Apple",
				"model":           "Macintosh",
				"os":              "macos",
				"osVersion":       "10.15",
			},
			"clientType": "WEB",
		},
	}

	resp, err := c.http.Post(ctx, c.gatewayURL, body, gatewayHeaders(creds.AccessToken))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("media gateway returned status %d", resp.StatusCode())
	}

	var result struct {
		Data struct {
			InitSession struct {
				DeviceID     string `json:"deviceId"`
				SessionID    string `json:"sessionId"`
				Entitlements []struct {
					Code string `json:"code"`
				} `json:"entitlements"`
			} `json:"initSession"`
		} `json:"data"`
		Errors []gatewayError `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse init session response: %w", err)
	}
	if len(result.Errors) > 0 {
		if result.Errors[0].unauthorized() {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("media gateway error: %s", result.Errors[0].Message)
	}
	if result.Data.InitSession.SessionID == "" {
		return nil, fmt.Errorf("init session response missing session id")
	}

	flags := make(map[Capability]bool)
	for _, e := range result.Data.InitSession.Entitlements {
		for _, cap := range capabilitiesFor(e.Code) {
			flags[cap] = true
		}
	}

	c.logger.Debug("content session established",
		"session_id", result.Data.InitSession.SessionID,
		"entitlements", len(result.Data.InitSession.Entitlements))

	return &ContentSession{
		AccessToken: creds.AccessToken,
		SessionID:   result.Data.InitSession.SessionID,
		DeviceID:    result.Data.InitSession.DeviceID,
		ExpiresAt:   creds.ExpiresAt,
		Flags:       flags,
	}, nil
}

// capabilitiesFor maps a gateway entitlement code to capability flags. An
// MLB.tv subscription of any tier covers both live and archived games;
// EXECMLB covers archives only.
func capabilitiesFor(code string) []Capability {
	switch {
	case strings.HasPrefix(code, "MLBTV"):
		return []Capability{CapabilityLive, CapabilityArchive}
	case code == "EXECMLB":
		return []Capability{CapabilityArchive}
	default:
		return nil
	}
}

type gatewayError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

func (e gatewayError) unauthorized() bool {
	code := strings.ToUpper(e.Extensions.Code)
	return code == "UNAUTHENTICATED" || code == "UNAUTHORIZED"
}

func gatewayHeaders(accessToken string) map[string]string {
	return map[string]string{
		"Authorization":     "Bearer " + accessToken,
		"Content-Type":      "application/json",
		"Origin":            "https://www.mlb.com",
		"x-bamsdk-version":  "3.4",
		"x-bamsdk-platform": "macintosh",
	}
}

// GatewayHeaders returns the header set every media gateway call carries.
// Shared with the stream resolver, which talks to the same endpoint with the
// same bearer.
func GatewayHeaders(accessToken string) map[string]string {
	return gatewayHeaders(accessToken)
}
