package auth

import "time"

// Credentials is the persisted identity session: the token pair from the
// identity provider plus the device identifier minted on first login.
// ExpiresAt always reflects the access token actually stored.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	DeviceID     string    `json:"device_id"`
}

// Complete reports whether both tokens are present. Incomplete credentials
// must never be persisted.
func (c *Credentials) Complete() bool {
	return c != nil && c.AccessToken != "" && c.RefreshToken != ""
}

// ExpiresWithin reports whether the access token expires within the given
// margin (or already has).
func (c *Credentials) ExpiresWithin(margin time.Duration) bool {
	return time.Now().Add(margin).After(c.ExpiresAt)
}
