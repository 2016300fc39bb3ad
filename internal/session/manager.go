// Package session owns the content-session lifecycle: it makes sure a valid,
// non-expired content session exists before any streaming operation,
// refreshing or re-authenticating as needed. It is the only component with
// mutable shared state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/seventhstretch/mlbv/internal/auth"
	"github.com/seventhstretch/mlbv/internal/entitlement"
	"github.com/seventhstretch/mlbv/internal/stream"
)

// ErrLoginRequired means no usable stored session exists and no interactive
// login path is available. The user must run the login command.
var ErrLoginRequired = errors.New("login required; run 'mlbv login'")

// ExpiryMargin is the safety window before token expiry in which a session
// counts as expiring and gets refreshed ahead of use. The provider does not
// document a recommended margin; 60 seconds comfortably covers the exchange
// round trips without churning refreshes.
const ExpiryMargin = 60 * time.Second

// Identity is the slice of the identity client the manager drives.
type Identity interface {
	Refresh(ctx context.Context, creds *auth.Credentials) (*auth.Credentials, error)
}

// Entitlements exchanges identity credentials for a content session.
type Entitlements interface {
	Exchange(ctx context.Context, creds *auth.Credentials) (*entitlement.ContentSession, error)
}

// CredentialStore persists the identity session between invocations.
type CredentialStore interface {
	Load() (*auth.Credentials, error)
	Save(creds *auth.Credentials) error
	Clear() error
}

// LoginFunc runs a full interactive login and returns fresh credentials.
// The CLI wires either the headless config-credential flow or the browser
// flow; tests wire a stub. A nil LoginFunc makes an absent session terminal.
type LoginFunc func(ctx context.Context) (*auth.Credentials, error)

// Manager drives the session state machine: Absent, Valid, Expiring, and
// back to Absent on hard failure. Exactly one acquisition is in flight at a
// time; concurrent callers share its outcome.
type Manager struct {
	store        CredentialStore
	identity     Identity
	entitlements Entitlements
	login        LoginFunc
	logger       *slog.Logger

	mu           sync.Mutex
	current      *entitlement.ContentSession
	forceRefresh bool

	group singleflight.Group
}

// Config wires a Manager.
type Config struct {
	Store        CredentialStore
	Identity     Identity
	Entitlements Entitlements
	Login        LoginFunc
	Logger       *slog.Logger
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		store:        cfg.Store,
		identity:     cfg.Identity,
		entitlements: cfg.Entitlements,
		login:        cfg.Login,
		logger:       cfg.Logger,
	}
}

// EnsureValidSession returns a content session that is valid now and grants
// the required capability. A valid non-expiring session is returned with
// zero network calls. An expiring one triggers exactly one refresh and one
// entitlement exchange. A missing capability fails immediately: logging in
// again cannot grant an entitlement the account lacks.
func (m *Manager) EnsureValidSession(ctx context.Context, capability entitlement.Capability) (*entitlement.ContentSession, error) {
	m.mu.Lock()
	cur := m.current
	force := m.forceRefresh
	m.mu.Unlock()

	if cur != nil && !force && time.Now().Add(ExpiryMargin).Before(cur.ExpiresAt) {
		return requireCapability(cur, capability)
	}

	// Concurrent callers arriving while an acquisition is pending share its
	// result instead of triggering duplicate logins.
	v, err, _ := m.group.Do("acquire", func() (any, error) {
		return m.acquire(ctx)
	})
	if err != nil {
		return nil, err
	}

	return requireCapability(v.(*entitlement.ContentSession), capability)
}

// WithSession runs fn with a valid session, retrying once when the gateway
// rejects a token the manager believed valid. The second rejection is final:
// no refresh loop.
func (m *Manager) WithSession(ctx context.Context, capability entitlement.Capability, fn func(*entitlement.ContentSession) error) error {
	s, err := m.EnsureValidSession(ctx, capability)
	if err != nil {
		return err
	}

	err = fn(s)
	if !errors.Is(err, stream.ErrEntitlementExpired) {
		return err
	}

	m.logger.Info("content session rejected mid-use; refreshing once")
	m.Invalidate()

	s, err = m.EnsureValidSession(ctx, capability)
	if err != nil {
		return err
	}
	return fn(s)
}

// Invalidate discards the in-memory session and forces an identity refresh
// on the next acquisition, regardless of the token's nominal expiry.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.current = nil
	m.forceRefresh = true
	m.mu.Unlock()
}

// Logout destroys the in-memory session and the stored credentials.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.current = nil
	m.forceRefresh = false
	m.mu.Unlock()
	return m.store.Clear()
}

// acquire moves the state machine forward under the singleflight lock:
// load, refresh-or-login, exchange, publish.
func (m *Manager) acquire(ctx context.Context) (*entitlement.ContentSession, error) {
	m.mu.Lock()
	force := m.forceRefresh
	m.mu.Unlock()

	creds, err := m.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load stored session: %w", err)
	}

	switch {
	case creds == nil:
		creds, err = m.fullLogin(ctx)
		if err != nil {
			return nil, err
		}

	case force || creds.ExpiresWithin(ExpiryMargin):
		creds, err = m.refresh(ctx, creds)
		if err != nil {
			return nil, err
		}
	}

	sess, err := m.entitlements.Exchange(ctx, creds)
	if err != nil {
		if errors.Is(err, entitlement.ErrUnauthorized) {
			// Stored token looked fresh but the gateway disagreed. One
			// refresh attempt, then give up.
			m.logger.Info("entitlement exchange rejected token; refreshing once")
			creds, rerr := m.refresh(ctx, creds)
			if rerr != nil {
				return nil, rerr
			}
			sess, err = m.entitlements.Exchange(ctx, creds)
			if err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	}

	m.mu.Lock()
	m.current = sess
	m.forceRefresh = false
	m.mu.Unlock()

	return sess, nil
}

func (m *Manager) fullLogin(ctx context.Context) (*auth.Credentials, error) {
	if m.login == nil {
		return nil, ErrLoginRequired
	}

	creds, err := m.login(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.store.Save(creds); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	m.logger.Info("logged in")
	return creds, nil
}

// refresh attempts the single documented refresh. A rejected refresh token
// destroys the stored session and surfaces as login-required rather than
// looping back into refresh.
func (m *Manager) refresh(ctx context.Context, creds *auth.Credentials) (*auth.Credentials, error) {
	next, err := m.identity.Refresh(ctx, creds)
	if err != nil {
		m.mu.Lock()
		m.current = nil
		m.mu.Unlock()

		if errors.Is(err, auth.ErrRefreshExpired) {
			if cerr := m.store.Clear(); cerr != nil {
				m.logger.Warn("failed to clear dead session", "error", cerr)
			}
			return nil, fmt.Errorf("stored session expired: %w", ErrLoginRequired)
		}
		return nil, err
	}

	if err := m.store.Save(next); err != nil {
		return nil, fmt.Errorf("failed to store refreshed session: %w", err)
	}

	m.logger.Debug("identity token refreshed", "expires_at", next.ExpiresAt)
	return next, nil
}

func requireCapability(s *entitlement.ContentSession, c entitlement.Capability) (*entitlement.ContentSession, error) {
	if c != "" && !s.Has(c) {
		return nil, fmt.Errorf("%q content: %w", c, entitlement.ErrNoSubscription)
	}
	return s, nil
}
