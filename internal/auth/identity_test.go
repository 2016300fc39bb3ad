package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*IdentityClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewIdentityClient(IdentityConfig{
		AuthnURL:     server.URL + "/authn",
		AuthorizeURL: server.URL + "/authorize",
		TokenURL:     server.URL + "/token",
		OktaJSURL:    server.URL + "/okta.js",
		RedirectURI:  "https://example.com/login",
		ClientID:     "test-client",
	})
	return client, server
}

func TestCompleteLogin(t *testing.T) {
	t.Run("exchanges code for credentials", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
			assert.Equal(t, "the-code", r.Form.Get("code"))
			assert.Equal(t, "the-verifier", r.Form.Get("code_verifier"))

			_ = json.NewEncoder(w).Encode(map[string]any{
				"token_type":    "Bearer",
				"access_token":  "access-1",
				"refresh_token": "refresh-1",
				"expires_in":    3600,
			})
		})

		client, _ := newTestClient(t, mux)
		creds, err := client.CompleteLogin(context.Background(), "the-code", "the-verifier")

		require.NoError(t, err)
		assert.Equal(t, "access-1", creds.AccessToken)
		assert.Equal(t, "refresh-1", creds.RefreshToken)
		assert.NotEmpty(t, creds.DeviceID)
		assert.WithinDuration(t, time.Now().Add(time.Hour), creds.ExpiresAt, 5*time.Second)
	})

	t.Run("rejected code yields ErrInvalidGrant", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_grant",
				"error_description": "The authorization code is invalid or has expired.",
			})
		})

		client, _ := newTestClient(t, mux)
		_, err := client.CompleteLogin(context.Background(), "bad-code", "verifier")

		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("missing expires_in falls back to short lifetime", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access-1",
				"refresh_token": "refresh-1",
			})
		})

		client, _ := newTestClient(t, mux)
		creds, err := client.CompleteLogin(context.Background(), "code", "verifier")

		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(defaultTokenLifetime), creds.ExpiresAt, 5*time.Second)
	})
}

func TestRefresh(t *testing.T) {
	base := &Credentials{
		AccessToken:  "old-access",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Minute),
		DeviceID:     "device-1",
	}

	t.Run("mints a new access token and keeps the device id", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
			assert.Equal(t, "refresh-1", r.Form.Get("refresh_token"))

			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "new-access",
				"refresh_token": "refresh-2",
				"expires_in":    3600,
			})
		})

		client, _ := newTestClient(t, mux)
		next, err := client.Refresh(context.Background(), base)

		require.NoError(t, err)
		assert.Equal(t, "new-access", next.AccessToken)
		assert.Equal(t, "refresh-2", next.RefreshToken)
		assert.Equal(t, "device-1", next.DeviceID)
	})

	t.Run("keeps prior refresh token when none is rotated in", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "new-access",
				"expires_in":   3600,
			})
		})

		client, _ := newTestClient(t, mux)
		next, err := client.Refresh(context.Background(), base)

		require.NoError(t, err)
		assert.Equal(t, "refresh-1", next.RefreshToken)
	})

	t.Run("rejected refresh token yields ErrRefreshExpired", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		})

		client, _ := newTestClient(t, mux)
		_, err := client.Refresh(context.Background(), base)

		require.ErrorIs(t, err, ErrRefreshExpired)
	})

	t.Run("nil credentials yield ErrRefreshExpired without a call", func(t *testing.T) {
		client, _ := newTestClient(t, http.NewServeMux())
		_, err := client.Refresh(context.Background(), nil)
		require.ErrorIs(t, err, ErrRefreshExpired)
	})
}

func TestAuthenticate(t *testing.T) {
	t.Run("returns the session token", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/authn", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Username string `json:"username"`
				Password string `json:"password"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "fan@example.com", body.Username)

			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "SUCCESS",
				"sessionToken": "session-token-1",
			})
		})

		client, _ := newTestClient(t, mux)
		token, err := client.Authenticate(context.Background(), "fan@example.com", "hunter2")

		require.NoError(t, err)
		assert.Equal(t, "session-token-1", token)
	})

	t.Run("bad password yields ErrAuthenticationFailed", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/authn", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		client, _ := newTestClient(t, mux)
		_, err := client.Authenticate(context.Background(), "fan@example.com", "wrong")

		require.ErrorIs(t, err, ErrAuthenticationFailed)
	})
}

func TestFetchAuthorizationCode(t *testing.T) {
	t.Run("scrapes the code from the post_message document", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "okta_post_message", q.Get("response_mode"))
			assert.Equal(t, "session-token-1", q.Get("sessionToken"))
			assert.NotEmpty(t, q.Get("code_challenge"))

			_, _ = w.Write([]byte(`<html><script>data.code = 'abc\x2Ddef';</script></html>`))
		})

		client, _ := newTestClient(t, mux)
		req, err := client.BeginLogin(context.Background())
		require.NoError(t, err)

		code, err := client.FetchAuthorizationCode(context.Background(), "session-token-1", req)
		require.NoError(t, err)
		assert.Equal(t, "abc-def", code)
	})

	t.Run("missing code in response is an error", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>nothing here</html>`))
		})

		client, _ := newTestClient(t, mux)
		req, err := client.BeginLogin(context.Background())
		require.NoError(t, err)

		_, err = client.FetchAuthorizationCode(context.Background(), "session-token-1", req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "authorization code not found")
	})
}

func TestResolveClientID(t *testing.T) {
	t.Run("scrapes the production client id from the bundle", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/okta.js", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`var c={production:{clientId:"0oaabc123",issuer:"x"},staging:{clientId:"other"}};`))
		})
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "0oaabc123", r.Form.Get("client_id"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "a",
				"refresh_token": "r",
				"expires_in":    60,
			})
		})

		server := httptest.NewServer(mux)
		t.Cleanup(server.Close)

		// No ClientID configured: it must come from the bundle.
		client := NewIdentityClient(IdentityConfig{
			TokenURL:  server.URL + "/token",
			OktaJSURL: server.URL + "/okta.js",
		})

		_, err := client.CompleteLogin(context.Background(), "code", "verifier")
		require.NoError(t, err)
	})
}

func TestUnescapeJS(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain-code", "plain-code"},
		{`with\x2Ddash`, "with-dash"},
		{`uni-code`, "uni-code"},
		{`quote\'d`, "quote'd"},
	}
	for _, tc := range cases {
		got, err := unescapeJS(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}
