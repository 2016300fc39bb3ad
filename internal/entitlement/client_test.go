package entitlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seventhstretch/mlbv/internal/auth"
)

func testCreds() *auth.Credentials {
	return &auth.Credentials{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
		DeviceID:     "device-1",
	}
}

func initSessionResponse(entitlements ...string) map[string]any {
	ents := make([]map[string]string, 0, len(entitlements))
	for _, e := range entitlements {
		ents = append(ents, map[string]string{"code": e})
	}
	return map[string]any{
		"data": map[string]any{
			"initSession": map[string]any{
				"deviceId":     "gw-device-1",
				"sessionId":    "gw-session-1",
				"entitlements": ents,
			},
		},
	}
}

func TestExchange(t *testing.T) {
	t.Run("maps MLBTV entitlement to live and archive", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
			assert.Equal(t, "3.4", r.Header.Get("x-bamsdk-version"))

			var body struct {
				OperationName string `json:"operationName"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "initSession", body.OperationName)

			_ = json.NewEncoder(w).Encode(initSessionResponse("MLBTV"))
		}))
		t.Cleanup(server.Close)

		client := NewClient(Config{GatewayURL: server.URL})
		creds := testCreds()
		sess, err := client.Exchange(context.Background(), creds)

		require.NoError(t, err)
		assert.Equal(t, "gw-session-1", sess.SessionID)
		assert.Equal(t, "gw-device-1", sess.DeviceID)
		assert.Equal(t, "access-1", sess.AccessToken)
		assert.True(t, sess.Has(CapabilityLive))
		assert.True(t, sess.Has(CapabilityArchive))
		assert.True(t, sess.ExpiresAt.Equal(creds.ExpiresAt))
	})

	t.Run("account with no entitlements gets no flags", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(initSessionResponse())
		}))
		t.Cleanup(server.Close)

		client := NewClient(Config{GatewayURL: server.URL})
		sess, err := client.Exchange(context.Background(), testCreds())

		require.NoError(t, err)
		assert.False(t, sess.Has(CapabilityLive))
		assert.False(t, sess.Has(CapabilityArchive))
	})

	t.Run("archive-only entitlement excludes live", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(initSessionResponse("EXECMLB"))
		}))
		t.Cleanup(server.Close)

		client := NewClient(Config{GatewayURL: server.URL})
		sess, err := client.Exchange(context.Background(), testCreds())

		require.NoError(t, err)
		assert.False(t, sess.Has(CapabilityLive))
		assert.True(t, sess.Has(CapabilityArchive))
	})

	t.Run("401 yields ErrUnauthorized", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		t.Cleanup(server.Close)

		client := NewClient(Config{GatewayURL: server.URL})
		_, err := client.Exchange(context.Background(), testCreds())

		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("graphql UNAUTHENTICATED error yields ErrUnauthorized", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"errors": []map[string]any{{
					"message":    "token is expired",
					"extensions": map[string]string{"code": "UNAUTHENTICATED"},
				}},
			})
		}))
		t.Cleanup(server.Close)

		client := NewClient(Config{GatewayURL: server.URL})
		_, err := client.Exchange(context.Background(), testCreds())

		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("missing session id is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"initSession": map[string]any{}}})
		}))
		t.Cleanup(server.Close)

		client := NewClient(Config{GatewayURL: server.URL})
		_, err := client.Exchange(context.Background(), testCreds())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing session id")
	})
}
