package schedule

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scheduleFixture = `{
  "dates": [
    {
      "date": "2023-07-04",
      "games": [
        {
          "gamePk": 716463,
          "gameDate": "2023-07-04T23:05:00Z",
          "status": {"abstractGameState": "Final", "detailedState": "Final"},
          "teams": {
            "home": {"team": {"id": 120, "name": "Washington Nationals"}},
            "away": {"team": {"id": 113, "name": "Cincinnati Reds"}}
          },
          "linescore": {"teams": {"home": {"runs": 6}, "away": {"runs": 2}}},
          "broadcasts": [
            {"type": "TV", "callSign": "MASN", "isNational": false, "homeAway": "home", "availableForStreaming": true},
            {"type": "TV", "callSign": "BSOH", "isNational": false, "homeAway": "away", "availableForStreaming": true},
            {"type": "AM", "callSign": "WJFK", "isNational": false, "homeAway": "home", "availableForStreaming": false}
          ],
          "gamesInSeries": 3,
          "seriesGameNumber": 2
        },
        {
          "gamePk": 716460,
          "gameDate": "2023-07-04T15:05:00Z",
          "status": {"abstractGameState": "Final", "detailedState": "Final"},
          "teams": {
            "home": {"team": {"id": 110, "name": "Baltimore Orioles"}},
            "away": {"team": {"id": 147, "name": "New York Yankees"}}
          },
          "linescore": {"teams": {"home": {"runs": 1}, "away": {"runs": 4}}},
          "broadcasts": [],
          "gamesInSeries": 3,
          "seriesGameNumber": 1
        },
        {
          "gamePk": 716465,
          "gameDate": "2023-07-04T20:10:00Z",
          "status": {"abstractGameState": "Final", "detailedState": "Postponed"},
          "teams": {
            "home": {"team": {"id": 115, "name": "Colorado Rockies"}},
            "away": {"team": {"id": 117, "name": "Houston Astros"}}
          },
          "linescore": {"teams": {"home": {}, "away": {}}},
          "broadcasts": [],
          "gamesInSeries": 3,
          "seriesGameNumber": 1
        },
        {
          "gamePk": 716999,
          "gameDate": "not-a-timestamp",
          "status": {"abstractGameState": "Final", "detailedState": "Final"},
          "teams": {
            "home": {"team": {"id": 1, "name": "Somewhere"}},
            "away": {"team": {"id": 2, "name": "Elsewhere"}}
          }
        }
      ]
    }
  ]
}`

func fixtureServer(t *testing.T, body string) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "1", q.Get("sportId"))
		assert.NotEmpty(t, q.Get("hydrate"))
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return NewClient(Config{StatsURL: server.URL})
}

func TestGetSchedule(t *testing.T) {
	day := time.Date(2023, 7, 4, 0, 0, 0, 0, time.UTC)

	t.Run("orders games by start time within a date", func(t *testing.T) {
		client := fixtureServer(t, scheduleFixture)
		games, err := client.GetDay(context.Background(), day)

		require.NoError(t, err)
		require.Len(t, games, 3) // malformed entry dropped

		assert.Equal(t, int64(716460), games[0].GamePk)
		assert.Equal(t, int64(716465), games[1].GamePk)
		assert.Equal(t, int64(716463), games[2].GamePk)
	})

	t.Run("malformed game entry is skipped, not fatal", func(t *testing.T) {
		client := fixtureServer(t, scheduleFixture)
		games, err := client.GetDay(context.Background(), day)

		require.NoError(t, err)
		for _, g := range games {
			assert.NotEqual(t, int64(716999), g.GamePk)
		}
	})

	t.Run("postponed game has status Postponed and no streamable feeds", func(t *testing.T) {
		client := fixtureServer(t, scheduleFixture)
		games, err := client.GetDay(context.Background(), day)

		require.NoError(t, err)
		postponed := games[1]
		assert.Equal(t, StatusPostponed, postponed.Status)
		assert.Empty(t, postponed.Broadcasts)
	})

	t.Run("broadcasts map to typed feeds", func(t *testing.T) {
		client := fixtureServer(t, scheduleFixture)
		games, err := client.GetDay(context.Background(), day)

		require.NoError(t, err)
		nats := games[2]
		require.Len(t, nats.Broadcasts, 3)
		assert.Equal(t, FeedHome, nats.Broadcasts[0].Type)
		assert.True(t, nats.Broadcasts[0].Streamable)
		assert.Equal(t, FeedAway, nats.Broadcasts[1].Type)
		assert.False(t, nats.Broadcasts[2].IsTV)
	})

	t.Run("linescore runs are carried", func(t *testing.T) {
		client := fixtureServer(t, scheduleFixture)
		games, err := client.GetDay(context.Background(), day)

		require.NoError(t, err)
		assert.Equal(t, 6, games[2].Home.Runs)
		assert.Equal(t, 2, games[2].Away.Runs)
	})

	t.Run("empty dates mean no games", func(t *testing.T) {
		client := fixtureServer(t, `{"dates": []}`)
		games, err := client.GetDay(context.Background(), day)

		require.NoError(t, err)
		assert.Empty(t, games)
	})

	t.Run("server error fails the batch", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		t.Cleanup(server.Close)

		client := NewClient(Config{StatsURL: server.URL})
		_, err := client.GetDay(context.Background(), day)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})
}

func TestParseStatus(t *testing.T) {
	cases := []struct {
		abstract, detailed string
		want               GameStatus
	}{
		{"Preview", "Scheduled", StatusScheduled},
		{"Live", "In Progress", StatusLive},
		{"Final", "Final", StatusFinal},
		{"Final", "Postponed", StatusPostponed},
		{"Preview", "Suspended", StatusSuspended},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%s", tc.abstract, tc.detailed), func(t *testing.T) {
			assert.Equal(t, tc.want, parseStatus(tc.abstract, tc.detailed))
		})
	}
}

func TestParseFeedType(t *testing.T) {
	t.Run("accepts known feed names case-insensitively", func(t *testing.T) {
		ft, err := ParseFeedType("Home")
		require.NoError(t, err)
		assert.Equal(t, FeedHome, ft)
	})

	t.Run("rejects unknown names", func(t *testing.T) {
		_, err := ParseFeedType("overhead-drone")
		require.Error(t, err)
	})
}
