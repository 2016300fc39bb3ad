// Package schedule queries the public MLB stats API for game listings.
// No authentication is involved; the schedule commands work logged out.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"github.com/seventhstretch/mlbv/internal/httpx"
)

const defaultStatsURL = "https://statsapi.mlb.com/api/v1/schedule"

// hydrate asks the stats API to inline broadcasts and linescores so a single
// round trip covers the whole schedule table.
const hydrate = "broadcasts(all),game(content(media(epg)),editorial(preview,recap)),linescore,team,probablePitcher(note)"

// Client fetches schedules from the stats API. Each call is a fresh network
// round trip; results are never cached.
type Client struct {
	http     *httpx.Client
	logger   *slog.Logger
	statsURL string
}

// Config configures a schedule client.
type Config struct {
	HTTP     *httpx.Client
	Logger   *slog.Logger
	StatsURL string
}

// NewClient creates a new schedule client.
func NewClient(cfg Config) *Client {
	if cfg.HTTP == nil {
		cfg.HTTP = httpx.NewClient(httpx.DefaultClientConfig())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StatsURL == "" {
		cfg.StatsURL = defaultStatsURL
	}
	return &Client{http: cfg.HTTP, logger: cfg.Logger, statsURL: cfg.StatsURL}
}

// GetSchedule returns all games between from and to inclusive, ordered by
// date then scheduled start time. A malformed game entry is skipped with a
// warning instead of failing the whole batch.
func (c *Client) GetSchedule(ctx context.Context, from, to time.Time) ([]Game, error) {
	q := url.Values{}
	q.Set("sportId", "1")
	q.Set("startDate", from.Format("2006-01-02"))
	q.Set("endDate", to.Format("2006-01-02"))
	q.Set("hydrate", hydrate)

	resp, err := c.http.Get(ctx, c.statsURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("schedule fetch returned status %d", resp.StatusCode())
	}

	// Each game is decoded individually so one bad entry degrades to a
	// logged omission rather than a failed batch.
	var body struct {
		Dates []struct {
			Date  string            `json:"date"`
			Games []json.RawMessage `json:"games"`
		} `json:"dates"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("failed to parse schedule response: %w", err)
	}

	var games []Game
	for _, day := range body.Dates {
		date, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			c.logger.Warn("skipping schedule day with unparseable date", "date", day.Date)
			continue
		}
		for _, raw := range day.Games {
			game, err := decodeGame(raw, date)
			if err != nil {
				c.logger.Warn("skipping malformed game entry", "date", day.Date, "error", err)
				continue
			}
			games = append(games, game)
		}
	}

	sort.SliceStable(games, func(i, j int) bool {
		if !games[i].Date.Equal(games[j].Date) {
			return games[i].Date.Before(games[j].Date)
		}
		return games[i].StartTime.Before(games[j].StartTime)
	})

	return games, nil
}

// GetDay returns the games for a single date.
func (c *Client) GetDay(ctx context.Context, date time.Time) ([]Game, error) {
	return c.GetSchedule(ctx, date, date)
}

// gameEntry is the wire shape of one schedule game.
type gameEntry struct {
	GamePk   int64  `json:"gamePk"`
	GameDate string `json:"gameDate"`
	Status   struct {
		AbstractGameState string `json:"abstractGameState"`
		DetailedState     string `json:"detailedState"`
	} `json:"status"`
	Teams struct {
		Home sideEntry `json:"home"`
		Away sideEntry `json:"away"`
	} `json:"teams"`
	Linescore struct {
		Teams struct {
			Home struct {
				Runs int `json:"runs"`
			} `json:"home"`
			Away struct {
				Runs int `json:"runs"`
			} `json:"away"`
		} `json:"teams"`
	} `json:"linescore"`
	Broadcasts []struct {
		Type                  string `json:"type"`
		CallSign              string `json:"callSign"`
		IsNational            bool   `json:"isNational"`
		HomeAway              string `json:"homeAway"`
		AvailableForStreaming bool   `json:"availableForStreaming"`
	} `json:"broadcasts"`
	GamesInSeries    int `json:"gamesInSeries"`
	SeriesGameNumber int `json:"seriesGameNumber"`
}

type sideEntry struct {
	Team struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"team"`
}

func decodeGame(raw json.RawMessage, date time.Time) (Game, error) {
	var e gameEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Game{}, err
	}
	if e.GamePk == 0 {
		return Game{}, fmt.Errorf("missing gamePk")
	}
	if e.Teams.Home.Team.Name == "" || e.Teams.Away.Team.Name == "" {
		return Game{}, fmt.Errorf("missing team names for game %d", e.GamePk)
	}

	startTime, err := time.Parse(time.RFC3339, e.GameDate)
	if err != nil {
		return Game{}, fmt.Errorf("unparseable start time for game %d: %w", e.GamePk, err)
	}

	game := Game{
		GamePk:    e.GamePk,
		Date:      date,
		StartTime: startTime,
		Status:    parseStatus(e.Status.AbstractGameState, e.Status.DetailedState),
		Home: TeamSide{
			ID:   e.Teams.Home.Team.ID,
			Name: e.Teams.Home.Team.Name,
			Runs: e.Linescore.Teams.Home.Runs,
		},
		Away: TeamSide{
			ID:   e.Teams.Away.Team.ID,
			Name: e.Teams.Away.Team.Name,
			Runs: e.Linescore.Teams.Away.Runs,
		},
		SeriesGameNumber: e.SeriesGameNumber,
		GamesInSeries:    e.GamesInSeries,
	}

	for _, b := range e.Broadcasts {
		feedType := FeedNational
		if !b.IsNational {
			switch b.HomeAway {
			case "home":
				feedType = FeedHome
			case "away":
				feedType = FeedAway
			}
		}
		game.Broadcasts = append(game.Broadcasts, Broadcast{
			Type:       feedType,
			CallSign:   b.CallSign,
			IsTV:       b.Type == "TV",
			Streamable: b.AvailableForStreaming,
		})
	}

	return game, nil
}

// parseStatus maps the stats API state pair onto the coarse status enum.
// Postponed and Suspended hide inside detailedState under a "Final" or
// "Preview" abstract state.
func parseStatus(abstract, detailed string) GameStatus {
	switch detailed {
	case "Postponed":
		return StatusPostponed
	case "Suspended":
		return StatusSuspended
	}
	switch abstract {
	case "Live":
		return StatusLive
	case "Final":
		return StatusFinal
	default:
		return StatusScheduled
	}
}
