package schedule

import (
	"fmt"
	"strings"
	"time"
)

// GameStatus is the coarse state of a scheduled game.
type GameStatus string

const (
	StatusScheduled GameStatus = "Scheduled"
	StatusLive      GameStatus = "Live"
	StatusFinal     GameStatus = "Final"
	StatusPostponed GameStatus = "Postponed"
	StatusSuspended GameStatus = "Suspended"
)

// FeedType identifies a broadcast feed.
type FeedType string

const (
	FeedHome      FeedType = "home"
	FeedAway      FeedType = "away"
	FeedNational  FeedType = "national"
	FeedCondensed FeedType = "condensed"
	FeedRecap     FeedType = "recap"
)

// ParseFeedType parses a user-supplied feed name.
func ParseFeedType(s string) (FeedType, error) {
	switch strings.ToLower(s) {
	case "home":
		return FeedHome, nil
	case "away":
		return FeedAway, nil
	case "national":
		return FeedNational, nil
	case "condensed":
		return FeedCondensed, nil
	case "recap":
		return FeedRecap, nil
	default:
		return "", fmt.Errorf("invalid feed type %q; expected home, away, national, condensed or recap", s)
	}
}

// TeamSide is one side of a matchup.
type TeamSide struct {
	ID   int
	Name string
	Runs int
}

// Broadcast is a TV/radio feed advertised in the schedule. The playable
// media ids come from the media gateway, not from here; this only says what
// exists and whether it streams.
type Broadcast struct {
	Type       FeedType
	CallSign   string
	IsTV       bool
	Streamable bool
}

// Game is an immutable schedule snapshot for a single game. Not cached
// across invocations.
type Game struct {
	GamePk           int64
	Date             time.Time // calendar date of the schedule slot
	StartTime        time.Time // scheduled first pitch, UTC
	Status           GameStatus
	Home             TeamSide
	Away             TeamSide
	SeriesGameNumber int
	GamesInSeries    int
	Broadcasts       []Broadcast
}

// Involves reports whether the named team plays in this game.
func (g *Game) Involves(teamName string) bool {
	return g.Home.Name == teamName || g.Away.Name == teamName
}

// IsLive reports whether the game is currently in progress.
func (g *Game) IsLive() bool { return g.Status == StatusLive }
