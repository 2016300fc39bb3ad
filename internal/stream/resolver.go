// Package stream lists available feeds for a game and resolves a feed to a
// signed playback manifest URL via the MLB media gateway.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/seventhstretch/mlbv/internal/entitlement"
	"github.com/seventhstretch/mlbv/internal/httpx"
	"github.com/seventhstretch/mlbv/internal/schedule"
)

const defaultGatewayURL = "https://media-gateway.mlb.com/graphql"

var (
	// ErrBlackout: the feed is regionally restricted for this viewer.
	// Surfaced immediately; no fallback feed is attempted automatically.
	ErrBlackout = errors.New("feed is blacked out in your region")

	// ErrNotYetAvailable: the game is not live yet and no archive exists.
	ErrNotYetAvailable = errors.New("stream is not yet available")

	// ErrEntitlementExpired: the content token passed validation when the
	// call started but the gateway rejected it. The session layer refreshes
	// once, then fails hard.
	ErrEntitlementExpired = errors.New("content session rejected by media gateway")
)

// MediaState is the playability of a single feed.
type MediaState string

const (
	StateAvailable       MediaState = "available"
	StateBlackout        MediaState = "blackout"
	StateNotYetAvailable MediaState = "not_yet_available"
)

// MediaKind distinguishes video from radio feeds.
type MediaKind string

const (
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
)

// Feed is one playable broadcast of a game as reported by the gateway.
type Feed struct {
	MediaID  string
	Type     schedule.FeedType
	Kind     MediaKind
	State    MediaState
	Language string
	CallSign string
}

// PlaybackManifestRef is a signed, short-lived manifest URL. Never persisted
// and never reused: resolve immediately before handing off to the player.
type PlaybackManifestRef struct {
	URL        string
	ValidUntil time.Time
}

const contentSearchQuery = `query contentSearch($query: String!, $limit: Int) {
    contentSearch(query: $query, limit: $limit) {
        total
        content {
            contentId
            mediaId
            contentType
            feedType
            callSign
            language
            contentRestrictions
            mediaState {
                state
                mediaType
                contentExperience
            }
            fields {
                name
                value
            }
        }
    }
}`

const initPlaybackSessionQuery = `mutation initPlaybackSession(
    $adCapabilities: [AdExperienceType]
    $mediaId: String!
    $deviceId: String!
    $sessionId: String!
    $quality: PlaybackQuality
) {
    initPlaybackSession(
        adCapabilities: $adCapabilities
        mediaId: $mediaId
        deviceId: $deviceId
        sessionId: $sessionId
        quality: $quality
    ) {
        playbackSessionId
        playback {
            url
            token
            expiration
            cdn
        }
    }
}`

// Resolver queries feeds and manifest URLs from the media gateway.
type Resolver struct {
	http       *httpx.Client
	logger     *slog.Logger
	gatewayURL string
}

// Config configures a stream resolver.
type Config struct {
	HTTP       *httpx.Client
	Logger     *slog.Logger
	GatewayURL string
}

// NewResolver creates a new stream resolver.
func NewResolver(cfg Config) *Resolver {
	if cfg.HTTP == nil {
		cfg.HTTP = httpx.NewClient(httpx.DefaultClientConfig())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = defaultGatewayURL
	}
	return &Resolver{http: cfg.HTTP, logger: cfg.Logger, gatewayURL: cfg.GatewayURL}
}

// ListFeeds returns the feeds for a game, ordered deterministically:
// home, then away, then national for live games, video before audio.
func (r *Resolver) ListFeeds(ctx context.Context, gamePk int64, session *entitlement.ContentSession) ([]Feed, error) {
	searchQuery := fmt.Sprintf(
		"GamePk=%d AND ContentType=\"GAME\" RETURNING HomeTeamId, HomeTeamName, AwayTeamId, AwayTeamName, Date, MediaType, ContentExperience, MediaState, PartnerCallLetters",
		gamePk)

	body := map[string]any{
		"operationName": "contentSearch",
		"query":         contentSearchQuery,
		"variables": map[string]any{
			"limit": 16,
			"query": searchQuery,
		},
	}

	resp, err := r.http.Post(ctx, r.gatewayURL, body, entitlement.GatewayHeaders(session.AccessToken))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return nil, ErrEntitlementExpired
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("content search returned status %d", resp.StatusCode())
	}

	var result struct {
		Data struct {
			ContentSearch struct {
				Content []feedEntry `json:"content"`
			} `json:"contentSearch"`
		} `json:"data"`
		Errors []gatewayError `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse content search response: %w", err)
	}
	if len(result.Errors) > 0 {
		if result.Errors[0].unauthorized() {
			return nil, ErrEntitlementExpired
		}
		return nil, fmt.Errorf("content search error: %s", result.Errors[0].Message)
	}

	feeds := make([]Feed, 0, len(result.Data.ContentSearch.Content))
	for _, e := range result.Data.ContentSearch.Content {
		feeds = append(feeds, e.toFeed())
	}
	sortFeeds(feeds)

	return feeds, nil
}

// Resolve requests a signed manifest URL for a feed. The feed's own media
// state is checked first: a blacked-out or not-yet-available feed fails
// without issuing any network call.
func (r *Resolver) Resolve(ctx context.Context, feed Feed, session *entitlement.ContentSession) (*PlaybackManifestRef, error) {
	switch feed.State {
	case StateBlackout:
		return nil, ErrBlackout
	case StateNotYetAvailable:
		return nil, ErrNotYetAvailable
	}

	body := map[string]any{
		"operationName": "initPlaybackSession",
		"query":         initPlaybackSessionQuery,
		"variables": map[string]any{
			"adCapabilities": []string{"GOOGLE_STANDALONE_AD_PODS"},
			"mediaId":        feed.MediaID,
			"deviceId":       session.DeviceID,
			"sessionId":      session.SessionID,
			"quality":        "PLACEHOLDER",
		},
	}

	resp, err := r.http.Post(ctx, r.gatewayURL, body, entitlement.GatewayHeaders(session.AccessToken))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return nil, ErrEntitlementExpired
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("init playback session returned status %d", resp.StatusCode())
	}

	var result struct {
		Data struct {
			InitPlaybackSession struct {
				Playback struct {
					URL        string `json:"url"`
					Expiration string `json:"expiration"`
				} `json:"playback"`
			} `json:"initPlaybackSession"`
		} `json:"data"`
		Errors []gatewayError `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse playback session response: %w", err)
	}
	if len(result.Errors) > 0 {
		first := result.Errors[0]
		switch {
		case first.blackout():
			return nil, ErrBlackout
		case first.unauthorized():
			return nil, ErrEntitlementExpired
		default:
			return nil, fmt.Errorf("init playback session error: %s", first.Message)
		}
	}
	if result.Data.InitPlaybackSession.Playback.URL == "" {
		return nil, fmt.Errorf("playback session response missing manifest url")
	}

	ref := &PlaybackManifestRef{URL: result.Data.InitPlaybackSession.Playback.URL}
	if result.Data.InitPlaybackSession.Playback.Expiration != "" {
		if t, err := time.Parse(time.RFC3339, result.Data.InitPlaybackSession.Playback.Expiration); err == nil {
			ref.ValidUntil = t
		}
	}

	r.logger.Debug("resolved playback manifest", "media_id", feed.MediaID, "valid_until", ref.ValidUntil)
	return ref, nil
}

// SelectFeed picks the best feed from a listing: the preferred type first,
// national as fallback, then an audio feed of the preferred type when video
// is blacked out. Returns false when nothing playable matches.
func SelectFeed(feeds []Feed, preferred schedule.FeedType, kind MediaKind) (Feed, bool) {
	prefs := []struct {
		kind MediaKind
		typ  schedule.FeedType
	}{
		{kind, preferred},
		{kind, schedule.FeedNational},
		{KindAudio, preferred},
	}

	for _, p := range prefs {
		for _, f := range feeds {
			if f.Type == p.typ && f.Kind == p.kind && f.State == StateAvailable && f.Language == "en" {
				return f, true
			}
		}
	}

	// Last resort: any playable feed at all.
	for _, f := range feeds {
		if f.State == StateAvailable {
			return f, true
		}
	}
	return Feed{}, false
}

type feedEntry struct {
	MediaID             string   `json:"mediaId"`
	FeedType            string   `json:"feedType"`
	CallSign            string   `json:"callSign"`
	Language            string   `json:"language"`
	ContentRestrictions []string `json:"contentRestrictions"`
	MediaState          struct {
		State     string `json:"state"`
		MediaType string `json:"mediaType"`
	} `json:"mediaState"`
}

// toFeed maps gateway wire values onto the feed model. Blackout arrives as a
// content restriction; MEDIA_OFF means the broadcast has not started.
func (e feedEntry) toFeed() Feed {
	f := Feed{
		MediaID:  e.MediaID,
		CallSign: e.CallSign,
		Language: e.Language,
	}

	switch strings.ToUpper(e.FeedType) {
	case "HOME":
		f.Type = schedule.FeedHome
	case "AWAY":
		f.Type = schedule.FeedAway
	default:
		f.Type = schedule.FeedNational
	}

	if strings.ToUpper(e.MediaState.MediaType) == "AUDIO" {
		f.Kind = KindAudio
	} else {
		f.Kind = KindVideo
	}

	f.State = StateAvailable
	for _, r := range e.ContentRestrictions {
		if strings.EqualFold(r, "BLACKOUT") {
			f.State = StateBlackout
		}
	}
	if f.State == StateAvailable && strings.ToUpper(e.MediaState.State) == "MEDIA_OFF" {
		f.State = StateNotYetAvailable
	}

	return f
}

// feedRank orders home before away before national; video before audio.
var feedRank = map[schedule.FeedType]int{
	schedule.FeedHome:     0,
	schedule.FeedAway:     1,
	schedule.FeedNational: 2,
}

func sortFeeds(feeds []Feed) {
	sort.SliceStable(feeds, func(i, j int) bool {
		if feeds[i].Kind != feeds[j].Kind {
			return feeds[i].Kind == KindVideo
		}
		return feedRank[feeds[i].Type] < feedRank[feeds[j].Type]
	})
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

func (e gatewayError) blackout() bool {
	return strings.Contains(strings.ToUpper(e.Extensions.Code), "BLACKOUT") ||
		strings.Contains(strings.ToUpper(e.Message), "BLACKOUT")
}
