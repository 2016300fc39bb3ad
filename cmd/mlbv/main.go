package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/seventhstretch/mlbv/internal/auth"
	"github.com/seventhstretch/mlbv/internal/auth/store"
	"github.com/seventhstretch/mlbv/internal/config"
	"github.com/seventhstretch/mlbv/internal/entitlement"
	"github.com/seventhstretch/mlbv/internal/httpx"
	"github.com/seventhstretch/mlbv/internal/player"
	"github.com/seventhstretch/mlbv/internal/schedule"
	"github.com/seventhstretch/mlbv/internal/session"
	"github.com/seventhstretch/mlbv/internal/stream"
	"github.com/seventhstretch/mlbv/internal/teams"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "none"

	// Global flags
	cfgFile  string
	logLevel string
	noColor  bool

	// Global config and logger
	cfg    *config.Config
	logger *slog.Logger
)

// Exit codes. Each user-visible failure class gets its own so scripts can
// tell "log in again" from "wait for first pitch" from "try again later".
const (
	exitFailure       = 1
	exitLoginRequired = 2
	exitNoSub         = 3
	exitBlackout      = 4
	exitNetwork       = 5
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the typed error taxonomy onto distinct process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, session.ErrLoginRequired),
		errors.Is(err, auth.ErrRefreshExpired),
		errors.Is(err, auth.ErrInvalidGrant),
		errors.Is(err, auth.ErrAuthenticationFailed):
		return exitLoginRequired
	case errors.Is(err, entitlement.ErrNoSubscription):
		return exitNoSub
	case errors.Is(err, stream.ErrBlackout):
		return exitBlackout
	case httpx.IsNetworkError(err):
		return exitNetwork
	default:
		return exitFailure
	}
}

var rootCmd = &cobra.Command{
	Use:   "mlbv",
	Short: "Watch MLB.tv streams and browse schedules from the command line",
	Long: `mlbv resolves MLB.tv streams to playable manifest URLs and hands them to
an external media player (mpv by default). Schedules come from the public
stats API and need no account; streaming needs an MLB.tv login.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.InitializeDirs(); err != nil {
			return fmt.Errorf("failed to initialize directories: %w", err)
		}

		var err error
		cfg, _, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if noColor {
			cfg.Logging.Color = false
		}

		logger, err = config.InitLogger(&cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default behavior: today's schedule.
		return printSchedule(cmd.Context(), time.Now(), time.Now())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/mlbv/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored log output")

	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(feedsCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)

	scheduleCmd.Flags().StringVarP(&dateFlag, "date", "d", "", "date to fetch (YYYY-MM-DD)")
	scheduleCmd.Flags().Int64Var(&daysFlag, "days", 0, "number of days to fetch; negative goes back from today")
	scheduleCmd.Flags().BoolVar(&yesterdayFlag, "yesterday", false, "shortcut: yesterday's games")
	scheduleCmd.Flags().BoolVar(&tomorrowFlag, "tomorrow", false, "shortcut: tomorrow's games")

	playCmd.Flags().StringVarP(&teamFlag, "team", "t", "", "team code (3-letter, e.g. wsh, nym, bos)")
	playCmd.Flags().StringVarP(&dateFlag, "date", "d", "", "game date (defaults to today)")
	playCmd.Flags().StringVarP(&feedFlag, "feed", "f", "", "preferred feed (home, away, national)")
	playCmd.Flags().BoolVar(&audioFlag, "audio", false, "play the radio broadcast instead of video")
	playCmd.Flags().IntVarP(&gameNumberFlag, "game-number", "g", 0, "game 1 or 2 for doubleheaders")
	playCmd.Flags().BoolVar(&urlOnlyFlag, "url", false, "print the manifest URL instead of launching the player")
	_ = playCmd.MarkFlagRequired("team")

	feedsCmd.Flags().StringVarP(&teamFlag, "team", "t", "", "team code")
	feedsCmd.Flags().StringVarP(&dateFlag, "date", "d", "", "game date (defaults to today)")
	_ = feedsCmd.MarkFlagRequired("team")

	loginCmd.Flags().BoolVar(&browserFlag, "browser", false, "log in by pasting a code from the browser instead of using stored credentials")
}

var (
	dateFlag       string
	daysFlag       int64
	yesterdayFlag  bool
	tomorrowFlag   bool
	teamFlag       string
	feedFlag       string
	audioFlag      bool
	gameNumberFlag int
	urlOnlyFlag    bool
	browserFlag    bool
)

// clients bundles everything a streaming command needs.
type clients struct {
	schedule *schedule.Client
	resolver *stream.Resolver
	manager  *session.Manager
	store    *store.Store
	identity *auth.IdentityClient
}

func buildClients() *clients {
	httpClient := httpx.NewClient(httpx.ClientConfig{
		Timeout:   cfg.API.Timeout,
		UserAgent: cfg.API.UserAgent,
		Debug:     cfg.Advanced.Debug,
		Logger:    logger,
	})

	identity := auth.NewIdentityClient(auth.IdentityConfig{HTTP: httpClient, Logger: logger})
	entClient := entitlement.NewClient(entitlement.Config{HTTP: httpClient, Logger: logger})
	credStore := store.New(config.SessionFile(), logger)

	manager := session.NewManager(session.Config{
		Store:        credStore,
		Identity:     identity,
		Entitlements: entClient,
		Login:        headlessLogin(identity),
		Logger:       logger,
	})

	return &clients{
		schedule: schedule.NewClient(schedule.Config{HTTP: httpClient, Logger: logger}),
		resolver: stream.NewResolver(stream.Config{HTTP: httpClient, Logger: logger}),
		manager:  manager,
		store:    credStore,
		identity: identity,
	}
}

// headlessLogin returns a LoginFunc backed by the config credentials, or nil
// when none are configured so an absent session surfaces as login-required.
func headlessLogin(identity *auth.IdentityClient) session.LoginFunc {
	if cfg.Credentials.Username == "" || cfg.Credentials.Password == "" {
		return nil
	}
	return func(ctx context.Context) (*auth.Credentials, error) {
		return identity.Login(ctx, cfg.Credentials.Username, cfg.Credentials.Password)
	}
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show the schedule for a date or range (no login needed)",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := resolveDate()
		if err != nil {
			return err
		}
		to := from
		if daysFlag != 0 {
			offset := time.Now().AddDate(0, 0, int(daysFlag))
			if offset.Before(from) {
				from, to = offset, from
			} else {
				to = offset
			}
		}
		return printSchedule(cmd.Context(), from, to)
	},
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Resolve a game stream and launch the media player",
	RunE: func(cmd *cobra.Command, args []string) error {
		team, err := teams.Lookup(teamFlag)
		if err != nil {
			return err
		}
		date, err := resolveDate()
		if err != nil {
			return err
		}

		c := buildClients()
		ctx := cmd.Context()

		game, err := findGame(ctx, c, team, date)
		if err != nil {
			return err
		}

		capability := entitlement.CapabilityArchive
		if game.IsLive() {
			capability = entitlement.CapabilityLive
		}

		// Resolve inside WithSession so a mid-call token rejection gets the
		// single documented refresh-and-retry.
		var ref *stream.PlaybackManifestRef
		err = c.manager.WithSession(ctx, capability, func(s *entitlement.ContentSession) error {
			feeds, err := c.resolver.ListFeeds(ctx, game.GamePk, s)
			if err != nil {
				return err
			}

			feed, err := chooseFeed(feeds, game, team)
			if err != nil {
				return err
			}

			ref, err = c.resolver.Resolve(ctx, feed, s)
			return err
		})
		if err != nil {
			return err
		}

		if urlOnlyFlag {
			fmt.Println(ref.URL)
			return nil
		}

		// Manifest URLs are short-lived: hand off immediately.
		return player.NewLauncher(cfg.Stream.Player, logger).Play(ref.URL)
	},
}

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "List the available feeds for a game",
	RunE: func(cmd *cobra.Command, args []string) error {
		team, err := teams.Lookup(teamFlag)
		if err != nil {
			return err
		}
		date, err := resolveDate()
		if err != nil {
			return err
		}

		c := buildClients()
		ctx := cmd.Context()

		game, err := findGame(ctx, c, team, date)
		if err != nil {
			return err
		}

		return c.manager.WithSession(ctx, "", func(s *entitlement.ContentSession) error {
			feeds, err := c.resolver.ListFeeds(ctx, game.GamePk, s)
			if err != nil {
				return err
			}
			if len(feeds) == 0 {
				fmt.Println("No feeds for this game.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FEED\tKIND\tSTATE\tCALL SIGN")
			for _, f := range feeds {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Type, f.Kind, f.State, f.CallSign)
			}
			return w.Flush()
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to MLB.tv and store the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := buildClients()
		ctx := cmd.Context()

		var creds *auth.Credentials
		var err error
		if browserFlag {
			creds, err = browserLogin(ctx, c.identity)
		} else {
			username, password, perr := resolveAccount()
			if perr != nil {
				return perr
			}
			creds, err = c.identity.Login(ctx, username, password)
		}
		if err != nil {
			return err
		}

		if err := c.store.Save(creds); err != nil {
			return err
		}

		fmt.Printf("Logged in. Session stored at %s\n", c.store.Path())
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := buildClients()
		if err := c.manager.Logout(); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := buildClients()
		creds, err := c.store.Load()
		if err != nil {
			return err
		}
		if creds == nil {
			fmt.Println("Not logged in.")
			return nil
		}

		if creds.ExpiresWithin(0) {
			fmt.Printf("Logged in; access token expired %s (will refresh on next use).\n",
				humanize.Time(creds.ExpiresAt))
		} else {
			fmt.Printf("Logged in; access token expires %s.\n", humanize.Time(creds.ExpiresAt))
		}
		return nil
	},
}

// browserLogin prints the authorization URL, opens it, and reads the
// redirected code pasted back by the user. Bounded wait comes from the
// command context rather than an open-ended prompt loop.
func browserLogin(ctx context.Context, identity *auth.IdentityClient) (*auth.Credentials, error) {
	req, err := identity.BeginLogin(ctx)
	if err != nil {
		return nil, err
	}

	fmt.Println("Opening browser for MLB.tv login...")
	fmt.Printf("If it does not open, visit:\n  %s\n", req.URL)
	if err := browser.OpenURL(req.URL); err != nil {
		logger.Warn("failed to open browser", "error", err)
	}

	fmt.Print("Paste the authorization code from the redirect URL: ")

	codeCh := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			codeCh <- strings.TrimSpace(scanner.Text())
		}
		close(codeCh)
	}()

	select {
	case code, ok := <-codeCh:
		if !ok || code == "" {
			return nil, fmt.Errorf("no authorization code entered")
		}
		return identity.CompleteLogin(ctx, code, req.Verifier)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolveAccount returns the configured account or prompts for it.
func resolveAccount() (string, string, error) {
	username := cfg.Credentials.Username
	password := cfg.Credentials.Password
	reader := bufio.NewReader(os.Stdin)

	if username == "" {
		fmt.Print("MLB.tv username: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", "", fmt.Errorf("failed to read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}
	if password == "" {
		fmt.Print("MLB.tv password: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", "", fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimSpace(line)
	}
	if username == "" || password == "" {
		return "", "", fmt.Errorf("username and password are required")
	}
	return username, password, nil
}

// findGame fetches the day's schedule and selects the team's game, handling
// doubleheaders: an explicit --game-number wins, otherwise a live game two
// beats game one.
func findGame(ctx context.Context, c *clients, team teams.Team, date time.Time) (*schedule.Game, error) {
	games, err := c.schedule.GetDay(ctx, date)
	if err != nil {
		return nil, err
	}

	var teamGames []schedule.Game
	for _, g := range games {
		if g.Involves(team.Name) {
			teamGames = append(teamGames, g)
		}
	}

	switch len(teamGames) {
	case 0:
		return nil, fmt.Errorf("no %s game on %s", team.Name, date.Format("2006-01-02"))
	case 1:
		return &teamGames[0], nil
	default:
		if gameNumberFlag != 0 {
			if gameNumberFlag < 1 || gameNumberFlag > len(teamGames) {
				return nil, fmt.Errorf("invalid game number %d; doubleheader has %d games", gameNumberFlag, len(teamGames))
			}
			return &teamGames[gameNumberFlag-1], nil
		}
		if teamGames[1].IsLive() {
			logger.Info("game 2 of the doubleheader is live; selecting it")
			return &teamGames[1], nil
		}
		logger.Info("doubleheader detected; defaulting to game 1")
		return &teamGames[0], nil
	}
}

// chooseFeed applies the user's feed preference, defaulting to the team's
// side of the matchup, with the resolver's fallback order behind it.
func chooseFeed(feeds []stream.Feed, game *schedule.Game, team teams.Team) (stream.Feed, error) {
	preferred := schedule.FeedType(cfg.Stream.Feed)
	if feedFlag != "" {
		var err error
		preferred, err = schedule.ParseFeedType(feedFlag)
		if err != nil {
			return stream.Feed{}, err
		}
	}
	if preferred == "" {
		if game.Home.Name == team.Name {
			preferred = schedule.FeedHome
		} else {
			preferred = schedule.FeedAway
		}
	}

	kind := stream.KindVideo
	if audioFlag {
		kind = stream.KindAudio
	}

	feed, ok := stream.SelectFeed(feeds, preferred, kind)
	if !ok {
		// Distinguish "nothing playable" reasons for an actionable message.
		for _, f := range feeds {
			if f.State == stream.StateBlackout {
				return stream.Feed{}, stream.ErrBlackout
			}
		}
		for _, f := range feeds {
			if f.State == stream.StateNotYetAvailable {
				return stream.Feed{}, stream.ErrNotYetAvailable
			}
		}
		return stream.Feed{}, fmt.Errorf("no playable feeds for this game")
	}
	return feed, nil
}

// resolveDate parses --date and the yesterday/tomorrow shortcuts.
func resolveDate() (time.Time, error) {
	today := time.Now()
	switch {
	case dateFlag != "":
		return parseDate(dateFlag)
	case yesterdayFlag:
		return today.AddDate(0, 0, -1), nil
	case tomorrowFlag:
		return today.AddDate(0, 0, 1), nil
	default:
		return today, nil
	}
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "01-02-2006", "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q; expected YYYY-MM-DD", s)
}

// printSchedule fetches and prints the schedule as a plain table, grouped
// by date.
func printSchedule(ctx context.Context, from, to time.Time) error {
	c := buildClients()

	games, err := c.schedule.GetSchedule(ctx, from, to)
	if err != nil {
		return err
	}
	if len(games) == 0 {
		fmt.Println("No games scheduled.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	var lastDate string
	for _, g := range games {
		day := g.Date.Format("2006-01-02 Monday")
		if day != lastDate {
			if lastDate != "" {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "%s\n", day)
			fmt.Fprintln(w, "TIME\tMATCHUP\tSCORE\tSTATE\tFEEDS")
			lastDate = day
		}

		start := g.StartTime.Local().Format("3:04 pm")
		matchup := fmt.Sprintf("%s at %s", g.Away.Name, g.Home.Name)
		score := fmt.Sprintf("%d-%d", g.Away.Runs, g.Home.Runs)

		var feeds []string
		for _, b := range g.Broadcasts {
			if b.IsTV && b.Streamable {
				feeds = append(feeds, string(b.Type))
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", start, matchup, score, g.Status, strings.Join(feeds, ", "))
	}
	return w.Flush()
}
